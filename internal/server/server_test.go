package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrelay/opsrelay/internal/store"
	"github.com/opsrelay/opsrelay/pkg/types"
)

type fakeDispatcher struct {
	outcome types.PollOutcome
	delay   time.Duration
	lastReq types.DispatchRequest
}

func (f *fakeDispatcher) DispatchAndWait(_ context.Context, req types.DispatchRequest) types.PollOutcome {
	f.lastReq = req
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.outcome
}

func successOutcome() types.PollOutcome {
	return types.PollOutcome{
		Completed:    true,
		Conclusion:   types.ConclusionSuccess,
		TokenMatched: true,
		Run:          &types.RemoteRun{ID: 7, Status: types.RunCompleted, Conclusion: types.ConclusionSuccess},
	}
}

func setupTestServer(t *testing.T, d *fakeDispatcher, apiKey string) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	srv := New(types.ServerConfig{Addr: ":0", APIKey: apiKey}, d, st, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "")

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateDispatchAsync(t *testing.T) {
	d := &fakeDispatcher{outcome: successOutcome()}
	ts, st := setupTestServer(t, d, "")

	resp, err := http.Post(ts.URL+"/api/dispatches", "application/json",
		strings.NewReader(`{"target":"Deploy","ref":"main","requester":"alice"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var rec types.DispatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.Token, "a correlation token is minted when absent")
	assert.Equal(t, types.DispatchPending, rec.Status)

	require.Eventually(t, func() bool {
		got, err := st.GetDispatch(context.Background(), rec.ID)
		return err == nil && got.Status == types.DispatchCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := st.GetDispatch(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, types.ConclusionSuccess, got.Outcome.Conclusion)
	assert.NotEmpty(t, got.Summary)
	assert.Equal(t, rec.Token, d.lastReq.CorrelationToken)
}

func TestCreateDispatchSynchronous(t *testing.T) {
	d := &fakeDispatcher{outcome: successOutcome()}
	ts, _ := setupTestServer(t, d, "")

	resp, err := http.Post(ts.URL+"/api/dispatches?wait=true", "application/json",
		strings.NewReader(`{"target":"Deploy","correlationToken":"abc-123"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec types.DispatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, types.DispatchCompleted, rec.Status)
	assert.Equal(t, "abc-123", rec.Token)
	require.NotNil(t, rec.Outcome)
	assert.True(t, rec.Outcome.Completed)
}

func TestCreateDispatchFailureStatuses(t *testing.T) {
	tests := []struct {
		name     string
		outcome  types.PollOutcome
		expected types.DispatchStatus
	}{
		{"timed out", types.PollOutcome{TimedOut: true, FailureCategory: types.FailureTimeout}, types.DispatchTimedOut},
		{"denied", types.PollOutcome{FailureCategory: types.FailurePermissionDenied, Message: "permission denied"}, types.DispatchFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := setupTestServer(t, &fakeDispatcher{outcome: tc.outcome}, "")

			resp, err := http.Post(ts.URL+"/api/dispatches?wait=true", "application/json",
				strings.NewReader(`{"target":"Deploy"}`))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			var rec types.DispatchRecord
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
			assert.Equal(t, tc.expected, rec.Status)
		})
	}
}

func TestCreateDispatchRequiresTarget(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "")

	resp, err := http.Post(ts.URL+"/api/dispatches", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDispatchNotFound(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "")

	resp, err := http.Get(ts.URL + "/api/dispatches/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDispatchesAndEvents(t *testing.T) {
	ts, st := setupTestServer(t, &fakeDispatcher{outcome: successOutcome()}, "")
	ctx := context.Background()

	resp, err := http.Post(ts.URL+"/api/dispatches?wait=true", "application/json",
		strings.NewReader(`{"target":"Deploy","correlationToken":"abc-123"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var rec types.DispatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))

	require.NoError(t, st.AppendEvent(ctx, types.Event{
		Kind: types.EventRunDiscovered, Token: "abc-123", RunID: 7, Timestamp: time.Now(),
	}))

	resp, err = http.Get(ts.URL + "/api/dispatches")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []types.DispatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)

	resp, err = http.Get(ts.URL + "/api/dispatches/" + rec.ID + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []types.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, types.EventRunDiscovered, events[0].Kind)
}

func TestListDispatchesRejectsBadLimit(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "")

	resp, err := http.Get(ts.URL + "/api/dispatches?limit=nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "secret-key")

	// No key: rejected.
	resp, err := http.Get(ts.URL + "/api/dispatches")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key: accepted.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/dispatches", nil)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := setupTestServer(t, &fakeDispatcher{}, "")

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrelay/opsrelay/pkg/types"
)

type staticTokens struct{ token string }

func (s staticTokens) Token() string { return s.token }

func TestDispatchWorkflow(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments", WithTokenSource(staticTokens{"tok-a"}))

	err := client.DispatchWorkflow(context.Background(), 42, "main", map[string]string{"dispatch_id": "abc-123"})
	require.NoError(t, err)

	assert.Equal(t, "/repos/acme/deployments/actions/workflows/42/dispatches", gotPath)
	assert.Equal(t, "Bearer tok-a", gotAuth)
	assert.Equal(t, "main", gotBody["ref"])
	inputs, ok := gotBody["inputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc-123", inputs["dispatch_id"])
}

func TestDispatchEvent(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/deployments/dispatches", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	err := client.DispatchEvent(context.Background(), "deploy", map[string]any{"dispatch_id": "abc-123"})
	require.NoError(t, err)
	assert.Equal(t, "deploy", gotBody["event_type"])
}

func TestContextCredentialOverridesTokenSource(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments", WithTokenSource(staticTokens{"tok-a"}))

	ctx := WithCredential(context.Background(), "tok-override")
	require.NoError(t, client.DispatchEvent(ctx, "deploy", nil))
	assert.Equal(t, "Bearer tok-override", gotAuth)
}

func TestAmbientCredentialOmitsHeader(t *testing.T) {
	var sawAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")
	require.NoError(t, client.DispatchEvent(WithCredential(context.Background(), ""), "deploy", nil))
	assert.False(t, sawAuth)
}

func TestGetWorkflowByName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/deployments/actions/workflows", r.URL.Path)
		_, _ = w.Write([]byte(`{"workflows":[
			{"id":10,"name":"CI","path":".github/workflows/ci.yml"},
			{"id":42,"name":"Deploy","path":".github/workflows/deploy.yml"}
		]}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	wf, err := client.GetWorkflowByName(context.Background(), "Deploy")
	require.NoError(t, err)
	assert.Equal(t, int64(42), wf.ID)

	// File-name match works too.
	wf, err = client.GetWorkflowByName(context.Background(), "ci.yml")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wf.ID)

	_, err = client.GetWorkflowByName(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestListRuns(t *testing.T) {
	created := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/deployments/actions/workflows/42/runs", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("branch"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workflow_runs": []map[string]any{
				{
					"id": 7, "display_title": "Deploy — abc-123 by alice",
					"status": "in_progress", "head_branch": "main",
					"created_at": created, "updated_at": created,
					"html_url": "https://forge.example/runs/7",
				},
			},
		})
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	runs, err := client.ListRuns(context.Background(), 42, "main", 20)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(7), runs[0].ID)
	assert.Equal(t, "Deploy — abc-123 by alice", runs[0].DisplayName)
	assert.Equal(t, types.RunInProgress, runs[0].Status)
	assert.True(t, created.Equal(runs[0].CreatedAt))
}

func TestGetRun_FallsBackToNameField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/deployments/actions/runs/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":7,"name":"Deploy","status":"completed","conclusion":"success"}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	run, err := client.GetRun(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Deploy", run.DisplayName)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, types.ConclusionSuccess, run.Conclusion)
}

func TestRequestTimeoutClassifiesTransient(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	client := NewHTTPClient(ts.URL, "acme", "deployments", WithRequestTimeout(20*time.Millisecond))

	// The call's own timeout fires while the caller's context stays alive.
	_, err := client.GetRun(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, types.FailureTransient, ClassifyError(err))
}

func TestParseErrorCarriesBodySnippet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>\n  upstream proxy error\n</html>"))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	_, err := client.GetRun(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, types.FailureMalformed, ClassifyError(err))
	assert.Contains(t, err.Error(), "<html> upstream proxy error </html>")
}

func TestBodySnippetBounded(t *testing.T) {
	long := strings.Repeat("x", 2*maxBodySnippet)
	got := bodySnippet([]byte(long))
	assert.Len(t, got, maxBodySnippet+len("..."))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestAPIErrorCarriesStatusAndMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	err := client.DispatchEvent(context.Background(), "deploy", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "Resource not accessible")
}

func TestAPIErrorParsesRetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	_, err := client.GetRun(context.Background(), 1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.RetryAfter)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), *apiErr.RetryAfter, 2*time.Second)
}

func TestAPIErrorParsesRateLimitReset(t *testing.T) {
	reset := time.Now().Add(90 * time.Second).Unix()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "acme", "deployments")

	_, err := client.GetRun(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.RetryAfter)
	assert.Equal(t, reset, apiErr.RetryAfter.Unix())
}

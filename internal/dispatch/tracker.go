// Package dispatch implements the correlated dispatch-poll cycle: trigger a
// remote workflow stamped with a correlation token, rediscover the run that
// token produced among concurrent runs, and poll it to a terminal state under
// a single deadline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsrelay/opsrelay/internal/credential"
	"github.com/opsrelay/opsrelay/internal/forge"
	"github.com/opsrelay/opsrelay/internal/metrics"
	"github.com/opsrelay/opsrelay/internal/retry"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// Defaults for the poll cycle. Callers override via options or per-request
// timeouts.
const (
	DefaultPollInterval      = 4 * time.Second
	DefaultLookback          = 5 * time.Minute
	DefaultGraceDelay        = 2 * time.Second
	DefaultDiscoveryAttempts = 3
	DefaultTimeout           = 180 * time.Second

	defaultListLimit = 20

	// Transient poll failures are tolerated a couple of times before the
	// cycle aborts; the retry envelope already covers the dispatch phase.
	maxPollGraceRetries = 2
)

// EventFunc receives audit events as the cycle progresses. It must not block.
type EventFunc func(types.Event)

// Tracker drives dispatch-and-wait cycles against a forge client. A Tracker
// holds no per-invocation state and is safe for concurrent use.
type Tracker struct {
	client  forge.Client
	creds   *credential.Pool
	policy  retry.Policy
	logger  *slog.Logger
	eventFn EventFunc

	pollInterval      time.Duration
	lookback          time.Duration
	grace             time.Duration
	discoveryAttempts int
	timeout           time.Duration
	listLimit         int

	workflows workflowCache
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithCredentials sets the credential pool rotated across remote calls.
func WithCredentials(pool *credential.Pool) Option {
	return func(t *Tracker) { t.creds = pool }
}

// WithRetryPolicy sets the backoff policy for retryable remote failures.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(t *Tracker) { t.policy = policy }
}

// WithPollInterval sets the delay between run status polls.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithLookback sets how far back a run's creation time may be and still count
// as a correlation match.
func WithLookback(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.lookback = d
		}
	}
}

// WithGraceDelay sets the pause between dispatch acceptance and the first
// discovery attempt, giving the remote system time to materialize the run.
func WithGraceDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.grace = d
		}
	}
}

// WithDiscoveryAttempts bounds how many run listings are tried before the
// most-recent-run fallback kicks in.
func WithDiscoveryAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.discoveryAttempts = n
		}
	}
}

// WithTimeout sets the default deadline for a whole dispatch-and-wait cycle.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithEventFunc registers a sink for audit events.
func WithEventFunc(fn EventFunc) Option {
	return func(t *Tracker) { t.eventFn = fn }
}

// New creates a Tracker around the given forge client.
func New(client forge.Client, opts ...Option) *Tracker {
	t := &Tracker{
		client:            client,
		creds:             credential.NewPool(nil),
		policy:            retry.DefaultPolicy(),
		logger:            slog.Default(),
		pollInterval:      DefaultPollInterval,
		lookback:          DefaultLookback,
		grace:             DefaultGraceDelay,
		discoveryAttempts: DefaultDiscoveryAttempts,
		timeout:           DefaultTimeout,
		listLimit:         defaultListLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DispatchAndWait runs one full cycle: dispatch the target workflow with the
// request's correlation token, discover the run it produced, and poll it until
// it completes or the deadline passes. The outcome is always returned, never
// an error: failures are described by the outcome's FailureCategory and
// Message, and a timeout carries the last observed run snapshot.
func (t *Tracker) DispatchAndWait(ctx context.Context, req types.DispatchRequest) types.PollOutcome {
	timeout := t.timeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := t.logger.With("target", req.Target, "token", req.CorrelationToken)
	metrics.DispatchesTotal.Add(1)

	if failure := t.dispatch(ctx, req, log); failure != nil {
		metrics.DispatchesFailed.Add(1)
		return *failure
	}
	log.Info("dispatch accepted", "ref", req.Ref)
	t.emit(types.Event{Kind: types.EventDispatchRequested, Token: req.CorrelationToken, Message: req.Target})

	run, matched := t.discover(ctx, req, log)
	if run == nil {
		metrics.DispatchesFailed.Add(1)
		if ctx.Err() != nil {
			t.emit(types.Event{Kind: types.EventPollTimedOut, Token: req.CorrelationToken})
			return types.PollOutcome{
				TimedOut:        true,
				FailureCategory: types.FailureTimeout,
				Message:         "timed out before the run could be located",
			}
		}
		t.emit(types.Event{Kind: types.EventDispatchFailed, Token: req.CorrelationToken, Message: "run not found"})
		return types.PollOutcome{
			FailureCategory: types.FailureNotFound,
			Message:         fmt.Sprintf("no run found for %s after %d attempts", req.Target, t.discoveryAttempts),
		}
	}
	log.Info("run discovered", "run_id", run.ID, "token_matched", matched)

	final, timedOut, err := t.poll(ctx, req, run, log)
	switch {
	case err != nil:
		metrics.DispatchesFailed.Add(1)
		outcome := t.failureOutcome(ctx, err, req)
		outcome.Run = final
		outcome.TokenMatched = matched
		return outcome
	case timedOut:
		metrics.PollTimeouts.Add(1)
		t.emit(types.Event{Kind: types.EventPollTimedOut, Token: req.CorrelationToken, RunID: run.ID, Status: string(final.Status)})
		log.Warn("poll deadline exceeded", "run_id", run.ID, "last_status", final.Status)
		return types.PollOutcome{
			TimedOut:        true,
			Run:             final,
			TokenMatched:    matched,
			FailureCategory: types.FailureTimeout,
			Message:         fmt.Sprintf("run %d did not complete within %s", run.ID, timeout),
		}
	}

	t.emit(types.Event{
		Kind:    types.EventPollCompleted,
		Token:   req.CorrelationToken,
		RunID:   final.ID,
		Status:  string(final.Status),
		Message: string(final.Conclusion),
	})
	log.Info("run completed", "run_id", final.ID, "conclusion", final.Conclusion)
	return types.PollOutcome{
		Completed:    true,
		Conclusion:   final.Conclusion,
		Run:          final,
		TokenMatched: matched,
	}
}

// dispatch triggers the target workflow. A nil return means the dispatch was
// accepted; otherwise the returned outcome describes the failure. When the
// target does not resolve to a workflow definition, dispatch falls back to a
// repository event of the same name.
func (t *Tracker) dispatch(ctx context.Context, req types.DispatchRequest, log *slog.Logger) *types.PollOutcome {
	wf, err := t.resolveWorkflow(ctx, req.Target)
	if err != nil {
		if forge.ClassifyError(err) != types.FailureNotFound {
			return t.dispatchFailed(ctx, err, req, log)
		}
		log.Debug("no workflow definition, falling back to event dispatch")
		payload := make(map[string]any, len(req.Inputs)+3)
		for k, v := range req.Inputs {
			payload[k] = v
		}
		payload["dispatch_id"] = req.CorrelationToken
		if req.Ref != "" {
			payload["ref"] = req.Ref
		}
		if req.Requester != "" {
			payload["requester"] = req.Requester
		}
		err := t.call(ctx, func(ctx context.Context) error {
			return t.client.DispatchEvent(ctx, req.Target, payload)
		})
		if err != nil {
			return t.dispatchFailed(ctx, err, req, log)
		}
		return nil
	}

	inputs := make(map[string]string, len(req.Inputs)+2)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	inputs["dispatch_id"] = req.CorrelationToken
	if req.Requester != "" {
		inputs["requester"] = req.Requester
	}
	err = t.call(ctx, func(ctx context.Context) error {
		return t.client.DispatchWorkflow(ctx, wf.ID, req.Ref, inputs)
	})
	if err != nil {
		return t.dispatchFailed(ctx, err, req, log)
	}
	return nil
}

func (t *Tracker) dispatchFailed(ctx context.Context, err error, req types.DispatchRequest, log *slog.Logger) *types.PollOutcome {
	outcome := t.failureOutcome(ctx, err, req)
	t.emit(types.Event{Kind: types.EventDispatchFailed, Token: req.CorrelationToken, Message: outcome.Message})
	log.Error("dispatch failed", "category", outcome.FailureCategory, "error", err)
	return &outcome
}

// failureOutcome maps a remote error to the outcome the caller surface shows.
// A dead cycle context takes precedence over whatever the last call returned:
// the deadline may expire mid-call, surfacing as a transport error.
func (t *Tracker) failureOutcome(ctx context.Context, err error, req types.DispatchRequest) types.PollOutcome {
	category := forge.ClassifyError(err)
	if ctx.Err() != nil {
		category = types.FailureTimeout
	}
	var msg string
	switch category {
	case types.FailurePermissionDenied:
		msg = "permission denied"
	case types.FailureRateLimited:
		msg = "rate limited"
	case types.FailureNotFound:
		msg = fmt.Sprintf("workflow %q not found", req.Target)
	case types.FailureMalformed:
		msg = "remote API rejected the request"
	case types.FailureTimeout:
		msg = "deadline exceeded"
	default:
		msg = "remote API unavailable"
	}
	return types.PollOutcome{FailureCategory: category, Message: msg}
}

// discover locates the run produced by this dispatch. The token match is
// authoritative: a run whose display name contains the correlation token and
// whose creation time falls within the lookback window. When no listing
// attempt yields a match, the most recent run from the last listing is
// returned as a best-effort fallback with matched=false.
func (t *Tracker) discover(ctx context.Context, req types.DispatchRequest, log *slog.Logger) (run *types.RemoteRun, matched bool) {
	if err := retry.Sleep(ctx, t.grace); err != nil {
		return nil, false
	}

	var lastRuns []types.RemoteRun
	for attempt := 0; attempt < t.discoveryAttempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, t.pollInterval); err != nil {
				break
			}
		}

		wf, err := t.resolveWorkflow(ctx, req.Target)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("workflow resolution failed during discovery", "attempt", attempt, "error", err)
			continue
		}

		var runs []types.RemoteRun
		err = t.call(ctx, func(ctx context.Context) error {
			var listErr error
			runs, listErr = t.client.ListRuns(ctx, wf.ID, req.Ref, t.listLimit)
			return listErr
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("run listing failed", "attempt", attempt, "error", err)
			continue
		}
		lastRuns = runs

		cutoff := time.Now().Add(-t.lookback)
		if best := matchToken(runs, req.CorrelationToken, cutoff); best != nil {
			metrics.RunsDiscovered.Add(1)
			t.emit(types.Event{Kind: types.EventRunDiscovered, Token: req.CorrelationToken, RunID: best.ID, Status: string(best.Status)})
			return best, true
		}
	}

	if best := mostRecent(lastRuns); best != nil {
		metrics.DiscoveryFallbacks.Add(1)
		t.emit(types.Event{
			Kind:    types.EventDiscoveryFallback,
			Token:   req.CorrelationToken,
			RunID:   best.ID,
			Message: "no token match, using most recent run",
		})
		log.Warn("correlation token not found, falling back to most recent run", "run_id", best.ID)
		return best, false
	}
	return nil, false
}

// poll watches the run until it reaches a terminal state or the context
// deadline passes. A deadline always yields the last observed snapshot with
// timedOut=true; only non-retryable remote failures surface as an error.
func (t *Tracker) poll(ctx context.Context, req types.DispatchRequest, run *types.RemoteRun, log *slog.Logger) (last *types.RemoteRun, timedOut bool, err error) {
	last = run
	graceRetries := 0
	for {
		snapshot, err := t.getRun(ctx, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return last, true, nil
			}
			category := forge.ClassifyError(err)
			if retry.Retryable(category) && graceRetries < maxPollGraceRetries {
				graceRetries++
				metrics.RetriesScheduled.Add(1)
				delay := t.policy.DelayFor(graceRetries-1, resetHint(err))
				t.emit(types.Event{
					Kind:    types.EventRetryScheduled,
					Token:   req.CorrelationToken,
					RunID:   run.ID,
					Message: fmt.Sprintf("retrying in %s", delay),
				})
				log.Warn("poll failed, retrying", "run_id", run.ID, "delay", delay, "error", err)
				if retry.Sleep(ctx, delay) != nil {
					return last, true, nil
				}
				continue
			}
			return last, false, err
		}
		graceRetries = 0
		last = snapshot
		metrics.PollCycles.Add(1)

		if snapshot.Terminal() {
			return snapshot, false, nil
		}
		log.Debug("run still active", "run_id", snapshot.ID, "status", snapshot.Status)
		if err := retry.Sleep(ctx, t.pollInterval); err != nil {
			return last, true, nil
		}
	}
}

// call runs op under the retry envelope, rotating a fresh credential from the
// pool on every attempt.
func (t *Tracker) call(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, t.policy, t.logger, forge.ClassifyError, func(ctx context.Context) error {
		return t.authedCall(ctx, op)
	})
}

// authedCall runs op once with the pool's next credential and records the
// credential as failed when the remote rejects it outright.
func (t *Tracker) authedCall(ctx context.Context, op func(context.Context) error) error {
	cred := t.creds.Next()
	err := op(forge.WithCredential(ctx, cred.Token))
	if err != nil && !cred.IsZero() && forge.IsStatus(err, http.StatusUnauthorized) {
		t.creds.MarkFailed(cred)
		metrics.CredentialFailures.Add(1)
		t.logger.Warn("credential rejected by forge", "credential", cred.Redacted())
	}
	return err
}

// getRun fetches one run snapshot without the retry envelope; the poll loop
// applies its own, bounded grace retries.
func (t *Tracker) getRun(ctx context.Context, runID int64) (*types.RemoteRun, error) {
	var run *types.RemoteRun
	err := t.authedCall(ctx, func(ctx context.Context) error {
		r, err := t.client.GetRun(ctx, runID)
		run = r
		return err
	})
	return run, err
}

func (t *Tracker) emit(ev types.Event) {
	if t.eventFn == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	t.eventFn(ev)
}

// matchToken returns the newest run whose display name contains the token and
// whose creation time is at or after cutoff, or nil when none match.
func matchToken(runs []types.RemoteRun, token string, cutoff time.Time) *types.RemoteRun {
	if token == "" {
		return nil
	}
	var best *types.RemoteRun
	for i := range runs {
		r := &runs[i]
		if !strings.Contains(r.DisplayName, token) || r.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	match := *best
	return &match
}

// mostRecent returns the run with the newest creation time, or nil for an
// empty slice.
func mostRecent(runs []types.RemoteRun) *types.RemoteRun {
	var best *types.RemoteRun
	for i := range runs {
		r := &runs[i]
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	recent := *best
	return &recent
}

// resetHint extracts the remote's retry-after hint, if the error carries one.
func resetHint(err error) *time.Time {
	var apiErr *forge.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return nil
}

// Package forge implements the remote CI boundary: a thin, stateless client
// for a GitHub-Actions-compatible REST API. No retry or backoff lives here;
// that is layered on top by the dispatch tracker.
package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// Client is the remote job boundary. Each operation is a single network
// round trip with a bounded per-call timeout.
type Client interface {
	DispatchEvent(ctx context.Context, eventType string, payload map[string]any) error
	DispatchWorkflow(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error
	GetWorkflowByName(ctx context.Context, name string) (*types.RemoteWorkflow, error)
	ListRuns(ctx context.Context, workflowID int64, branch string, limit int) ([]types.RemoteRun, error)
	GetRun(ctx context.Context, runID int64) (*types.RemoteRun, error)
}

// TokenSource supplies a bearer token per call. An empty token means the
// ambient identity (no Authorization header).
type TokenSource interface {
	Token() string
}

type credentialKey struct{}

// WithCredential returns a context carrying an explicit bearer token for the
// next call, overriding the client's TokenSource. Used by the tracker to
// attribute auth failures to a specific pool credential.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

func credentialFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(credentialKey{}).(string)
	return tok, ok
}

// APIError is a typed failure carrying the remote HTTP status. RetryAfter is
// the server-supplied rate-limit reset hint, when present.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter *time.Time
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("forge: status %d", e.StatusCode)
	}
	return fmt.Sprintf("forge: status %d: %s", e.StatusCode, e.Message)
}

// RetryAfterHint returns the server-supplied reset timestamp, if any.
func (e *APIError) RetryAfterHint() *time.Time { return e.RetryAfter }

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// ClassifyError maps an error from a forge call to its failure category.
// The retry decision is made from the category alone, never from the
// concrete error type at the call site.
func ClassifyError(err error) types.FailureCategory {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return types.FailurePermissionDenied
		case apiErr.StatusCode == 404:
			return types.FailureNotFound
		case apiErr.StatusCode == 429:
			return types.FailureRateLimited
		case apiErr.StatusCode >= 500:
			return types.FailureTransient
		default:
			// Remaining 4xx: the request itself was rejected. Not retryable.
			return types.FailureMalformed
		}
	}

	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntax) || errors.As(err, &jsonType) {
		return types.FailureMalformed
	}

	// A timeout surfacing through the transport is the per-call HTTP timeout
	// firing, not the cycle deadline: http.Client timeout errors match
	// context.DeadlineExceeded too (go 1.16+), so the transport checks must
	// run first. Cycle expiry reaches classification as a bare context error.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FailureTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return types.FailureTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.FailureTimeout
	}

	return types.FailureTransient
}

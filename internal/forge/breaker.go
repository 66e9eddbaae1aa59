package forge

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// BreakerClient wraps a Client with a shared circuit breaker so a flapping
// forge fails fast instead of burning every caller's retry budget. Only
// transient-class failures count toward tripping; permission and caller
// errors say nothing about remote health.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

var _ Client = (*BreakerClient)(nil)

// WithBreaker wraps a client with the default breaker settings.
func WithBreaker(inner Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "forge",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			cat := ClassifyError(err)
			return cat != types.FailureTransient && cat != types.FailureRateLimited
		},
	}
	return &BreakerClient{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerClient) execute(op func() (any, error)) (any, error) {
	v, err := b.cb.Execute(op)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("forge circuit open: %w", err)
	}
	return v, err
}

// DispatchEvent implements Client.
func (b *BreakerClient) DispatchEvent(ctx context.Context, eventType string, payload map[string]any) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.DispatchEvent(ctx, eventType, payload)
	})
	return err
}

// DispatchWorkflow implements Client.
func (b *BreakerClient) DispatchWorkflow(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.DispatchWorkflow(ctx, workflowID, ref, inputs)
	})
	return err
}

// GetWorkflowByName implements Client.
func (b *BreakerClient) GetWorkflowByName(ctx context.Context, name string) (*types.RemoteWorkflow, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.GetWorkflowByName(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.RemoteWorkflow), nil
}

// ListRuns implements Client.
func (b *BreakerClient) ListRuns(ctx context.Context, workflowID int64, branch string, limit int) ([]types.RemoteRun, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.ListRuns(ctx, workflowID, branch, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.RemoteRun), nil
}

// GetRun implements Client.
func (b *BreakerClient) GetRun(ctx context.Context, runID int64) (*types.RemoteRun, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.GetRun(ctx, runID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.RemoteRun), nil
}

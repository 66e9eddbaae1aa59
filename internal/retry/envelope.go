package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// resetHinter is implemented by errors carrying a server-supplied
// rate-limit reset timestamp.
type resetHinter interface {
	RetryAfterHint() *time.Time
}

// Do runs op until it succeeds, a non-retryable failure occurs, the policy
// is exhausted, or ctx is done. classify maps an error to its failure
// category; the retry decision is a pure function of that category, never of
// the error's concrete type.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, classify func(error) types.FailureCategory, op func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		category := classify(err)
		if !Retryable(category) || attempt >= policy.MaxRetries {
			return err
		}

		var reset *time.Time
		var hinter resetHinter
		if errors.As(err, &hinter) {
			reset = hinter.RetryAfterHint()
		}

		delay := policy.DelayFor(attempt, reset)
		logger.Warn("remote call failed, retrying",
			"attempt", attempt+1, "max", policy.MaxRetries, "delay", delay, "category", category, "error", err)

		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

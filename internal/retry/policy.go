// Package retry implements the backoff policy and retry envelope applied to
// every remote forge call.
package retry

import (
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// Policy configures exponential backoff with jitter. BaseDelay must not
// exceed MaxDelay; the computed delay is clamped to MaxDelay before jitter
// is applied.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// jitterFraction is the maximum relative perturbation applied to a delay.
const jitterFraction = 0.25

// DelayFor returns the wait duration before retrying after the given
// zero-based attempt number. A rate-limit reset timestamp still in the
// future overrides the exponential formula: the server-provided hint is
// authoritative.
func (p Policy) DelayFor(attempt int, rateLimitReset *time.Time) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultPolicy().MaxDelay
	}

	if rateLimitReset != nil {
		if wait := time.Until(*rateLimitReset); wait > 0 {
			wait += time.Second
			if wait > maxDelay {
				wait = maxDelay
			}
			return wait
		}
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultPolicy().BaseDelay
	}
	expBase := p.ExponentialBase
	if expBase <= 1 {
		expBase = 2.0
	}

	delay := float64(base) * math.Pow(expBase, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if p.Jitter {
		delay += delay * (rand.Float64()*2 - 1) * jitterFraction
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ShouldRetryStatus reports whether an HTTP status warrants a retry.
// 429 and all 5xx are retryable; other 4xx are caller or auth errors and
// must not be retried.
func ShouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Retryable reports whether a failure category should be retried.
func Retryable(category types.FailureCategory) bool {
	return category == types.FailureRateLimited || category == types.FailureTransient
}

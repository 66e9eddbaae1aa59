// Package report renders poll outcomes as human-readable summaries for chat
// and CLI surfaces. Formatting is pure: no I/O, no clock, no color.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// Indicator prefixes for summary lines.
const (
	indicatorSuccess  = "✅"
	indicatorFailure  = "❌"
	indicatorCancel   = "🚫"
	indicatorWarning  = "⚠️"
	indicatorTimedOut = "⏳"
)

// Format renders one outcome as a short multi-line summary. The first line
// carries an indicator and the verdict; subsequent lines add the run link,
// duration, and a caveat when the run was selected by fallback rather than a
// correlation match.
func Format(outcome types.PollOutcome) string {
	var b strings.Builder
	b.WriteString(headline(outcome))

	if outcome.Run != nil {
		if outcome.Run.HTMLURL != "" {
			fmt.Fprintf(&b, "\n%s", outcome.Run.HTMLURL)
		}
		if d := runDuration(outcome.Run); d > 0 {
			fmt.Fprintf(&b, "\nDuration: %s", d.Round(time.Second))
		}
	}
	if outcome.Run != nil && !outcome.TokenMatched {
		fmt.Fprintf(&b, "\n%s Best-effort match: the run could not be confirmed by correlation token.", indicatorWarning)
	}
	return b.String()
}

func headline(outcome types.PollOutcome) string {
	switch {
	case outcome.Completed:
		return conclusionLine(outcome)
	case outcome.TimedOut:
		status := "unknown"
		if outcome.Run != nil {
			status = string(outcome.Run.Status)
		}
		return fmt.Sprintf("%s Timed out waiting for the run to complete (last status: %s).", indicatorTimedOut, status)
	default:
		return fmt.Sprintf("%s Dispatch failed: %s", indicatorFailure, failureText(outcome))
	}
}

func conclusionLine(outcome types.PollOutcome) string {
	switch outcome.Conclusion {
	case types.ConclusionSuccess:
		return indicatorSuccess + " Run completed successfully."
	case types.ConclusionFailure:
		return indicatorFailure + " Run failed."
	case types.ConclusionCancelled:
		return indicatorCancel + " Run was cancelled."
	case types.ConclusionUnknown:
		return indicatorWarning + " Run completed with no conclusion."
	default:
		// Unrecognized conclusions pass through verbatim.
		return fmt.Sprintf("%s Run completed: %s.", indicatorWarning, outcome.Conclusion)
	}
}

func failureText(outcome types.PollOutcome) string {
	if outcome.Message != "" {
		return outcome.Message
	}
	if outcome.FailureCategory != "" {
		return string(outcome.FailureCategory)
	}
	return "unknown error"
}

func runDuration(run *types.RemoteRun) time.Duration {
	if run.CreatedAt.IsZero() || run.UpdatedAt.IsZero() {
		return 0
	}
	return run.UpdatedAt.Sub(run.CreatedAt)
}

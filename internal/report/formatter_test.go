package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsrelay/opsrelay/pkg/types"
)

func completedRun(conclusion types.Conclusion) *types.RemoteRun {
	created := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return &types.RemoteRun{
		ID:          7,
		DisplayName: "Deploy — abc-123",
		Status:      types.RunCompleted,
		Conclusion:  conclusion,
		CreatedAt:   created,
		UpdatedAt:   created.Add(90 * time.Second),
		HTMLURL:     "https://forge.example/runs/7",
	}
}

func TestFormat_Success(t *testing.T) {
	got := Format(types.PollOutcome{
		Completed:    true,
		Conclusion:   types.ConclusionSuccess,
		Run:          completedRun(types.ConclusionSuccess),
		TokenMatched: true,
	})

	assert.Contains(t, got, "✅")
	assert.Contains(t, got, "https://forge.example/runs/7")
	assert.Contains(t, got, "Duration: 1m30s")
	assert.NotContains(t, got, "Best-effort")
}

func TestFormat_Failure(t *testing.T) {
	got := Format(types.PollOutcome{
		Completed:    true,
		Conclusion:   types.ConclusionFailure,
		Run:          completedRun(types.ConclusionFailure),
		TokenMatched: true,
	})
	assert.True(t, strings.HasPrefix(got, "❌"))
}

func TestFormat_VerbatimConclusion(t *testing.T) {
	got := Format(types.PollOutcome{
		Completed:    true,
		Conclusion:   types.Conclusion("startup_failure"),
		Run:          completedRun("startup_failure"),
		TokenMatched: true,
	})
	assert.Contains(t, got, "startup_failure")
}

func TestFormat_FallbackMatchIsFlagged(t *testing.T) {
	got := Format(types.PollOutcome{
		Completed:    true,
		Conclusion:   types.ConclusionSuccess,
		Run:          completedRun(types.ConclusionSuccess),
		TokenMatched: false,
	})
	assert.Contains(t, got, "Best-effort match")
}

func TestFormat_TimedOut(t *testing.T) {
	run := completedRun(types.ConclusionUnknown)
	run.Status = types.RunInProgress

	got := Format(types.PollOutcome{
		TimedOut:        true,
		Run:             run,
		TokenMatched:    true,
		FailureCategory: types.FailureTimeout,
	})
	assert.Contains(t, got, "Timed out")
	assert.Contains(t, got, "in_progress")
}

func TestFormat_DispatchFailure(t *testing.T) {
	got := Format(types.PollOutcome{
		FailureCategory: types.FailurePermissionDenied,
		Message:         "permission denied",
	})
	assert.Contains(t, got, "permission denied")
	assert.NotContains(t, got, "Duration")
}

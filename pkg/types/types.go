// Package types defines the public domain types for the opsrelay dispatch console.
package types

import "time"

// RunStatus is the lifecycle state of a remote CI run as reported by the forge.
type RunStatus string

// RunStatus values mirror the remote API's run states.
const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Conclusion is the terminal verdict of a completed remote run.
// Values outside the known set pass through verbatim from the remote API.
type Conclusion string

const (
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionUnknown   Conclusion = ""
)

// FailureCategory classifies why a remote call or a dispatch cycle failed.
// The category is the retry/abort decision boundary: only RATE_LIMITED and
// TRANSIENT_NETWORK are ever retried.
type FailureCategory string

const (
	FailurePermissionDenied FailureCategory = "PERMISSION_DENIED"
	FailureRateLimited      FailureCategory = "RATE_LIMITED"
	FailureTransient        FailureCategory = "TRANSIENT_NETWORK"
	FailureNotFound         FailureCategory = "NOT_FOUND"
	FailureTimeout          FailureCategory = "TIMEOUT"
	FailureMalformed        FailureCategory = "MALFORMED_RESPONSE"
)

// DispatchRequest describes one dispatch-and-wait invocation. Immutable once
// constructed. CorrelationToken is minted by the caller, never reused across
// attempts, and is echoed into the remote run's display name by the triggered
// workflow itself.
type DispatchRequest struct {
	Target           string            `json:"target"`
	Ref              string            `json:"ref"`
	CorrelationToken string            `json:"correlationToken"`
	Requester        string            `json:"requester,omitempty"`
	Inputs           map[string]string `json:"inputs,omitempty"`
	TimeoutSeconds   int               `json:"timeoutSeconds,omitempty"`
}

// RemoteWorkflow is a named workflow definition on the forge.
type RemoteWorkflow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// RemoteRun is a read-only snapshot of a run owned by the remote system.
type RemoteRun struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"displayName"`
	Status      RunStatus  `json:"status"`
	Conclusion  Conclusion `json:"conclusion,omitempty"`
	HeadBranch  string     `json:"headBranch,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	HTMLURL     string     `json:"htmlUrl,omitempty"`
}

// Terminal reports whether the run has reached a state from which no further
// transition occurs.
func (r RemoteRun) Terminal() bool {
	return r.Status == RunCompleted
}

// PollOutcome is the immutable result of one correlate-and-poll cycle.
// TokenMatched is false when the run was selected by the most-recent-run
// fallback rather than a correlation-token match.
type PollOutcome struct {
	Completed       bool            `json:"completed"`
	Conclusion      Conclusion      `json:"conclusion,omitempty"`
	Run             *RemoteRun      `json:"run,omitempty"`
	TimedOut        bool            `json:"timedOut"`
	TokenMatched    bool            `json:"tokenMatched"`
	FailureCategory FailureCategory `json:"failureCategory,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// DispatchStatus is the lifecycle state of a recorded dispatch invocation.
type DispatchStatus string

// DispatchStatus values represent the lifecycle of a dispatch record.
const (
	DispatchPending   DispatchStatus = "PENDING"
	DispatchRunning   DispatchStatus = "RUNNING"
	DispatchCompleted DispatchStatus = "COMPLETED"
	DispatchFailed    DispatchStatus = "FAILED"
	DispatchTimedOut  DispatchStatus = "TIMED_OUT"
)

// Terminal reports whether the dispatch record will not change again.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchCompleted || s == DispatchFailed || s == DispatchTimedOut
}

// DispatchRecord is the durable trail of one dispatch-and-wait invocation.
// Persistence of these records is the caller surface's concern, not the
// tracker's; the tracker itself holds no state across invocations.
type DispatchRecord struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Ref         string         `json:"ref"`
	Token       string         `json:"token"`
	Requester   string         `json:"requester,omitempty"`
	Status      DispatchStatus `json:"status"`
	Outcome     *PollOutcome   `json:"outcome,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// EventKind classifies the type of audit event.
type EventKind string

// EventKind values enumerate the categories of recorded events.
const (
	EventDispatchRequested EventKind = "DISPATCH_REQUESTED"
	EventDispatchFailed    EventKind = "DISPATCH_FAILED"
	EventRunDiscovered     EventKind = "RUN_DISCOVERED"
	EventDiscoveryFallback EventKind = "DISCOVERY_FALLBACK"
	EventPollCompleted     EventKind = "POLL_COMPLETED"
	EventPollTimedOut      EventKind = "POLL_TIMED_OUT"
	EventRetryScheduled    EventKind = "RETRY_SCHEDULED"
)

// Event is an append-only audit log entry recording what happened and when.
// Events are keyed by the correlation token of the invocation that produced
// them; callers map tokens back to their own dispatch records.
type Event struct {
	Kind      EventKind `json:"kind"`
	Token     string    `json:"token"`
	RunID     int64     `json:"runId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

package domain

import "time"

// DecisionKind is router classification for one processed event.
type DecisionKind string

const (
	// DecisionFresh marks first occurrence in a window; actions are dispatched.
	DecisionFresh DecisionKind = "fresh"
	// DecisionSuppressed marks duplicate inside an open window.
	DecisionSuppressed DecisionKind = "suppressed"
	// DecisionRejected marks event stopped by a structural error.
	DecisionRejected DecisionKind = "rejected"
	// DecisionDispatched marks completed dispatch of a fresh event (audit only).
	DecisionDispatched DecisionKind = "dispatched"
)

// Decision is router result for one event.
// Params: key identity, classification, and window metadata.
// Returns: deterministic processing output for ingest responses.
type Decision struct {
	Key             string       `json:"key,omitempty"`
	Kind            DecisionKind `json:"decision"`
	SuppressedCount int64        `json:"suppressed_count"`
	WindowSeconds   int64        `json:"window_seconds"`
	WindowEnd       *time.Time   `json:"window_end,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

// ActionStatus is per-action dispatch status.
type ActionStatus string

const (
	// ActionSucceeded marks executor success.
	ActionSucceeded ActionStatus = "succeeded"
	// ActionFailed marks unknown action or executor failure.
	ActionFailed ActionStatus = "failed"
	// ActionAborted marks action not run because of shutdown.
	ActionAborted ActionStatus = "aborted"
)

// ActionOutcome records one action result.
// Params: action name, status, optional failure reason, and elapsed time.
// Returns: one DispatchResult row.
type ActionOutcome struct {
	Action   string        `json:"action"`
	Status   ActionStatus  `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DispatchResult records per-action outcomes for one dispatched event.
// Params: dispatch id, event identity, and ordered outcomes.
// Returns: dispatcher output for audit and metrics.
type DispatchResult struct {
	DispatchID string          `json:"dispatch_id"`
	Key        string          `json:"key"`
	DeviceID   string          `json:"device_id"`
	MessageID  string          `json:"message_id"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Outcome returns outcome by action name.
// Params: action name.
// Returns: outcome and presence flag.
func (r DispatchResult) Outcome(action string) (ActionOutcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.Action == action {
			return outcome, true
		}
	}
	return ActionOutcome{}, false
}

// Count returns number of outcomes with given status.
// Params: status filter.
// Returns: matching outcome count.
func (r DispatchResult) Count(status ActionStatus) int {
	n := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == status {
			n++
		}
	}
	return n
}

// AuditRecord is one structured observability record.
// Params: record id, dispatch id pairing fresh and dispatched records, key, decision, counters, and optional dispatch outcomes.
// Returns: payload delivered to audit sinks.
type AuditRecord struct {
	ID              string          `json:"id"`
	DispatchID      string          `json:"dispatch_id,omitempty"`
	Key             string          `json:"key"`
	DeviceID        string          `json:"device_id"`
	MessageID       string          `json:"message_id"`
	Severity        Severity        `json:"severity,omitempty"`
	Decision        DecisionKind    `json:"decision"`
	SuppressedCount int64           `json:"suppressed_count"`
	Reason          string          `json:"reason,omitempty"`
	Outcomes        []ActionOutcome `json:"outcomes,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

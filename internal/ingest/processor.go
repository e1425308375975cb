package ingest

import (
	"context"
	"errors"

	"eventdedup/internal/dispatch"
	"eventdedup/internal/domain"
)

// Processor routes one event through dedup and dispatch admission.
type Processor interface {
	Process(ctx context.Context, event domain.Event) (domain.Decision, error)
}

// Observer counts ingest payload results.
type Observer interface {
	ObserveIngest(transport, result string)
}

const (
	resultAccepted    = "accepted"
	resultInvalid     = "invalid"
	resultUnavailable = "unavailable"
)

// Summary aggregates per-event outcomes of one payload.
type Summary struct {
	Decisions   []domain.Decision `json:"decisions"`
	Fresh       int               `json:"fresh"`
	Suppressed  int               `json:"suppressed"`
	Rejected    int               `json:"rejected"`
	Unavailable bool              `json:"-"`
}

// processAll runs events in payload order and stops at first admission failure.
// Params: context, processor, and decoded events.
// Returns: summary; Unavailable is set when dispatch could not admit an event.
func processAll(ctx context.Context, processor Processor, events []domain.Event) Summary {
	summary := Summary{Decisions: make([]domain.Decision, 0, len(events))}
	for _, event := range events {
		decision, err := processor.Process(ctx, event)
		summary.Decisions = append(summary.Decisions, decision)
		switch decision.Kind {
		case domain.DecisionFresh:
			summary.Fresh++
		case domain.DecisionSuppressed:
			summary.Suppressed++
		default:
			summary.Rejected++
		}
		if isUnavailable(err) {
			summary.Unavailable = true
			break
		}
	}
	return summary
}

// isUnavailable reports transient admission failures that callers should retry.
func isUnavailable(err error) bool {
	return errors.Is(err, dispatch.ErrQueueFull) ||
		errors.Is(err, dispatch.ErrPoolClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

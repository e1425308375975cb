package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventdedup/internal/clock"
	"eventdedup/internal/dedup"
	"eventdedup/internal/dispatch"
	"eventdedup/internal/domain"
	"eventdedup/internal/eventkey"

	"github.com/google/uuid"
)

// Catalog supplies device profiles and event templates.
type Catalog interface {
	DeviceProfile(deviceID string) (domain.DeviceProfile, bool)
	TemplateFor(event domain.Event) (domain.Event, bool)
}

// Submitter admits fresh jobs for asynchronous dispatch.
// SubmitWait ignores the admission timeout and fails only when the pool closes or ctx ends.
type Submitter interface {
	Submit(ctx context.Context, job dispatch.Job) error
	SubmitWait(ctx context.Context, job dispatch.Job) error
}

// AuditEmitter receives audit records without blocking.
type AuditEmitter interface {
	Emit(record domain.AuditRecord) bool
}

// Observer receives decision notifications for metrics.
type Observer interface {
	ObserveDecision(kind domain.DecisionKind)
	ObserveDispatch(result domain.DispatchResult)
}

// Deps groups router collaborators.
// Params: resolver, store, submitter, catalog, audit emitter, optional observer, clock, and logger.
// Returns: router wiring.
type Deps struct {
	Resolver *eventkey.Resolver
	Store    *dedup.Store
	Pool     Submitter
	Catalog  Catalog
	Audit    AuditEmitter
	Observer Observer
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Router classifies events and hands fresh ones to dispatch.
type Router struct {
	resolver *eventkey.Resolver
	store    *dedup.Store
	pool     Submitter
	catalog  Catalog
	audit    AuditEmitter
	observer Observer
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates router.
// Params: dependencies; Resolver, Store, and Pool are required.
// Returns: router or wiring error.
func New(deps Deps) (*Router, error) {
	if deps.Store == nil {
		return nil, errors.New("router: store is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("router: dispatch pool is required")
	}
	if deps.Resolver == nil {
		deps.Resolver = eventkey.NewResolver(nil)
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{
		resolver: deps.Resolver,
		store:    deps.Store,
		pool:     deps.Pool,
		catalog:  deps.Catalog,
		audit:    deps.Audit,
		observer: deps.Observer,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}, nil
}

// Process runs one event through validate, window resolution, keying, dedup, and dispatch admission.
// Params: context bounding dispatch admission and event.
// Returns: decision (rejected decisions also carry reason) and error for rejected events.
// Admission failures (queue full, pool closed) release the opened window so the event can be redelivered.
// When duplicates were already suppressed against that window, the job waits for queue space instead.
func (r *Router) Process(ctx context.Context, event domain.Event) (domain.Decision, error) {
	now := r.clock.Now()
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}

	if err := event.Validate(); err != nil {
		return r.reject(event, "", err, now), err
	}
	event = r.applyTemplate(event)

	window, err := r.resolveWindow(event)
	if err != nil {
		return r.reject(event, "", err, now), err
	}

	key := r.resolver.Resolve(event)
	outcome, err := r.store.CheckAndRecord(key, window, now)
	if err != nil {
		return r.reject(event, key.ID(), err, now), err
	}

	decision := domain.Decision{
		Key:             key.ID(),
		SuppressedCount: outcome.SuppressedCount,
		WindowSeconds:   window,
	}
	if outcome.Recorded {
		windowEnd := outcome.WindowEnd
		decision.WindowEnd = &windowEnd
	}

	if outcome.Kind == dedup.Duplicate {
		decision.Kind = domain.DecisionSuppressed
		r.logger.Debug("event suppressed", "key", decision.Key, "device_id", event.DeviceID,
			"message_id", event.MessageID, "suppressed_count", outcome.SuppressedCount)
		r.emit(event, decision, now)
		r.observe(decision.Kind)
		return decision, nil
	}

	decision.Kind = domain.DecisionFresh
	if len(event.Actions) == 0 {
		r.logger.Info("event accepted without actions", "key", decision.Key, "device_id", event.DeviceID, "message_id", event.MessageID)
		r.emit(event, decision, now)
		r.observe(decision.Kind)
		return decision, nil
	}

	job := dispatch.Job{
		DispatchID: uuid.NewString(),
		Key:        decision.Key,
		Event:      event,
		Actions:    event.Actions,
	}
	var abandoned error
	if err := r.pool.Submit(ctx, job); err != nil {
		err = fmt.Errorf("admit dispatch: %w", err)
		if !outcome.Recorded {
			return r.reject(event, decision.Key, err, now), err
		}
		suppressed, released := r.store.Release(decision.Key, outcome.WindowEnd)
		if released || suppressed == 0 {
			return r.reject(event, decision.Key, err, now), err
		}
		r.logger.Warn("dispatch admission failed after duplicates were suppressed, waiting for queue",
			"key", decision.Key, "device_id", event.DeviceID, "suppressed_count", suppressed, "error", err.Error())
		if waitErr := r.pool.SubmitWait(context.WithoutCancel(ctx), job); waitErr != nil {
			abandoned = fmt.Errorf("admit dispatch: %w", waitErr)
		}
	}

	r.logger.Info("event accepted", "key", decision.Key, "device_id", event.DeviceID,
		"message_id", event.MessageID, "window_seconds", window, "actions", len(job.Actions), "dispatch_id", job.DispatchID)
	r.emitDispatch(event, decision, job.DispatchID, now)
	r.observe(decision.Kind)
	if abandoned != nil {
		r.logger.Error("dispatch abandoned", "key", decision.Key, "dispatch_id", job.DispatchID, "error", abandoned.Error())
		r.HandleDispatchResult(dispatch.Abandoned(job, abandoned.Error(), r.clock.Now()))
	}
	return decision, nil
}

// HandleDispatchResult emits dispatched audit record; wire it as pool result callback.
func (r *Router) HandleDispatchResult(result domain.DispatchResult) {
	if r.observer != nil {
		r.observer.ObserveDispatch(result)
	}
	failed := result.Count(domain.ActionFailed)
	aborted := result.Count(domain.ActionAborted)
	if failed > 0 || aborted > 0 {
		r.logger.Warn("dispatch finished with failures", "dispatch_id", result.DispatchID, "key", result.Key,
			"device_id", result.DeviceID, "failed", failed, "aborted", aborted)
	} else {
		r.logger.Debug("dispatch finished", "dispatch_id", result.DispatchID, "key", result.Key, "actions", len(result.Outcomes))
	}
	if r.audit == nil {
		return
	}
	r.audit.Emit(domain.AuditRecord{
		ID:         uuid.NewString(),
		DispatchID: result.DispatchID,
		Key:        result.Key,
		DeviceID:   result.DeviceID,
		MessageID:  result.MessageID,
		Decision:   domain.DecisionDispatched,
		Outcomes:   result.Outcomes,
		Timestamp:  result.FinishedAt,
	})
}

// applyTemplate fills window and actions from matching catalog template when event omits them.
func (r *Router) applyTemplate(event domain.Event) domain.Event {
	if r.catalog == nil || (event.DedupWindowSeconds != nil && len(event.Actions) > 0) {
		return event
	}
	template, ok := r.catalog.TemplateFor(event)
	if !ok {
		return event
	}
	if event.DedupWindowSeconds == nil && template.DedupWindowSeconds != nil {
		seconds := *template.DedupWindowSeconds
		event.DedupWindowSeconds = &seconds
	}
	if len(event.Actions) == 0 && len(template.Actions) > 0 {
		event.Actions = append([]string(nil), template.Actions...)
	}
	if event.Severity == "" {
		event.Severity = template.Severity
	}
	return event
}

// resolveWindow picks event window, then device default.
// Returns: seconds or ErrInvalidWindow / ErrMissingWindowConfig.
func (r *Router) resolveWindow(event domain.Event) (int64, error) {
	var window *int64
	source := "event"
	if event.DedupWindowSeconds != nil {
		window = event.DedupWindowSeconds
	} else if r.catalog != nil {
		if profile, ok := r.catalog.DeviceProfile(event.DeviceID); ok && profile.DefaultDedupWindow != nil {
			window = profile.DefaultDedupWindow
			source = "device default"
		}
	}
	if window == nil {
		return 0, fmt.Errorf("%w: device %q message %q", domain.ErrMissingWindowConfig, event.DeviceID, event.MessageID)
	}
	if *window < 0 {
		return 0, fmt.Errorf("%w: %s window %d", domain.ErrInvalidWindow, source, *window)
	}
	return *window, nil
}

func (r *Router) reject(event domain.Event, key string, err error, now time.Time) domain.Decision {
	decision := domain.Decision{Key: key, Kind: domain.DecisionRejected, Reason: err.Error()}
	r.logger.Warn("event rejected", "key", key, "device_id", event.DeviceID, "message_id", event.MessageID, "error", err.Error())
	r.emit(event, decision, now)
	r.observe(decision.Kind)
	return decision
}

func (r *Router) emit(event domain.Event, decision domain.Decision, now time.Time) {
	r.emitDispatch(event, decision, "", now)
}

func (r *Router) emitDispatch(event domain.Event, decision domain.Decision, dispatchID string, now time.Time) {
	if r.audit == nil {
		return
	}
	r.audit.Emit(domain.AuditRecord{
		ID:              uuid.NewString(),
		DispatchID:      dispatchID,
		Key:             decision.Key,
		DeviceID:        event.DeviceID,
		MessageID:       event.MessageID,
		Severity:        event.Severity,
		Decision:        decision.Kind,
		SuppressedCount: decision.SuppressedCount,
		Reason:          decision.Reason,
		Timestamp:       now,
	})
}

func (r *Router) observe(kind domain.DecisionKind) {
	if r.observer != nil {
		r.observer.ObserveDecision(kind)
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventdedup/internal/clock"
	"eventdedup/internal/domain"
	"eventdedup/internal/executor"
)

// Job is one fresh event accepted for action dispatch.
// Params: dispatch id, dedup key, triggering event, and ordered action names.
// Returns: unit of work for dispatcher and pool.
type Job struct {
	DispatchID string
	Key        string
	Event      domain.Event
	Actions    []string
}

// Registry resolves executors by action name.
type Registry interface {
	Lookup(name string) (executor.Executor, bool)
}

// Dispatcher runs job actions in order with per-action isolation.
// Params: executor registry, clock, and logger.
// Returns: best-effort action runner.
type Dispatcher struct {
	registry Registry
	clock    clock.Clock
	logger   *slog.Logger
}

// NewDispatcher creates dispatcher.
// Params: registry (required), clock and logger (defaults when nil).
// Returns: dispatcher instance.
func NewDispatcher(registry Registry, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, clock: clk, logger: logger}
}

// Dispatch runs every action of job in listed order.
// Params: context (cancellation aborts actions not yet started) and job.
// Returns: result with one outcome per action; a failed action never prevents later ones.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) domain.DispatchResult {
	result := domain.DispatchResult{
		DispatchID: job.DispatchID,
		Key:        job.Key,
		DeviceID:   job.Event.DeviceID,
		MessageID:  job.Event.MessageID,
		Outcomes:   make([]domain.ActionOutcome, 0, len(job.Actions)),
		StartedAt:  d.clock.Now(),
	}
	for _, action := range job.Actions {
		result.Outcomes = append(result.Outcomes, d.runAction(ctx, job, action))
	}
	result.FinishedAt = d.clock.Now()
	return result
}

// Abandoned reports every action of job as aborted without running any.
// Params: job that could not be admitted, reason, and report time.
// Returns: result carrying one aborted outcome per action.
func Abandoned(job Job, reason string, at time.Time) domain.DispatchResult {
	result := domain.DispatchResult{
		DispatchID: job.DispatchID,
		Key:        job.Key,
		DeviceID:   job.Event.DeviceID,
		MessageID:  job.Event.MessageID,
		Outcomes:   make([]domain.ActionOutcome, 0, len(job.Actions)),
		StartedAt:  at,
		FinishedAt: at,
	}
	for _, action := range job.Actions {
		result.Outcomes = append(result.Outcomes, domain.ActionOutcome{Action: action, Status: domain.ActionAborted, Reason: reason})
	}
	return result
}

func (d *Dispatcher) runAction(ctx context.Context, job Job, action string) domain.ActionOutcome {
	outcome := domain.ActionOutcome{Action: action}
	if err := ctx.Err(); err != nil {
		outcome.Status = domain.ActionAborted
		outcome.Reason = "shutdown: " + err.Error()
		return outcome
	}

	exec, ok := d.registry.Lookup(action)
	if !ok {
		outcome.Status = domain.ActionFailed
		outcome.Reason = domain.ErrUnknownAction.Error()
		d.logger.Warn("action is not registered", "action", action, "device_id", job.Event.DeviceID, "key", job.Key)
		return outcome
	}

	started := d.clock.Now()
	err := d.execute(ctx, exec, executor.Request{
		Action:     action,
		DispatchID: job.DispatchID,
		Key:        job.Key,
		Event:      job.Event,
	})
	outcome.Duration = d.clock.Now().Sub(started)
	if err == nil {
		outcome.Status = domain.ActionSucceeded
		return outcome
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		outcome.Status = domain.ActionAborted
		outcome.Reason = "shutdown: " + err.Error()
		return outcome
	}
	failure := &domain.ExecutorFailure{Action: action, Reason: err.Error(), Err: err}
	outcome.Status = domain.ActionFailed
	outcome.Reason = failure.Error()
	d.logger.Warn("action failed", "action", action, "device_id", job.Event.DeviceID, "key", job.Key, "error", err.Error())
	return outcome
}

// execute isolates executor panics into failures.
func (d *Dispatcher) execute(ctx context.Context, exec executor.Executor, req executor.Request) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("executor panic: %v", recovered)
		}
	}()
	return exec.Execute(ctx, req)
}

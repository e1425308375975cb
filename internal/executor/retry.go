package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventdedup/internal/config"
	"eventdedup/internal/permanent"
)

type retryExecutor struct {
	next   Executor
	policy config.RetryConfig
	logger *slog.Logger
}

// WithRetry wraps executor with retry policy.
// Params: executor, retry policy (fixed/exponential backoff, max attempts), and logger.
// Returns: executor that stops on success, permanent error, attempt limit, or context end.
func WithRetry(next Executor, policy config.RetryConfig, logger *slog.Logger) Executor {
	if !policy.Enabled {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryExecutor{next: next, policy: policy, logger: logger}
}

// Execute runs attempts with backoff between them.
func (r *retryExecutor) Execute(ctx context.Context, req Request) error {
	backoff := time.Duration(r.policy.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(r.policy.MaxMS) * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := r.next.Execute(ctx, req)
		if err == nil {
			if r.policy.LogEachAttempt && attempt > 1 {
				r.logger.Info("action recovered after retries", "action", req.Action, "attempt", attempt)
			}
			return nil
		}
		if r.policy.LogEachAttempt {
			r.logger.Warn("action attempt failed", "action", req.Action, "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return err
		}
		if r.policy.MaxAttempts > 0 && attempt >= r.policy.MaxAttempts {
			return fmt.Errorf("action %s failed after %d attempts: %w", req.Action, attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("action %s retry interrupted after %d attempts: %w", req.Action, attempt, ctx.Err())
		case <-timer.C:
		}

		if r.policy.Backoff == config.BackoffExponential {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

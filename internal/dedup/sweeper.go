package dedup

import (
	"context"
	"log/slog"
	"time"

	"eventdedup/internal/clock"
)

// Sweeper periodically evicts expired windows from store.
// Params: store, sweep interval, clock, logger, and optional eviction callback.
// Returns: background eviction loop.
type Sweeper struct {
	store    *Store
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	onSweep  func(evicted, remaining int)
}

// NewSweeper creates sweeper.
// Params: store, interval (>0), clock (RealClock when nil), logger (default when nil), callback (optional).
// Returns: sweeper instance.
func NewSweeper(store *Store, interval time.Duration, clk clock.Clock, logger *slog.Logger, onSweep func(evicted, remaining int)) *Sweeper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, clock: clk, logger: logger, onSweep: onSweep}
}

// RunOnce runs one sweep pass.
// Params: none.
// Returns: number of evicted entries.
func (s *Sweeper) RunOnce() int {
	evicted := s.store.Sweep(s.clock.Now())
	remaining := s.store.Len()
	if evicted > 0 {
		s.logger.Debug("dedup windows evicted", "evicted", evicted, "remaining", remaining)
	}
	if s.onSweep != nil {
		s.onSweep(evicted, remaining)
	}
	return evicted
}

// Run sweeps on interval until context cancellation.
// Params: lifecycle context.
// Returns: nil after context end.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventdedup/internal/domain"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolClosed indicates submission after shutdown started.
	ErrPoolClosed = errors.New("dispatch pool is closed")
	// ErrQueueFull indicates admission wait expired while queue stayed full.
	ErrQueueFull = errors.New("dispatch queue is full")
)

// PoolConfig sizes dispatch pool.
// Params: worker count, queue capacity, and admission wait (0 waits until caller context ends).
// Returns: pool sizing.
type PoolConfig struct {
	Workers      int
	QueueSize    int
	AdmitTimeout time.Duration
}

// Pool runs dispatch jobs asynchronously on bounded queue.
// Params: dispatcher, sizing, result callback, and logger.
// Returns: backpressuring worker pool.
type Pool struct {
	dispatcher   *Dispatcher
	queue        chan Job
	workers      int
	admitTimeout time.Duration
	onResult     func(domain.DispatchResult)
	logger       *slog.Logger

	admitMu sync.RWMutex
	closed  bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	group     *errgroup.Group
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	inFlight  atomic.Int64
}

// NewPool creates pool; call Start before Submit.
// Params: dispatcher, sizing, optional result callback, and logger.
// Returns: idle pool.
func NewPool(dispatcher *Dispatcher, cfg PoolConfig, onResult func(domain.DispatchResult), logger *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		dispatcher:   dispatcher,
		queue:        make(chan Job, cfg.QueueSize),
		workers:      cfg.Workers,
		admitTimeout: cfg.AdmitTimeout,
		onResult:     onResult,
		logger:       logger,
		runCtx:       runCtx,
		cancelRun:    cancel,
	}
}

// Start launches worker goroutines.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.group = &errgroup.Group{}
		for i := 0; i < p.workers; i++ {
			p.group.Go(p.work)
		}
	})
}

func (p *Pool) work() error {
	for job := range p.queue {
		p.inFlight.Add(1)
		result := p.dispatcher.Dispatch(p.runCtx, job)
		p.inFlight.Add(-1)
		if p.onResult != nil {
			p.onResult(result)
		}
	}
	return nil
}

// Submit enqueues job, blocking while queue is full.
// Params: caller context and job.
// Returns: nil when admitted, ErrQueueFull after admission wait, ErrPoolClosed after Close, or caller context error.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	return p.admit(ctx, job, p.admitTimeout)
}

// SubmitWait enqueues job like Submit but ignores the admission timeout.
// Params: caller context and job.
// Returns: nil when admitted, ErrPoolClosed after Close, or caller context error.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	return p.admit(ctx, job, 0)
}

func (p *Pool) admit(ctx context.Context, job Job, wait time.Duration) error {
	p.admitMu.RLock()
	defer p.admitMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case p.queue <- job:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: waited %s", ErrQueueFull, wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns number of queued jobs not yet picked by workers.
func (p *Pool) Depth() int {
	return len(p.queue)
}

// InFlight returns number of jobs currently dispatched by workers.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Close stops admission and drains queued jobs.
// Params: drain context; when it ends, actions not yet started are reported aborted.
// Returns: nil on full drain or deadline error when abort path was taken.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.admitMu.Lock()
		p.closed = true
		close(p.queue)
		p.admitMu.Unlock()

		p.Start()
		done := make(chan struct{})
		go func() {
			_ = p.group.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn("dispatch drain deadline reached, aborting pending actions",
				"queued", len(p.queue), "in_flight", p.InFlight())
			p.cancelRun()
			<-done
			p.closeErr = fmt.Errorf("dispatch drain: %w", ctx.Err())
		}
		p.cancelRun()
	})
	return p.closeErr
}

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventdedup/internal/domain"
)

// Sink receives audit records.
// Params: context bounded by emitter and one record.
// Returns: delivery error (logged and counted, never propagated to router).
type Sink interface {
	Name() string
	Write(ctx context.Context, record domain.AuditRecord) error
	Close() error
}

// Hooks observe emitter behavior.
type Hooks struct {
	OnDrop      func()
	OnSinkError func(sink string)
}

// Emitter fans audit records out to sinks from a buffered queue.
// Params: buffer size, sinks, logger, and optional hooks.
// Returns: fire-and-forget audit path that never blocks callers.
type Emitter struct {
	records      chan domain.AuditRecord
	sinks        []Sink
	logger       *slog.Logger
	hooks        Hooks
	writeTimeout time.Duration

	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewEmitter creates emitter; call Start to begin delivery.
func NewEmitter(buffer int, sinks []Sink, logger *slog.Logger, hooks Hooks) *Emitter {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		records:      make(chan domain.AuditRecord, buffer),
		sinks:        sinks,
		logger:       logger,
		hooks:        hooks,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start launches delivery goroutine.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

// Emit enqueues record without blocking.
// Params: audit record.
// Returns: false when record was dropped (buffer full or emitter closed).
func (e *Emitter) Emit(record domain.AuditRecord) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop()
		return false
	}
	select {
	case e.records <- record:
		return true
	default:
		e.drop()
		return false
	}
}

func (e *Emitter) drop() {
	e.dropped.Add(1)
	if e.hooks.OnDrop != nil {
		e.hooks.OnDrop()
	}
}

// Dropped returns number of dropped records.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Emitter) run() {
	defer close(e.done)
	for record := range e.records {
		for _, sink := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
			err := sink.Write(ctx, record)
			cancel()
			if err != nil {
				e.logger.Warn("audit sink write failed", "sink", sink.Name(), "key", record.Key, "error", err.Error())
				if e.hooks.OnSinkError != nil {
					e.hooks.OnSinkError(sink.Name())
				}
			}
		}
	}
}

// Close stops intake, flushes buffered records, and closes sinks.
// Params: flush deadline context.
// Returns: context error when flush did not finish in time.
func (e *Emitter) Close(ctx context.Context) error {
	var flushErr error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.records)
		e.mu.Unlock()

		e.Start()
		select {
		case <-e.done:
		case <-ctx.Done():
			flushErr = ctx.Err()
			e.logger.Warn("audit flush deadline reached", "pending", len(e.records))
		}
		for _, sink := range e.sinks {
			if err := sink.Close(); err != nil {
				e.logger.Warn("audit sink close failed", "sink", sink.Name(), "error", err.Error())
			}
		}
	})
	return flushErr
}

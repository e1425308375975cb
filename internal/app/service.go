package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"eventdedup/internal/audit"
	"eventdedup/internal/catalog"
	"eventdedup/internal/clock"
	"eventdedup/internal/config"
	"eventdedup/internal/dedup"
	"eventdedup/internal/dispatch"
	"eventdedup/internal/domain"
	"eventdedup/internal/eventkey"
	"eventdedup/internal/executor"
	"eventdedup/internal/ingest"
	"eventdedup/internal/logging"
	"eventdedup/internal/metrics"
	"eventdedup/internal/router"

	"golang.org/x/sync/errgroup"
)

// Service composes runtime dependencies and process lifecycle.
// Params: validated config and shared runtime components.
// Returns: runnable event dedup service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	clock     clock.Clock
	metrics   *metrics.Metrics
	catalog   *catalog.Catalog
	store     *dedup.Store
	sweeper   *dedup.Sweeper
	registry  *executor.Registry
	pool      *dispatch.Pool
	audit     *audit.Emitter
	router    *router.Router
	handler   http.Handler
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	stopped   atomic.Bool
}

// NewService loads config snapshot, builds logger, and wires service.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Log, cfg.Service.Name)
	if err != nil {
		return nil, err
	}
	service, err := New(cfg, logger, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

// New wires service components from validated config.
// Params: config, logger, and clock (defaults when nil).
// Returns: service with started dispatch pool and audit emitter, or setup error.
func New(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Service{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		metrics: metrics.New(),
		store:   dedup.NewStore(cfg.Dedup.Shards),
	}

	cat, err := catalog.New(cfg.Catalog.Path, logger, func(snapshot *catalog.Snapshot) {
		s.metrics.SetCatalogDevices(len(snapshot.DeviceIDs()))
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s.catalog = cat

	ignoreArgs, err := cfg.Keying.CompiledIgnoreArgs()
	if err != nil {
		return nil, err
	}

	registry, err := executor.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build executors: %w", err)
	}
	s.registry = registry

	sinks, err := audit.BuildSinks(cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("build audit sinks: %w", err)
	}
	s.audit = audit.NewEmitter(cfg.Audit.Buffer, sinks, logger, audit.Hooks{
		OnDrop:      s.metrics.AuditDropped,
		OnSinkError: s.metrics.AuditSinkError,
	})

	var rt *router.Router
	s.pool = dispatch.NewPool(
		dispatch.NewDispatcher(registry, clk, logger),
		dispatch.PoolConfig{
			Workers:      cfg.Dispatch.Workers,
			QueueSize:    cfg.Dispatch.QueueSize,
			AdmitTimeout: cfg.Dispatch.AdmitTimeout(),
		},
		func(result domain.DispatchResult) { rt.HandleDispatchResult(result) },
		logger,
	)

	rt, err = router.New(router.Deps{
		Resolver: eventkey.NewResolver(ignoreArgs),
		Store:    s.store,
		Pool:     s.pool,
		Catalog:  cat,
		Audit:    s.audit,
		Observer: s.metrics,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	s.router = rt

	s.sweeper = dedup.NewSweeper(s.store, time.Duration(cfg.Dedup.SweepIntervalSec)*time.Second, clk, logger,
		func(evicted, remaining int) {
			s.metrics.ObserveSweep(evicted, remaining)
			s.metrics.SetDispatchLoad(s.pool.Depth(), s.pool.InFlight())
		})

	s.handler = s.buildMux()
	s.audit.Start()
	s.pool.Start()
	logger.Info("service wired",
		"actions", strings.Join(registry.Names(), ","),
		"catalog_devices", len(cat.Snapshot().DeviceIDs()),
		"workers", cfg.Dispatch.Workers,
		"queue_size", cfg.Dispatch.QueueSize)
	return s, nil
}

// Router exposes event router for embedding callers.
func (s *Service) Router() *router.Router {
	return s.router
}

// Handler returns HTTP handler with ingest and admin endpoints.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Run starts listeners and background loops and blocks until shutdown.
// Params: root context; cancellation or SIGINT/SIGTERM triggers graceful shutdown.
// Returns: terminal run or shutdown error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.startNATS(); err != nil {
		_ = s.shutdown()
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error { return s.sweeper.Run(groupCtx) })
	group.Go(func() error {
		return s.catalog.Run(groupCtx, time.Duration(s.cfg.Catalog.ReloadIntervalSec)*time.Second)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})

	s.readyFlag.Store(true)
	s.logger.Info("service started", "ingest_path", s.cfg.Ingest.HTTP.IngestPath, "nats", s.natsSub != nil)
	return group.Wait()
}

// startNATS starts JetStream ingest when enabled.
func (s *Service) startNATS() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.router, s.metrics, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// shutdown stops ingest, drains dispatch, then flushes audit.
// Params: none.
// Returns: joined close errors.
func (s *Service) shutdown() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.readyFlag.Store(false)
	timeout := time.Duration(s.cfg.Service.ShutdownTimeoutSec) * time.Second
	var errs []error

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(httpCtx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			errs = append(errs, fmt.Errorf("nats subscriber close: %w", err))
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Duration(s.cfg.Dispatch.DrainTimeoutSec)*time.Second)
	defer cancelDrain()
	if err := s.pool.Close(drainCtx); err != nil {
		s.logger.Error("dispatch drain incomplete", "error", err.Error())
		errs = append(errs, err)
	}

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), timeout)
	defer cancelAudit()
	if err := s.audit.Close(auditCtx); err != nil {
		s.logger.Error("audit flush failed", "error", err.Error())
		errs = append(errs, fmt.Errorf("audit close: %w", err))
	}
	if dropped := s.audit.Dropped(); dropped > 0 {
		s.logger.Warn("audit records dropped during run", "dropped", dropped)
	}

	s.logger.Info("service stopped", "dedup_entries", s.store.Len())
	if s.closeLog != nil {
		s.closeLog()
	}
	return errors.Join(errs...)
}

// Close shuts service down without Run; used by embedding callers and tests.
func (s *Service) Close() error {
	return s.shutdown()
}

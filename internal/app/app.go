// Package app assembles the order saga service from configuration: event bus,
// order store, saga log, orchestrator, HTTP gateway and, optionally, the
// simulated inventory and payment participants.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/gateway/httpx"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
	"github.com/jcmexdev/order-saga/internal/saga"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog/sqlite"
	"github.com/jcmexdev/order-saga/internal/simulator"
)

type Options struct {
	// Simulate runs the in-process inventory and payment participants.
	Simulate bool
	// Clock overrides the orchestrator clock. Defaults to the real clock.
	Clock clockwork.Clock
}

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	bus          eventbus.Bus
	store        order.Store
	orchestrator *saga.Orchestrator
	handler      http.Handler

	Inventory *simulator.Inventory
	Payment   *simulator.Payment

	closers []func() error
}

// New wires every component. On error, whatever was opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.SetupTracer(ctx, telemetry.TracerOptions{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Environment: cfg.Telemetry.Environment,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}

	store, storeClosers, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, storeClosers...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sagaOpts := []saga.Option{
		saga.WithLogger(logger),
		saga.WithTimeout(cfg.Saga.Timeout),
		saga.WithSweepInterval(cfg.Saga.SweepInterval),
		saga.WithRetention(cfg.Saga.Retention),
		saga.WithMetrics(saga.NewMetrics(reg)),
	}
	if opts.Clock != nil {
		sagaOpts = append(sagaOpts, saga.WithClock(opts.Clock))
	}

	// history stays an untyped nil when the log is disabled so the gateway
	// can tell.
	var history sagalog.Reader
	if cfg.SagaLog.Path != "" {
		repo, err := sqlite.Open(cfg.SagaLog.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		sagaOpts = append(sagaOpts, saga.WithJournal(repo))
		history = repo
	}

	// Opened last so it is closed first: in-flight handlers still write to
	// the store and the journal while the bus drains.
	a.bus, err = OpenBus(ctx, cfg.Bus, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)

	a.orchestrator, err = saga.New(a.store, a.bus, sagaOpts...)
	if err != nil {
		return nil, err
	}

	if opts.Simulate {
		a.Inventory = simulator.NewInventory(a.bus, simulator.DefaultStock(), logger)
		a.Payment = simulator.NewPayment(a.bus, simulator.DefaultChargeLimit, logger)
	}

	h := httpx.NewHandler(a.orchestrator, a.store, history, logger)
	a.handler = httpx.NewRouter(h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
	return a, nil
}

// Handler is the HTTP API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start subscribes the participants and starts the orchestrator.
func (a *App) Start(ctx context.Context) error {
	if a.Inventory != nil {
		if err := a.Inventory.Register(a.bus); err != nil {
			return fmt.Errorf("app: register inventory: %w", err)
		}
	}
	if a.Payment != nil {
		if err := a.Payment.Register(a.bus); err != nil {
			return fmt.Errorf("app: register payment: %w", err)
		}
	}
	return a.orchestrator.Start(ctx)
}

// Run starts the service and serves HTTP until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, "http server listening", "addr", a.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("http: serve: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http: shutdown: %w", err))
	}
	if err := a.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close stops the orchestrator and releases every resource in reverse order
// of acquisition.
func (a *App) Close() error {
	if a.orchestrator != nil {
		a.orchestrator.Stop()
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

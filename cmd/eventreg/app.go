package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/config"
	"github.com/Shivanand-hulikatti/eventreg/internal/database"
	"github.com/Shivanand-hulikatti/eventreg/internal/handler"
	"github.com/Shivanand-hulikatti/eventreg/internal/metrics"
	"github.com/Shivanand-hulikatti/eventreg/internal/notify"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/service"
	"github.com/Shivanand-hulikatti/eventreg/internal/ticket"
)

// app holds every wired layer of the service.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    repository.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	nc       *nats.Conn
	notifier *notify.Notifier
	events   *service.EventService
}

// newApp opens the store, applies migrations and wires the layers.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := database.Open(ctx, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("connected to ledger store", "driver", cfg.DB.Driver)

	a := &app{cfg: cfg, logger: logger, store: store}
	a.registry, a.metrics = metrics.NewRegistry()

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if cfg.NATSURL != "" {
		if a.nc, err = notify.Connect(cfg.NATSURL, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
		dispatcher = notify.NewNATSDispatcher(a.nc, cfg.NATSSubject)
		logger.Info("ticket notifications go to NATS", "subject", cfg.NATSSubject)
	}
	a.notifier = notify.NewNotifier(dispatcher, cfg.NotifyTimeout, logger, a.metrics)

	ctrl := admission.New(store, ticket.NewIssuer(nil, a.notifier),
		admission.WithMaxAttempts(cfg.AdmissionMaxAttempts),
		admission.WithLogger(logger),
		admission.WithMetrics(a.metrics),
	)
	a.events = service.NewEventService(store, ctrl,
		service.WithLogger(logger),
		service.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) router() http.Handler {
	return handler.NewRouter(handler.NewEventHandler(a.events, a.logger), handler.RouterConfig{
		JWTSecret: []byte(a.cfg.JWTSecret),
		Gatherer:  a.registry,
		Logger:    a.logger,
	})
}

// Close waits for pending notifications, then releases connections.
func (a *app) Close() error {
	a.notifier.Wait()
	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

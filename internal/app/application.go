package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raysh454/sheetcas/internal/logging"
	"github.com/raysh454/sheetcas/internal/metrics"
	"github.com/raysh454/sheetcas/internal/patch"
	"github.com/raysh454/sheetcas/internal/sheets"
)

// Application is the runtime state container: config, logger, the metrics
// registry and the service built on top of them. Pass it to the transport
// layer rather than using package-level variables.
type Application struct {
	Config   *Config
	Logger   logging.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Service  *Service

	store patch.Store
}

// NewApplication opens the configured backend and patch store and wires a Service.
func NewApplication(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("app: nil logger provided")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	open, err := sheets.NewOpener(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	store, err := patch.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open patch store: %w", err)
	}
	svc, err := NewService(cfg, open, store, logger, m)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Application{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  m,
		Service:  svc,
		store:    store,
	}, nil
}

// Shutdown releases the patch store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.Logger.Warn("patch store close returned error", logging.Field{Key: "error", Value: err.Error()})
		return err
	}
	return nil
}

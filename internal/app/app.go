// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package app wires configuration into a running set of components.
package app

import (
	"context"
	"errors"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"

	"nlcube/cli/internal/config"
	"nlcube/cli/internal/engine"
	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/pipeline"
	"nlcube/cli/internal/schema"
	"nlcube/cli/internal/service"
	"nlcube/cli/internal/sqlguard"
	"nlcube/cli/internal/store"
	"nlcube/cli/internal/store/postgres"
	"nlcube/cli/internal/store/sqlite"
	"nlcube/cli/internal/subject"
	"nlcube/cli/internal/translate"
	"nlcube/cli/internal/watch"
	"nlcube/cli/internal/workers"
)

// App is a fully wired nlcube.
type App struct {
	Config   config.Config
	Driver   store.Driver
	Registry *subject.Registry
	Schemas  *schema.Cache
	Service  *service.Service
	Metrics  *metrics.Metrics
	Logger   *pterm.Logger

	translator translate.Translator
	workers    *workers.Pool
	redis      *redis.Client
}

// Build validates cfg and constructs every component. reg may be nil, in
// which case metrics are still recorded but not exported.
func Build(cfg config.Config, logger *pterm.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	drv, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New(reg)

	tr, err := translate.New(cfg.Translator)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Driver: drv, Metrics: m, Logger: logger, translator: tr}
	if addr := cfg.Translator.Cache.RedisAddr; addr != "" {
		rdb, err := translate.NewRedisClient(addr)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.ConfigurationError, "translator.cache.redis_addr", err)
		}
		a.redis = rdb
		tr = translate.NewCached(tr, rdb, cfg.Translator.Cache.TTL, logger)
	}

	a.Registry = subject.New(drv, subject.Options{
		PoolSize:       cfg.Store.PoolSize,
		AcquireTimeout: cfg.Store.AcquireTimeout,
		OpenRetries:    cfg.Store.OpenRetries,
		ProbeTimeout:   cfg.Store.ProbeTimeout,
		RemoveTimeout:  cfg.Store.RemoveTimeout,
	}, logger, m)
	a.Schemas = schema.New(a.Registry, cfg.Schema.StaleAfter, logger, m)
	a.workers = workers.New(cfg.Execution.Workers)

	a.Service = service.New(service.Deps{
		Driver:   drv,
		Registry: a.Registry,
		Schemas:  a.Schemas,
		Pipeline: pipeline.New(pipeline.Deps{
			Schemas:    a.Schemas,
			Translator: tr,
			Validator:  &sqlguard.Validator{AllowWrites: cfg.Guard.AllowWrites, Patterns: sqlguard.NewPatternSet()},
			Workers:    a.workers,
			Timeout:    cfg.Translator.Timeout,
			Logger:     logger,
			Metrics:    m,
		}),
		Engine:       engine.New(a.Registry, a.workers, cfg.Execution.Timeout, logger, m),
		RawValidator: &sqlguard.Validator{AllowWrites: cfg.Guard.AllowRawWrites, Patterns: sqlguard.NewPatternSet()},
		Retry: service.RetryPolicy{
			Attempts: cfg.Execution.Retries,
			Backoff:  cfg.Execution.RetryBackoff,
		},
		Logger: logger,
	})
	return a, nil
}

func newDriver(cfg config.Config) (store.Driver, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		drv, err := postgres.New(cfg.Store.DSN)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.ConfigurationError, "store.dsn", err)
		}
		return drv, nil
	default:
		drv, err := sqlite.New(cfg.DataDir)
		if err != nil {
			return nil, nerrors.Wrap(nerrors.ConfigurationError, "data_dir", err)
		}
		return drv, nil
	}
}

// Watch follows the data dir until ctx ends. Only file-backed drivers can be
// watched; for others it returns immediately.
func (a *App) Watch(ctx context.Context) error {
	drv, ok := a.Driver.(*sqlite.Driver)
	if !ok {
		return nil
	}
	w, err := watch.New(drv.DataDir(), drv, a.Registry, a.Schemas, 0, a.Logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Close drains the pools and releases the translator and cache clients.
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.Service.Close(ctx), a.workers.Close(ctx)}
	if c, ok := a.translator.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

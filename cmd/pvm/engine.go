package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/aretw0/pvm"
	"github.com/aretw0/pvm/internal/config"
	"github.com/aretw0/pvm/internal/telemetry"
	"github.com/aretw0/pvm/pkg/adapters/file"
	"github.com/aretw0/pvm/pkg/adapters/memory"
	"github.com/aretw0/pvm/pkg/adapters/process"
	"github.com/aretw0/pvm/pkg/adapters/redis"
	"github.com/aretw0/pvm/pkg/adapters/sqlite"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/persistence/middleware"
	"github.com/aretw0/pvm/pkg/ports"
)

// openEngine builds an engine for the configured backend. The returned
// cleanup closes the store and flushes pending spans.
func openEngine(ctx context.Context, hooks domain.LifecycleHooks) (*pvm.Engine, func(), error) {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	opts := []pvm.Option{
		pvm.WithLogger(logger),
		pvm.WithLifecycleHooks(hooks),
		pvm.WithLockTTL(cfg.Lock.TTL),
		pvm.WithTracer(otel.Tracer("github.com/aretw0/pvm")),
	}
	var (
		store   ports.StateStore
		closers []func() error
	)
	cleanup := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		errs = append(errs, shutdown(context.WithoutCancel(ctx)))
		if err := errors.Join(errs...); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		rc := cfg.Store.Redis
		rs := redis.New(rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.Prefix), redis.WithTTL(rc.TTL))
		closers = append(closers, rs.Client().Close)
		if err := rs.Ping(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
		}
		store = rs
		if cfg.Lock.Distributed {
			opts = append(opts, pvm.WithLocker(redis.NewLocker(rs.Client(), rc.Prefix)))
		}
	case config.BackendSQLite:
		ss, err := sqlite.Open(cfg.Store.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, ss.Close)
		store = ss
		opts = append(opts, pvm.WithDefinitionRepository(ss.Definitions()))
	case config.BackendFile:
		store = file.New(cfg.Store.File.Path)
	default:
		store = memory.NewStore()
	}

	active, fallback, err := cfg.Security.Keys()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if active != nil {
		encrypt, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = middleware.Chain(store, encrypt)
	}
	opts = append(opts, pvm.WithStore(store))

	eng, err := pvm.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.Tools.Path != "" {
		tools, err := process.LoadTools(cfg.Tools.Path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		runner := process.NewRunner(process.WithTools(tools), process.WithBaseDir(cfg.Tools.Dir))
		runner.RegisterAll(eng.Behaviors())
		logger.Debug("tools registered", "path", cfg.Tools.Path, "tools", runner.Names())
	}
	return eng, cleanup, nil
}

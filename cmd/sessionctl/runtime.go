package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/idp-sessions-go/events"
	"github.com/ggoodman/idp-sessions-go/events/redisstream"
	"github.com/ggoodman/idp-sessions-go/internal/logging"
	"github.com/ggoodman/idp-sessions-go/sessionmanager"
	"github.com/ggoodman/idp-sessions-go/storage"
	"github.com/ggoodman/idp-sessions-go/storage/memory"
	"github.com/ggoodman/idp-sessions-go/storage/postgres"
	"github.com/ggoodman/idp-sessions-go/storage/redis"
)

// runtime wires storage, events and the manager for one command invocation.
type runtime struct {
	cfg     cliConfig
	log     *slog.Logger
	store   storage.Storage
	disp    *events.Dispatcher
	fwd     *redisstream.Forwarder
	mgr     *sessionmanager.Manager
	closers []func(context.Context)
}

type runtimeOptions struct {
	// background enables backend sweeps; one-shot commands leave them off.
	background bool
	metrics    sessionmanager.MetricsSink
}

func openRuntime(ctx context.Context, cfg cliConfig, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg: cfg,
		log: logging.New(os.Stderr, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel)),
	}

	store, eventsClient, err := openStore(ctx, cfg, opts.background)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	rt.store = store
	if eventsClient != nil {
		rt.closers = append(rt.closers, func(context.Context) { _ = eventsClient.Close() })
	}

	if eventsClient == nil && cfg.EventsRedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.EventsRedisAddr})
		rt.closers = append(rt.closers, func(context.Context) { _ = client.Close() })
		eventsClient = client
	}

	rt.disp = events.NewDispatcher(events.WithLogger(rt.log))
	if eventsClient != nil {
		scfg, err := redisstream.ConfigFromEnv()
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		scfg.Client = eventsClient
		if rt.fwd, err = redisstream.New(scfg); err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.disp.Subscribe(rt.fwd)
	}

	mcfg, err := sessionmanager.ConfigFromEnv()
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	mopts := []sessionmanager.Option{
		sessionmanager.WithConfig(mcfg),
		sessionmanager.WithPublisher(rt.disp),
		sessionmanager.WithLogger(rt.log),
	}
	if opts.metrics != nil {
		mopts = append(mopts, sessionmanager.WithMetrics(opts.metrics))
	}
	if rt.mgr, err = sessionmanager.New(rt.store, mopts...); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Close stops the manager, delivers queued events and releases backends.
func (rt *runtime) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if rt.mgr != nil {
		if err := rt.mgr.Close(ctx); err != nil {
			rt.log.WarnContext(ctx, "sessionctl.manager.close_fail", slog.String("err", err.Error()))
		}
	}
	if rt.disp != nil {
		if err := rt.disp.Close(ctx); err != nil {
			rt.log.WarnContext(ctx, "sessionctl.events.close_fail", slog.String("err", err.Error()))
		}
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i](ctx)
	}
}

// openStore opens the configured backend. For Redis it also returns the
// client so events can be forwarded over the same connection; the caller
// closes it after the store.
func openStore(ctx context.Context, cfg cliConfig, background bool) (storage.Storage, goredis.UniversalClient, error) {
	switch cfg.Backend {
	case "memory":
		interval := time.Duration(0)
		if background {
			interval = memory.DefaultSweepInterval
		}
		s, err := memory.New(cfg.MemoryMaxItems, memory.WithSweepInterval(interval))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case "redis":
		var rcfg redis.Config
		if err := envdecode.Decode(&rcfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, nil, fmt.Errorf("decode redis config: %w", err)
		}
		client := goredis.NewClient(&goredis.Options{Addr: rcfg.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		rcfg.Client = client
		if !background {
			rcfg.SweepInterval = 0
		}
		s, err := redis.New(rcfg)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, client, nil

	case "postgres":
		var pcfg postgres.Config
		if err := envdecode.Decode(&pcfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, nil, fmt.Errorf("decode postgres config: %w", err)
		}
		if !background {
			pcfg.SweepInterval = 0
		}
		s, err := postgres.New(ctx, pcfg)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

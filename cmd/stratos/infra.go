package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfcache "github.com/Strob0t/stratos/internal/adapter/cache"
	cfnats "github.com/Strob0t/stratos/internal/adapter/nats"
	"github.com/Strob0t/stratos/internal/adapter/postgres"
	"github.com/Strob0t/stratos/internal/adapter/sqlite"
	"github.com/Strob0t/stratos/internal/config"
	"github.com/Strob0t/stratos/internal/port/cache"
	"github.com/Strob0t/stratos/internal/port/database"
)

const redisKeyPrefix = "stratos:"

// openStore connects the configured store and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
		return postgres.NewStore(pool), pool.Close, nil
	}
}

// buildCache returns the task snapshot cache: an in-process L1, tiered over
// the configured L2 when it is reachable. An unreachable L2 is logged and
// skipped.
func buildCache(ctx context.Context, cfg *config.Config, bus *cfnats.Queue) (cache.Cache, func(), error) {
	l1, err := cfcache.NewMemory(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	closeAll := l1.Close

	var l2 cache.Cache
	switch cfg.Cache.L2Backend {
	case "redis":
		rc, err := cfcache.NewRedis(ctx, cfcache.RedisConfig{
			Addr:        cfg.Cache.Redis.Addr,
			Username:    cfg.Cache.Redis.Username,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			Prefix:      redisKeyPrefix,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			slog.Warn("redis cache unavailable, using L1 only", "error", err)
			break
		}
		l2 = rc
		closeAll = func() {
			_ = rc.Close()
			l1.Close()
		}
	case "nats":
		if bus == nil {
			break
		}
		kv, err := bus.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			slog.Warn("nats kv cache unavailable, using L1 only", "error", err)
			break
		}
		l2 = cfcache.NewKV(kv)
	}

	if l2 == nil {
		return l1, closeAll, nil
	}
	slog.Info("tiered cache enabled", "l2", cfg.Cache.L2Backend)
	return cfcache.NewTiered(l1, l2, cfg.Cache.TTL), closeAll, nil
}

// healthChecks lists the dependencies GET /health probes.
func healthChecks(store database.Store, bus *cfnats.Queue) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{"store": store.Ping}
	if bus != nil {
		checks["nats"] = func(context.Context) error {
			if !bus.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	return checks
}

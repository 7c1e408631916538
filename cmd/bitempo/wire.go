package main

import (
	"github.com/bitempo/bitempo/internal/config"
	"github.com/bitempo/bitempo/internal/db"
	"github.com/bitempo/bitempo/internal/engine"
	"github.com/bitempo/bitempo/internal/keylock"
	"github.com/bitempo/bitempo/internal/metrics"
	"github.com/bitempo/bitempo/internal/repository"
	"github.com/bitempo/bitempo/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// buildRegistry registers the configured entity types plus any extras named
// on the command line.
func buildRegistry(engCfg config.Engine, log *zap.Logger, extra ...string) *engine.Registry {
	registry := engine.NewRegistry()
	for _, entityType := range append(engCfg.TrackedTypes, extra...) {
		if err := registry.Register(entityType); err != nil {
			log.Fatal("failed to register entity type",
				zap.String("entity_type", entityType), zap.Error(err))
		}
	}
	registry.Freeze()
	return registry
}

func buildLocker(engCfg config.Engine, log *zap.Logger) keylock.Locker {
	if engCfg.RedisURL == "" {
		return keylock.NewMutex()
	}
	opts, err := redis.ParseURL(engCfg.RedisURL)
	if err != nil {
		log.Fatal("invalid redis URL", zap.Error(err))
	}
	return keylock.NewRedisLocker(redis.NewClient(opts), engCfg.LockTTL)
}

// buildEngine wires an engine with the in-process scheduler, for one-shot
// commands like resync.
func buildEngine(conn *db.Connection, engCfg config.Engine, log *zap.Logger, extraTypes ...string) *engine.Engine {
	sched := scheduler.NewLocal(log)
	return engine.New(
		buildRegistry(engCfg, log, extraTypes...),
		repository.NewPostgresHistoryStore(conn.Pool),
		repository.NewPostgresMetaStore(conn.Pool),
		repository.NewPostgresCurrentStore(conn.Pool),
		sched,
		log,
		engine.Options{
			Locker:  buildLocker(engCfg, log),
			Metrics: metrics.New(),
			Grace:   engCfg.ActivationGrace,
		},
	)
}

// buildWorkerEngine wires an engine against the durable Postgres scheduler
// and returns both so the caller can run the polling loop.
func buildWorkerEngine(conn *db.Connection, engCfg config.Engine, log *zap.Logger) (*engine.Engine, *scheduler.Postgres) {
	sched := scheduler.NewPostgres(conn.Pool, log, engCfg.WorkerPoll)
	eng := engine.New(
		buildRegistry(engCfg, log),
		repository.NewPostgresHistoryStore(conn.Pool),
		repository.NewPostgresMetaStore(conn.Pool),
		repository.NewPostgresCurrentStore(conn.Pool),
		sched,
		log,
		engine.Options{
			Locker:  buildLocker(engCfg, log),
			Metrics: metrics.New(),
			Grace:   engCfg.ActivationGrace,
		},
	)
	return eng, sched
}

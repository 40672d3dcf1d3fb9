package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"geoattend/internal/attendance"
	"geoattend/internal/classes"
	"geoattend/internal/config"
	"geoattend/internal/logging"
	"geoattend/internal/queue"
	"geoattend/internal/reportcache"
	"geoattend/internal/store"
	"geoattend/internal/users"
	"geoattend/internal/worker"
)

// Worker consumes class events from Redis and keeps cached reports warm.
func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	if cfg.QueueBackend == "memory" || cfg.StoreBackend == "memory" {
		log.Fatal("the worker needs the redis queue and the postgres store; in-memory backends are consumed by the api process")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Fatal("redis not reachable", zap.String("addr", cfg.RedisAddr))
	}

	cache := reportcache.New(redisClient.Client, cfg.ReportCacheTTL)
	att := attendance.NewService(
		attendance.NewRepository(db.Client),
		classes.NewRepository(db.Client),
		users.NewRepository(db.Client),
		cfg.Timezone,
		log.Named("attendance"),
		attendance.WithReportCache(cache),
	)

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	w := worker.New(q, att, cache, log.Named("worker"))
	if err := w.Run(ctx); err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}
}

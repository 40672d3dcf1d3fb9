package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/classes"
	"geoattend/internal/config"
	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/reportcache"
	"geoattend/internal/store"
	"geoattend/internal/store/memory"
	"geoattend/internal/users"
	"geoattend/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// backends are the stores behind the services.
type backends struct {
	users      users.Store
	classes    classes.Store
	attendance attendance.Store
	healthy    handler.Checker
	close      func() error
}

func openStores(ctx context.Context, cfg config.App, log *zap.Logger) (backends, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		return backends{
			users:      mem,
			classes:    mem,
			attendance: mem,
			healthy:    func(context.Context) bool { return true },
			close:      func() error { return nil },
		}, nil
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return backends{}, err
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return backends{}, err
		}
		log.Info("database migrated")
	}
	return backends{
		users:      users.NewRepository(db.Client),
		classes:    classes.NewRepository(db.Client),
		attendance: attendance.NewRepository(db.Client),
		healthy:    db.Healthy,
		close:      db.Close,
	}, nil
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	redisUp := redisClient.Healthy(ctx)
	if !redisUp {
		log.Warn("redis not reachable, report cache disabled", zap.String("addr", cfg.RedisAddr))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	attOpts := []attendance.Option{attendance.WithEvents(q), attendance.WithMetrics(m)}
	var cache *reportcache.Cache
	if redisUp {
		cache = reportcache.New(redisClient.Client, cfg.ReportCacheTTL)
		attOpts = append(attOpts, attendance.WithReportCache(cache))
	}

	userSvc := users.NewService(stores.users, 0, log.Named("users"), users.WithEvents(q))
	classSvc := classes.NewService(stores.classes, q, m, log.Named("classes"))
	attSvc := attendance.NewService(stores.attendance, stores.classes, stores.users, cfg.Timezone, log.Named("attendance"), attOpts...)

	// An in-process queue has no external worker; consume it here.
	if cfg.QueueBackend == "memory" {
		var inv worker.Invalidator
		if cache != nil {
			inv = cache
		}
		w := worker.New(q, attSvc, inv, log.Named("worker"))
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("in-process worker failed", zap.Error(err))
			}
		}()
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" && redisUp {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, "", cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	h := handler.New(userSvc, classSvc, attSvc, signer, time.Now, log.Named("http"))

	required, optional := healthChecks(cfg, stores.healthy, redisClient.Healthy)
	r := newRouter(h, routerDeps{
		limiter:  limiter,
		registry: registry,
		required: required,
		optional: optional,
		log:      log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// healthChecks splits checks into those that fail /healthz and those only
// reported. Redis is required only when events go through it; the report
// cache and rate limiter work without it.
func healthChecks(cfg config.App, db, redis handler.Checker) (required, optional map[string]handler.Checker) {
	required = map[string]handler.Checker{"db": db}
	optional = map[string]handler.Checker{}
	if cfg.QueueBackend == "redis" {
		required["redis"] = redis
	} else {
		optional["redis"] = redis
	}
	return required, optional
}

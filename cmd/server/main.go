package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/config"
	handler "github.com/Harsh-BH/codesandbox/internal/delivery/http"
	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/executor"
	"github.com/Harsh-BH/codesandbox/internal/logger"
	"github.com/Harsh-BH/codesandbox/internal/notify"
	"github.com/Harsh-BH/codesandbox/internal/notify/amqp"
	"github.com/Harsh-BH/codesandbox/internal/pool"
	"github.com/Harsh-BH/codesandbox/internal/ratelimit"
	"github.com/Harsh-BH/codesandbox/internal/reaper"
	"github.com/Harsh-BH/codesandbox/internal/repository"
	"github.com/Harsh-BH/codesandbox/internal/repository/memory"
	"github.com/Harsh-BH/codesandbox/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/codesandbox/internal/repository/redis"
	"github.com/Harsh-BH/codesandbox/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting codesandbox server",
		zap.String("store", cfg.Store.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("rate_limit", cfg.RateLimit.Backend),
		zap.String("sandbox", cfg.Sandbox.Backend),
	)

	gin.SetMode(cfg.Server.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := handler.NewHealthHandler(nil, log)

	// Redis backs the cache and the limiter when either asks for it.
	var rdb *goredis.Client
	if cfg.Cache.Backend == "redis" || cfg.RateLimit.Backend == "redis" {
		redisOpts, err := goredis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			log.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		rdb = goredis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to ping Redis", zap.Error(err))
		}
		health.WithCheck("redis", handler.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		log.Info("Connected to Redis")
	}

	store, closeStore := openStore(ctx, cfg, health, log)
	defer closeStore()

	var cache repository.ResultCache
	switch cfg.Cache.Backend {
	case "redis":
		cache = redisrepo.NewRedisResultCache(rdb, cfg.Cache.TTL)
	default:
		cache = memory.NewResultCache(cfg.Cache.TTL, nil)
	}

	limiter, err := openLimiter(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("Failed to initialize rate limiter", zap.Error(err))
	}

	runtime, closeRuntime := openRuntime(ctx, cfg, health, log)
	defer closeRuntime()

	// In-process subscribers always read from the hub. With RabbitMQ configured,
	// events go through the exchange so every replica's hub sees them.
	hub := notify.NewHub()
	var sink notify.Sink = hub
	if cfg.Notify.RabbitMQURL != "" {
		pub, err := amqp.NewPublisher(cfg.Notify.RabbitMQURL, cfg.Notify.Exchange, log)
		if err != nil {
			log.Fatal("Failed to initialize event publisher", zap.Error(err))
		}
		defer pub.Close()

		consumer, err := amqp.NewConsumer(cfg.Notify.RabbitMQURL, cfg.Notify.Exchange, hub, log)
		if err != nil {
			log.Fatal("Failed to initialize event consumer", zap.Error(err))
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event consumer stopped", zap.Error(err))
			}
		}()

		sink = pub
		health.WithCheck("rabbitmq", pub)
		log.Info("Connected to RabbitMQ", zap.String("exchange", cfg.Notify.Exchange))
	}

	retry := usecase.RetryPolicy{Retries: cfg.Task.WriteRetries, Backoff: cfg.Task.WriteBackoff}

	// Initialize the execution side
	executeUC := usecase.NewExecuteTaskUsecase(store, cache, runtime, sink, retry, log)
	workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, cfg.Worker.QueueDepth, executeUC, log)
	workerPool.Start(ctx)

	stuckReaper := reaper.New(store, workerPool, sink, reaper.Config{
		Interval:      cfg.Reaper.Interval,
		StuckDeadline: cfg.Reaper.StuckDeadline,
		BatchSize:     cfg.Reaper.BatchSize,
	}, log)
	stuckReaper.Start(ctx)

	// Initialize use cases
	submitUC := usecase.NewSubmitTaskUsecase(store, cache, limiter, workerPool, sink, usecase.SubmitLimits{
		DefaultTimeout:  cfg.Task.Timeout,
		MaxTimeout:      cfg.Task.MaxTimeout,
		DefaultMemoryKB: cfg.Task.MemoryLimitKB,
		MaxMemoryKB:     cfg.Task.MaxMemoryKB,
	}, log)
	getUC := usecase.NewGetTaskUsecase(store, log)
	cancelUC := usecase.NewCancelTaskUsecase(store, workerPool, sink, retry, log)
	listUC := usecase.NewListTasksUsecase(store)

	health.WithSlots(workerPool)
	router := handler.NewRouter(
		handler.NewTaskHandler(submitUC, getUC, cancelUC, listUC, log),
		handler.NewStreamHandler(getUC, hub, log),
		health,
		cfg.Server.MaxBodyBytes,
		log,
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down codesandbox server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stuckReaper.Stop()
	workerPool.Stop(shutdownCtx)
	cancel()

	log.Info("Codesandbox server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, health *handler.HealthHandler, log *zap.Logger) (repository.TaskStore, func()) {
	if cfg.Store.Backend != "postgres" {
		store := memory.NewTaskStore()
		health.WithCheck("store", store)
		return store, func() {}
	}

	dbPool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	if err := postgres.EnsureSchema(ctx, dbPool); err != nil {
		log.Fatal("Failed to apply schema", zap.Error(err))
	}
	log.Info("Connected to PostgreSQL")

	health.WithCheck("postgres", handler.CheckFunc(dbPool.Ping))
	return postgres.NewPostgresTaskStore(dbPool), dbPool.Close
}

func openLimiter(ctx context.Context, cfg *config.Config, rdb *goredis.Client, log *zap.Logger) (ratelimit.Limiter, error) {
	overrides, err := ratelimit.ParseOverrides(cfg.RateLimit.Overrides)
	if err != nil {
		return nil, err
	}
	quotas := &ratelimit.StaticQuota{
		Default:   domain.Quota{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window},
		Overrides: overrides,
	}

	if cfg.RateLimit.Backend == "redis" {
		return redisrepo.NewRedisRateLimiter(rdb, quotas), nil
	}

	window := ratelimit.NewSlidingWindow(quotas)
	go func() {
		ticker := time.NewTicker(cfg.RateLimit.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := window.Evict(ctx, now.UTC()); n > 0 {
					log.Debug("Evicted idle rate limit windows", zap.Int("count", n))
				}
			}
		}
	}()
	return window, nil
}

func openRuntime(ctx context.Context, cfg *config.Config, health *handler.HealthHandler, log *zap.Logger) (executor.Runtime, func()) {
	if cfg.Sandbox.Backend != "docker" {
		return executor.NewNsjailRuntime(cfg.Sandbox.NsjailPath, cfg.Sandbox.ConfigDir, cfg.Sandbox.CgroupRoot, log), func() {}
	}

	rt, err := executor.NewDockerRuntime(map[domain.Language]string{
		domain.LangPython:     cfg.Sandbox.ImagePython,
		domain.LangCpp:        cfg.Sandbox.ImageCpp,
		domain.LangJavaScript: cfg.Sandbox.ImageJavaScript,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize Docker runtime", zap.Error(err))
	}
	if err := rt.Ping(ctx); err != nil {
		log.Fatal("Failed to reach Docker daemon", zap.Error(err))
	}
	health.WithCheck("docker", rt)
	log.Info("Connected to Docker daemon")
	return rt, func() { _ = rt.Close() }
}

// Command server runs the gem progression HTTP API and the end-of-day scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aimd54/gem-progression/internal/api/rewards"
	"github.com/aimd54/gem-progression/internal/cache"
	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/hooks"
	"github.com/aimd54/gem-progression/internal/repository"
	"github.com/aimd54/gem-progression/internal/service/catalog"
	"github.com/aimd54/gem-progression/internal/service/endofday"
	"github.com/aimd54/gem-progression/internal/service/engine"
	"github.com/aimd54/gem-progression/internal/service/scheduler"
	"github.com/aimd54/gem-progression/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	db, err := repository.NewDB(&cfg.Database.Postgres, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if err := db.AutoMigrate(); err != nil {
		return err
	}

	var catalogCache cache.Cache
	if cfg.Database.Redis.CacheEnabled() {
		redisCache, err := cache.NewRedisCache(&cfg.Database.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = redisCache.Close() }()
		catalogCache = redisCache
	} else {
		log.Info().Msg("Redis not configured, catalog cache disabled")
	}

	catalogRepo := repository.NewCatalogRepository(db)
	catalogService, err := catalog.NewService(
		catalogRepo,
		catalogCache,
		cfg.Rewards.CatalogCacheTTL(),
		log,
	)
	if err != nil {
		return err
	}

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	ledgerRepo := repository.NewLedgerRepository(db)
	engineService, err := engine.NewService(catalogService, ledgerRepo, repository.NewActivityRepository(db), opts, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := catalogService.EnsureCatalog(ctx); err != nil {
		return fmt.Errorf("failed to ensure catalog: %w", err)
	}

	sched := scheduler.NewService(cfg, endofday.NewService(ledgerRepo, engineService, log), log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok"}
		if err := db.Health(); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		}
		if n, err := catalogRepo.Count(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["catalog"] = err.Error()
		} else {
			checks["catalog"] = n
		}
		if catalogCache != nil {
			checks["cache"] = "ok"
			if err := catalogCache.Health(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				checks["cache"] = err.Error()
			}
		}
		c.JSON(status, gin.H{"checks": checks, "timestamp": time.Now().UTC()})
	})
	if cfg.Metrics.Prometheus.Enabled {
		router.GET(cfg.Metrics.Prometheus.Path, gin.WrapH(promhttp.Handler()))
	}

	apiOpts, err := rewards.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	handler := rewards.NewHandler(catalogService, engineService, hooks.New(engineService, log), apiOpts, log)
	handler.RegisterRoutes(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	httpLog := log.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLog.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

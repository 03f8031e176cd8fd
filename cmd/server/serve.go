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

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"model-serving-gateway/internal/adapters/primary/http/handlers"
	"model-serving-gateway/internal/adapters/primary/http/middleware"
	"model-serving-gateway/internal/adapters/secondary/artifacts"
	"model-serving-gateway/internal/adapters/secondary/loaders"
	"model-serving-gateway/internal/adapters/secondary/postgres"
	"model-serving-gateway/internal/adapters/secondary/prometheus"
	"model-serving-gateway/internal/adapters/secondary/sqlite"
	"model-serving-gateway/internal/config"
	"model-serving-gateway/internal/core/ports/output"
	"model-serving-gateway/internal/core/services"
)

func runServe(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(cfg)

	repo, closeRepo, err := openRepository(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := openArtifactStore(&cfg.Artifacts)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := prometheus.NewRecorder(reg)

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	loaderSet := loaders.Default(store, loaders.WithMaxArtifactSize(cfg.Artifacts.MaxSize))

	cache, err := services.NewHandleCache(cfg.Inference.HandleCacheSize, rec)
	if err != nil {
		return err
	}
	if cache != nil {
		log.Infof("handle cache enabled (%d entries)", cfg.Inference.HandleCacheSize)
	}

	registrySvc := services.NewRegistryService(repo, store, rec, services.WithMaxArtifactSize(cfg.Artifacts.MaxSize))
	inferenceSvc := services.NewInferenceService(registrySvc, loaderSet, cache, rec, cfg.Inference.Timeout)
	healthSvc := services.NewHealthService(registrySvc, loaderSet, rec, cfg.Inference.Timeout)

	h := handlers.New(registrySvc, inferenceSvc, healthSvc, handlers.WithMaxUploadSize(cfg.Artifacts.MaxSize))

	router := newRouter(h, registrySvc, rec, reg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":       addr,
			"db":         cfg.Database.Driver,
			"artifacts":  cfg.Artifacts.Backend,
			"frameworks": loaderSet.Frameworks(),
		}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(h *handlers.Handler, db pinger, rec *prometheus.Recorder, gatherer prom.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), middleware.Metrics(rec), gin.Recovery())

	api := router.Group("/api/v1")
	h.RegisterRoutes(api)

	// Health check with DB ping
	router.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			log.WithError(err).Error("health check: database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return router
}

func runMigrate(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(cfg)

	// Opening a repository applies the schema for either driver.
	_, closeRepo, err := openRepository(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	closeRepo()
	log.WithField("driver", cfg.Database.Driver).Info("schema is up to date")
	return nil
}

func openRepository(ctx context.Context, cfg *config.DatabaseConfig) (ports.ModelVersionRepository, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate db: %w", err)
		}
		return postgres.NewModelVersionRepository(pool), pool.Close, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.WithField("path", cfg.SQLitePath).Info("sqlite registry opened")
		return sqlite.NewModelVersionRepository(db), func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Warn("close sqlite")
			}
		}, nil
	}
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}

	ping := func() error {
		err := pool.Ping(ctx)
		if err != nil {
			log.WithError(err).Warn("database not reachable yet")
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	log.Info("database connection established")
	return pool, nil
}

func openArtifactStore(cfg *config.ArtifactConfig) (ports.ArtifactStore, error) {
	switch cfg.Backend {
	case config.BackendS3:
		store, err := artifacts.NewS3Store(&cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3 artifact store: %w", err)
		}
		log.WithField("bucket", cfg.S3.Bucket).Info("s3 artifact store initialized")
		return store, nil
	default:
		store, err := artifacts.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init local artifact store: %w", err)
		}
		log.WithField("dir", cfg.Dir).Info("local artifact store initialized")
		return store, nil
	}
}

func initLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

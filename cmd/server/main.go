package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squatwall/internal/app"
	"squatwall/internal/cache"
	"squatwall/internal/config"
	"squatwall/internal/dataset"
	"squatwall/internal/db"
	"squatwall/internal/handler"
	"squatwall/internal/job"
	"squatwall/internal/logging"
	"squatwall/internal/ml/predictions"
	"squatwall/internal/ml/registry"
	"squatwall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "squatwall/docs"
)

var version = "dev"

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	newLoggerFunc          = logging.New
	initPostgresFunc       = db.InitPostgres
	connectDatasetFunc     = db.Connect
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	startWatchJobFunc      = func(j *job.DatasetWatchJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Squat Wall Shear Strength API
// @version         1.0
// @description     Peak shear strength of H-shaped reinforced concrete squat walls.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()

	logger, err := newLoggerFunc(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		Enabled:  cfg.TracingEnabled,
		Endpoint: cfg.OTLPEndpoint,
		Version:  version,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Postgres backs the prediction log; Redis backs the result cache.
	// Neither is required.
	if err := initPostgresFunc(ctx, cfg.DatabaseURL, logger); err != nil {
		logger.Warn("postgres unavailable, prediction log disabled", zap.Error(err))
	}
	if err := initRedisFunc(ctx, cfg.RedisURL, logger); err != nil {
		logger.Warn("redis unavailable, prediction cache disabled", zap.Error(err))
	}

	deps := app.Deps{}
	var (
		history *predictions.Repository
		runs    *registry.Repository
	)
	if db.Pool != nil {
		history = predictions.NewRepository(db.Pool, tracer)
		runs = registry.NewRepository(db.Pool, tracer)
		deps.History = history
		deps.Runs = runs
	}
	if cache.Client != nil {
		deps.ResultCache = cache.Client
	}
	if pool := datasetPool(ctx, cfg, logger); pool != nil {
		deps.DatasetPool = pool
		if pool != db.Pool {
			defer pool.Close()
		}
	}

	engine := app.Build(cfg, tracer, logger, deps)

	if cfg.DatasetWatch {
		watcher := job.NewDatasetWatchJob(tracer, logger, engine.Predictions, engine.WatchPath(), cfg.DatasetPollSecs)
		startWatchJobFunc(watcher, ctx)
	}

	h := handler.New(tracer, logger, engine.Predictions)
	h.SetTrainer(engine.Predictions)
	h.SetTrainRateLimit(cfg.TrainRequestsPerMinute)
	if history != nil {
		h.SetPredictionHistory(history)
		h.SetRunHistory(runs)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("squatwall"))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("addr", srv.Addr), zap.String("dataset", engine.Loader.Source()))

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}

// datasetPool returns a pool for a Postgres dataset location, reusing the
// prediction log pool when both point at the same database.
func datasetPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) *pgxpool.Pool {
	if !dataset.IsPostgres(cfg.DatasetLocation) {
		return nil
	}
	if cfg.DatasetLocation == cfg.DatabaseURL && db.Pool != nil {
		return db.Pool
	}
	pool, err := connectDatasetFunc(ctx, cfg.DatasetLocation)
	if err != nil {
		logger.Warn("dataset database unavailable", zap.Error(err))
		return nil
	}
	return pool
}

// Package app assembles the prediction engine from configuration. Both the
// HTTP server and the command line tool start from Build.
package app

import (
	"context"
	"time"

	"squatwall/internal/config"
	"squatwall/internal/dataset"
	"squatwall/internal/domain"
	"squatwall/internal/ml/registry"
	"squatwall/internal/ml/training"
	"squatwall/internal/service"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deps are the optional backing stores. Leave a field nil to disable it.
type Deps struct {
	// DatasetPool serves Postgres dataset locations.
	DatasetPool dataset.Querier
	ResultCache service.RedisClient
	History     service.PredictionLog
	Runs        service.RunLog
}

type App struct {
	Loader      dataset.Loader
	Trainer     *training.Service
	Models      *registry.Cache
	Predictions *service.PredictionService
}

// Build wires the loader, trainer, model cache and prediction service. A
// dataset location that cannot be resolved is not fatal: the closed-form
// path keeps working and ensemble requests report the load failure.
func Build(cfg *config.Config, tracer trace.Tracer, logger *zap.Logger, deps Deps) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	loader, err := dataset.New(cfg.DatasetLocation, dataset.Options{
		Sheet: cfg.DatasetSheet,
		Table: cfg.DatasetTable,
	}, deps.DatasetPool)
	if err != nil {
		logger.Warn("dataset unavailable, ensemble predictions will fail", zap.Error(err))
		loader = unavailable{err: err}
	}

	trainer := training.NewService(tracer, logger, training.Config{
		SplitSeed:    cfg.SplitSeed,
		TestFraction: cfg.TestFraction,
	})
	models := registry.NewCache(logger)
	svc := service.NewPredictionService(tracer, logger, loader, trainer, models, service.PredictionConfig{
		EnforceRanges:  cfg.EnforceParameterRanges,
		ResultCacheTTL: time.Duration(cfg.PredictionCacheTTLSecs) * time.Second,
	})
	if deps.ResultCache != nil {
		svc.SetResultCache(deps.ResultCache)
	}
	if deps.History != nil {
		svc.SetPredictionLog(deps.History)
	}
	if deps.Runs != nil {
		svc.SetRunLog(deps.Runs)
	}

	return &App{Loader: loader, Trainer: trainer, Models: models, Predictions: svc}
}

// WatchPath is the dataset file to watch, or "" for non-file sources.
func (a *App) WatchPath() string {
	if fl, ok := a.Loader.(*dataset.FileLoader); ok {
		return fl.Path()
	}
	return ""
}

// unavailable stands in for a loader that could not be built.
type unavailable struct {
	err error
}

func (u unavailable) Load(ctx context.Context) (*domain.TrainingTable, error) {
	return nil, u.err
}

func (u unavailable) Source() string { return "unavailable" }

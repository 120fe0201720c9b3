package job

import (
	"context"
	"path/filepath"
	"time"

	"squatwall/internal/ml/training"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// ModelRefresher fits a new ensemble only when the dataset has changed.
type ModelRefresher interface {
	EnsureModel(ctx context.Context) (*training.TrainedModel, error)
}

// DatasetWatchJob keeps the cached ensemble in step with the dataset. File
// sources are watched with fsnotify; every source is also polled, which is
// the only trigger for Postgres.
type DatasetWatchJob struct {
	tracer       trace.Tracer
	logger       *zap.Logger
	refresher    ModelRefresher
	path         string
	pollInterval time.Duration
	debounce     time.Duration
	lastRunID    string
}

// NewDatasetWatchJob watches path when non-empty and polls every pollSecs.
func NewDatasetWatchJob(tracer trace.Tracer, logger *zap.Logger, refresher ModelRefresher, path string, pollSecs int) *DatasetWatchJob {
	if pollSecs <= 0 {
		pollSecs = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return &DatasetWatchJob{
		tracer:       tracer,
		logger:       logger,
		refresher:    refresher,
		path:         path,
		pollInterval: time.Duration(pollSecs) * time.Second,
		debounce:     defaultDebounce,
	}
}

func (j *DatasetWatchJob) Start(ctx context.Context) {
	if j.refresher == nil {
		j.logger.Info("dataset watch job disabled: no refresher")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx, "startup")

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if j.path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			j.logger.Warn("dataset file watch unavailable, polling only", zap.Error(err))
		} else {
			defer watcher.Close()
			// Watch the directory: editors and exporters often replace the
			// file rather than write it in place.
			if err := watcher.Add(filepath.Dir(j.path)); err != nil {
				j.logger.Warn("dataset file watch unavailable, polling only", zap.String("path", j.path), zap.Error(err))
			} else {
				events, errs = watcher.Events, watcher.Errors
			}
		}
	}

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if j.relevant(ev) {
				pending = time.After(j.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			j.logger.Warn("dataset watch error", zap.Error(err))
		case <-pending:
			pending = nil
			j.runOnce(ctx, "file-change")
		case <-ticker.C:
			j.runOnce(ctx, "poll")
		}
	}
}

func (j *DatasetWatchJob) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != j.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (j *DatasetWatchJob) runOnce(ctx context.Context, trigger string) {
	ctx, span := j.tracer.Start(ctx, "dataset-watch-job.run-once")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	model, err := j.refresher.EnsureModel(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		j.logger.Warn("dataset refresh failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if model.RunID != j.lastRunID {
		j.lastRunID = model.RunID
		j.logger.Info("ensemble refreshed",
			zap.String("trigger", trigger),
			zap.String("run_id", model.RunID),
			zap.String("fingerprint", model.Fingerprint),
			zap.Int("train", model.TrainCount),
			zap.Float64("holdout_rmse", model.Holdout.RMSE),
		)
	}
}

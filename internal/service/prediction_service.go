package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"squatwall/internal/domain"
	"squatwall/internal/formula"
	"squatwall/internal/metrics"
	"squatwall/internal/ml/inference"
	"squatwall/internal/ml/registry"
	"squatwall/internal/ml/training"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultResultCacheTTL = 10 * time.Minute

type DatasetLoader interface {
	Load(ctx context.Context) (*domain.TrainingTable, error)
	Source() string
}

type Trainer interface {
	Fit(ctx context.Context, table *domain.TrainingTable) (*training.TrainedModel, error)
}

type ModelCache interface {
	GetOrFit(ctx context.Context, fingerprint string, fit func(ctx context.Context) (*training.TrainedModel, error)) (*training.TrainedModel, bool, error)
	Put(model *training.TrainedModel)
	Current() *training.TrainedModel
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type PredictionLog interface {
	Insert(ctx context.Context, entry domain.PredictionLogEntry) (*domain.PredictionLogEntry, error)
}

type RunLog interface {
	Record(ctx context.Context, model *training.TrainedModel) (*registry.RunRecord, error)
}

type PredictionConfig struct {
	// EnforceRanges rejects parameters outside their documented ranges on
	// both paths.
	EnforceRanges  bool
	ResultCacheTTL time.Duration
	Constants      formula.Constants
}

// PredictionService is the single entry point for both prediction paths.
// Every failure is returned as a typed PredictionResult, never as a panic.
type PredictionService struct {
	tracer  trace.Tracer
	logger  *zap.Logger
	loader  DatasetLoader
	trainer Trainer
	models  ModelCache
	cfg     PredictionConfig

	redis   RedisClient
	history PredictionLog
	runs    RunLog
}

func NewPredictionService(
	tracer trace.Tracer,
	logger *zap.Logger,
	loader DatasetLoader,
	trainer Trainer,
	models ModelCache,
	cfg PredictionConfig,
) *PredictionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultCacheTTL <= 0 {
		cfg.ResultCacheTTL = defaultResultCacheTTL
	}
	if cfg.Constants == (formula.Constants{}) {
		cfg.Constants = formula.DefaultConstants()
	}
	return &PredictionService{
		tracer:  tracer,
		logger:  logger,
		loader:  loader,
		trainer: trainer,
		models:  models,
		cfg:     cfg,
	}
}

// SetResultCache enables the Redis cache of ensemble predictions.
func (s *PredictionService) SetResultCache(client RedisClient) {
	s.redis = client
}

// SetPredictionLog enables the diagnostic prediction log.
func (s *PredictionService) SetPredictionLog(log PredictionLog) {
	s.history = log
}

// SetRunLog enables persisting every new fit.
func (s *PredictionService) SetRunLog(runs RunLog) {
	s.runs = runs
}

// PredictClosedForm evaluates the symbolic formula. Zero divisors are
// rejected before evaluation.
func (s *PredictionService) PredictClosedForm(ctx context.Context, raw []float64) domain.PredictionResult {
	ctx, span := s.tracer.Start(ctx, "prediction-service.closed-form")
	defer span.End()
	started := time.Now()

	p, err := domain.Validate(raw, domain.ValidateOptions{ZeroGuards: true, EnforceRanges: s.cfg.EnforceRanges})
	if err != nil {
		return s.finish(ctx, span, domain.ModelClosedForm, raw, 0, err, "", started)
	}
	v, err := formula.Evaluate(p, s.cfg.Constants)
	return s.finish(ctx, span, domain.ModelClosedForm, raw, v, err, "", started)
}

// PredictEnsemble loads the dataset, reuses or fits the ensemble for its
// fingerprint and runs inference.
func (s *PredictionService) PredictEnsemble(ctx context.Context, raw []float64) (res domain.PredictionResult) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.ensemble")
	defer span.End()
	started := time.Now()
	fingerprint := ""

	defer func() {
		if r := recover(); r != nil {
			err := domain.NewPredictionError("internal failure", fmt.Errorf("panic: %v", r))
			res = s.finish(ctx, span, domain.ModelEnsemble, raw, 0, err, fingerprint, started)
		}
	}()

	p, err := domain.Validate(raw, domain.ValidateOptions{EnforceRanges: s.cfg.EnforceRanges})
	if err != nil {
		return s.finish(ctx, span, domain.ModelEnsemble, raw, 0, err, "", started)
	}

	table, err := s.load(ctx)
	if err != nil {
		return s.finish(ctx, span, domain.ModelEnsemble, raw, 0, err, "", started)
	}
	fingerprint = table.Fingerprint()
	span.SetAttributes(attribute.String("dataset.fingerprint", fingerprint))

	key := resultCacheKey(fingerprint, p)
	if v, ok := s.cachedResult(ctx, key); ok {
		span.SetAttributes(attribute.Bool("prediction.cached", true))
		return s.finish(ctx, span, domain.ModelEnsemble, raw, v, nil, fingerprint, started)
	}

	model, err := s.modelFor(ctx, table, fingerprint)
	if err != nil {
		return s.finish(ctx, span, domain.ModelEnsemble, raw, 0, err, fingerprint, started)
	}
	v, err := inference.Infer(model, p)
	if err == nil {
		s.storeResult(ctx, key, v)
	}
	return s.finish(ctx, span, domain.ModelEnsemble, raw, v, err, fingerprint, started)
}

// EnsureModel returns the ensemble for the current dataset, fitting it only
// when the dataset fingerprint has changed since the last fit.
func (s *PredictionService) EnsureModel(ctx context.Context) (*training.TrainedModel, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.ensure-model")
	defer span.End()

	table, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.modelFor(ctx, table, table.Fingerprint())
}

// Train loads the dataset and fits a fresh ensemble unconditionally,
// replacing the cached one.
func (s *PredictionService) Train(ctx context.Context) (*training.TrainedModel, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.train")
	defer span.End()

	table, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	model, err := s.trainer.Fit(ctx, table)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.models.Put(model)
	s.recordRun(ctx, model)
	return model, nil
}

// CurrentModel returns the cached ensemble, or nil before the first fit.
func (s *PredictionService) CurrentModel() *training.TrainedModel {
	return s.models.Current()
}

func (s *PredictionService) load(ctx context.Context) (*domain.TrainingTable, error) {
	table, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, domain.NewDataLoadError("dataset unreadable", fmt.Errorf("%s returned no table", s.loader.Source()))
	}
	return table, nil
}

func (s *PredictionService) modelFor(ctx context.Context, table *domain.TrainingTable, fingerprint string) (*training.TrainedModel, error) {
	model, hit, err := s.models.GetOrFit(ctx, fingerprint, func(ctx context.Context) (*training.TrainedModel, error) {
		return s.trainer.Fit(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		s.logger.Info("ensemble ready",
			zap.String("source", table.Source),
			zap.String("fingerprint", fingerprint),
			zap.String("run_id", model.RunID),
		)
		s.recordRun(ctx, model)
	}
	return model, nil
}

func (s *PredictionService) recordRun(ctx context.Context, model *training.TrainedModel) {
	if s.runs == nil {
		return
	}
	if _, err := s.runs.Record(context.WithoutCancel(ctx), model); err != nil {
		s.logger.Warn("model run record failed", zap.String("run_id", model.RunID), zap.Error(err))
	}
}

func resultCacheKey(fingerprint string, p domain.ParameterVector) string {
	var b strings.Builder
	b.WriteString("squatwall:ensemble:")
	b.WriteString(fingerprint)
	for _, v := range p.Array() {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

func (s *PredictionService) cachedResult(ctx context.Context, key string) (float64, bool) {
	if s.redis == nil {
		return 0, false
	}
	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.ResultCacheLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.ResultCacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("prediction cache read failed", zap.Error(err))
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		metrics.ResultCacheLookups.WithLabelValues("error").Inc()
		return 0, false
	}
	metrics.ResultCacheLookups.WithLabelValues("hit").Inc()
	return v, true
}

func (s *PredictionService) storeResult(ctx context.Context, key string, v float64) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, key, strconv.FormatFloat(v, 'g', -1, 64), s.cfg.ResultCacheTTL).Err(); err != nil {
		s.logger.Warn("prediction cache write failed", zap.Error(err))
	}
}

// finish converts the outcome into a PredictionResult and records it in
// metrics, logs and the prediction log.
func (s *PredictionService) finish(
	ctx context.Context,
	span trace.Span,
	model domain.ModelSource,
	raw []float64,
	value float64,
	err error,
	fingerprint string,
	started time.Time,
) domain.PredictionResult {
	metrics.PredictionDuration.WithLabelValues(string(model)).Observe(time.Since(started).Seconds())

	var res domain.PredictionResult
	entry := domain.PredictionLogEntry{
		Model:       model,
		Params:      append([]float64(nil), raw...),
		Fingerprint: fingerprint,
	}
	if err == nil {
		res = domain.Success(model, value)
		v := value
		entry.Value = &v
		metrics.PredictionsTotal.WithLabelValues(string(model), "ok").Inc()
		span.SetAttributes(attribute.Float64("prediction.value", value))
	} else {
		res = domain.FailedFrom(model, err)
		failure, _ := res.Failure()
		entry.ErrorKind = failure.Kind
		entry.Detail = err.Error()
		metrics.PredictionsTotal.WithLabelValues(string(model), string(failure.Kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(failure.Kind))

		fields := []zap.Field{
			zap.String("model", string(model)),
			zap.String("kind", string(failure.Kind)),
			zap.Error(err),
		}
		if failure.Kind.Public() {
			s.logger.Info("prediction rejected", fields...)
		} else {
			s.logger.Error("prediction failed", fields...)
		}
	}

	if s.history != nil {
		if _, logErr := s.history.Insert(context.WithoutCancel(ctx), entry); logErr != nil {
			s.logger.Warn("prediction log write failed", zap.Error(logErr))
		}
	}
	return res
}

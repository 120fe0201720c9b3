package training

import (
	"context"
	"fmt"
	"time"

	"squatwall/internal/domain"
	"squatwall/internal/metrics"
	"squatwall/internal/ml/models/xgboost"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultSplitSeed keeps the train/test partition identical across runs.
const DefaultSplitSeed int64 = 500

type Config struct {
	SplitSeed    int64
	TestFraction float64
	MinRecords   int
	Options      xgboost.TrainOptions
}

// TrainedModel is a fitted ensemble together with everything needed to
// query it and explain where it came from.
type TrainedModel struct {
	RunID        string               `json:"run_id"`
	Fingerprint  string               `json:"fingerprint"`
	Source       string               `json:"source"`
	FeatureNames []string             `json:"feature_names"`
	Hyperparams  xgboost.TrainOptions `json:"hyperparams"`
	SplitSeed    int64                `json:"split_seed"`
	TrainCount   int                  `json:"train_count"`
	TestCount    int                  `json:"test_count"`
	Cleaning     CleaningReport       `json:"cleaning"`
	Holdout      HoldoutMetrics       `json:"holdout"`
	TrainedAt    time.Time            `json:"trained_at"`

	ensemble *xgboost.Model
}

// Predict evaluates one row laid out in FeatureNames order.
func (m *TrainedModel) Predict(row []float64) float64 {
	return m.ensemble.Predict(row)
}

// Columns is the training column order.
func (m *TrainedModel) Columns() []string { return m.FeatureNames }

// NumTrees reports the size of the fitted ensemble.
func (m *TrainedModel) NumTrees() int {
	if m.ensemble == nil {
		return 0
	}
	return m.ensemble.NumTrees()
}

type Service struct {
	tracer trace.Tracer
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(tracer trace.Tracer, logger *zap.Logger, cfg Config) *Service {
	if cfg.SplitSeed == 0 {
		cfg.SplitSeed = DefaultSplitSeed
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.3
	}
	if cfg.MinRecords < 2 {
		cfg.MinRecords = 2
	}
	if cfg.Options == (xgboost.TrainOptions{}) {
		cfg.Options = xgboost.DefaultTrainOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tracer: tracer, logger: logger, cfg: cfg, now: time.Now}
}

func (s *Service) Config() Config { return s.cfg }

// Fit cleans table, splits it and fits the ensemble on the training part.
// The context is checked between phases and between boosting rounds.
func (s *Service) Fit(ctx context.Context, table *domain.TrainingTable) (*TrainedModel, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.fit")
	defer span.End()

	if table == nil {
		return nil, domain.NewTrainingError("insufficient data", fmt.Errorf("nil training table"))
	}
	started := s.now()
	runID := uuid.NewString()
	fingerprint := table.Fingerprint()

	records, report := Clean(table.Records)
	span.SetAttributes(
		attribute.Int("ml.records.loaded", len(table.Records)),
		attribute.Int("ml.records.kept", len(records)),
	)
	if len(records) < s.cfg.MinRecords {
		return nil, domain.NewTrainingError("insufficient data",
			fmt.Errorf("%d usable records after cleaning, need >= %d", len(records), s.cfg.MinRecords))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	train, test := Split(records, s.cfg.TestFraction, s.cfg.SplitSeed)
	if len(train) == 0 {
		return nil, domain.NewTrainingError("insufficient data", fmt.Errorf("split produced an empty training partition"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainX, trainY := matrix(train)
	names := domain.FeatureNames()
	ensemble, err := xgboost.Train(ctx, trainX, trainY, names, s.cfg.Options)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, domain.NewTrainingError("fit failed", err)
	}

	testX, testY := matrix(test)
	holdout := ComputeHoldout(testY, ensemble.PredictBatch(testX))

	model := &TrainedModel{
		RunID:        runID,
		Fingerprint:  fingerprint,
		Source:       table.Source,
		FeatureNames: names,
		Hyperparams:  ensemble.Options(),
		SplitSeed:    s.cfg.SplitSeed,
		TrainCount:   len(train),
		TestCount:    len(test),
		Cleaning:     report,
		Holdout:      holdout,
		TrainedAt:    s.now().UTC(),
		ensemble:     ensemble,
	}

	elapsed := s.now().Sub(started)
	metrics.FitDuration.Observe(elapsed.Seconds())
	s.logger.Info("ensemble fitted",
		zap.String("run_id", runID),
		zap.String("fingerprint", fingerprint),
		zap.Int("train", len(train)),
		zap.Int("test", len(test)),
		zap.Int("dropped_zero_target", report.DroppedZeroTarget),
		zap.Int("dropped_missing", report.DroppedMissing),
		zap.Float64("holdout_rmse", holdout.RMSE),
		zap.Float64("holdout_r2", holdout.R2),
		zap.Duration("elapsed", elapsed),
	)
	return model, nil
}

func matrix(records []domain.TrainingRecord) ([][]float64, []float64) {
	x := make([][]float64, len(records))
	y := make([]float64, len(records))
	for i := range records {
		row := records[i].Features
		x[i] = row[:]
		y[i] = records[i].V
	}
	return x, y
}

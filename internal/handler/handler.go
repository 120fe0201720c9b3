package handler

import (
	"context"

	"squatwall/internal/domain"
	"squatwall/internal/ml/registry"
	"squatwall/internal/ml/training"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Predictor interface {
	PredictClosedForm(ctx context.Context, raw []float64) domain.PredictionResult
	PredictEnsemble(ctx context.Context, raw []float64) domain.PredictionResult
}

type ModelTrainer interface {
	Train(ctx context.Context) (*training.TrainedModel, error)
	CurrentModel() *training.TrainedModel
}

type PredictionHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.PredictionLogEntry, error)
}

type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]registry.RunRecord, error)
}

type Handler struct {
	tracer    trace.Tracer
	logger    *zap.Logger
	predictor Predictor
	trainer   ModelTrainer
	history   PredictionHistory
	runs      RunHistory

	trainPerMinute int
}

func New(tracer trace.Tracer, logger *zap.Logger, predictor Predictor) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracer: tracer, logger: logger, predictor: predictor}
}

// SetTrainer enables the training and model endpoints.
func (h *Handler) SetTrainer(trainer ModelTrainer) {
	h.trainer = trainer
}

// SetPredictionHistory enables the recent predictions endpoint.
func (h *Handler) SetPredictionHistory(history PredictionHistory) {
	h.history = history
}

// SetRunHistory enables the fit history endpoint.
func (h *Handler) SetRunHistory(runs RunHistory) {
	h.runs = runs
}

// SetTrainRateLimit caps POST /api/ml/train; zero disables the cap.
func (h *Handler) SetTrainRateLimit(perMinute int) {
	h.trainPerMinute = perMinute
}

// RegisterRoutes mounts the public routes and the /api group, which is
// guarded by apiKey when it is set.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/parameters", h.Parameters)
	api.POST("/predict/closed-form", h.PredictClosedForm)
	api.POST("/predict/ensemble", h.PredictEnsemble)
	api.POST("/ml/train", RateLimit(h.trainPerMinute), h.TriggerTraining)
	api.GET("/ml/model", h.CurrentModel)
	api.GET("/ml/runs", h.ModelRuns)
	api.GET("/predictions/recent", h.RecentPredictions)
}

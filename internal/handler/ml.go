package handler

import (
	"net/http"

	"squatwall/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TriggerTraining godoc
// @Summary      Fit the ensemble now
// @Description  Reloads the dataset and fits a fresh ensemble, replacing the cached one
// @Tags         ml
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/train [post]
func (h *Handler) TriggerTraining(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-training")
	defer span.End()

	model, err := h.trainer.Train(ctx)
	if err != nil {
		kind, ok := domain.KindOf(err)
		if !ok {
			kind = domain.KindTraining
		}
		h.logger.Error("training request failed", zap.String("kind", string(kind)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error_kind": kind, "error": "training failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": model})
}

// CurrentModel godoc
// @Summary      Fitted ensemble
// @Description  Describes the cached ensemble: dataset fingerprint, split sizes, hyperparameters and hold-out metrics
// @Tags         ml
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/model [get]
func (h *Handler) CurrentModel(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training unavailable"})
		return
	}
	model := h.trainer.CurrentModel()
	if model == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ensemble fitted yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": model, "trees": model.NumTrees()})
}

// ModelRuns godoc
// @Summary      Fit history
// @Description  Lists persisted ensemble fits, newest first, with their hold-out metrics
// @Tags         ml
// @Produce      json
// @Param        limit  query     int  false  "Max runs (default 20, max 200)"
// @Success      200    {object}  map[string]interface{}
// @Failure      503    {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/runs [get]
func (h *Handler) ModelRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.model-runs")
	defer span.End()

	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}
	runs, err := h.runs.ListRuns(ctx, limit)
	if err != nil {
		h.logger.Error("list model runs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(runs), "runs": runs})
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"squatwall/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// PredictRequest carries the twelve parameters either positionally in
// model column order or by feature key. A named body must carry every key.
type PredictRequest struct {
	Values     []float64          `json:"values" binding:"omitempty,len=12"`
	Parameters map[string]float64 `json:"parameters"`
}

func (r PredictRequest) raw() ([]float64, error) {
	switch {
	case len(r.Values) > 0 && r.Parameters != nil:
		return nil, fmt.Errorf("send either values or parameters, not both")
	case len(r.Values) > 0:
		return r.Values, nil
	case r.Parameters != nil:
		return namedValues(r.Parameters)
	default:
		return nil, fmt.Errorf("values or parameters required")
	}
}

func namedValues(named map[string]float64) ([]float64, error) {
	keys := domain.FeatureNames()
	known := make(map[string]struct{}, len(keys))
	raw := make([]float64, len(keys))
	for i, key := range keys {
		v, ok := named[key]
		if !ok {
			return nil, fmt.Errorf("parameters.%s is required", key)
		}
		raw[i] = v
		known[key] = struct{}{}
	}
	var unknown []string
	for key := range named {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameter %q", unknown[0])
	}
	return raw, nil
}

// PredictClosedForm godoc
// @Summary      Closed-form peak shear strength
// @Description  Evaluates the gene expression programming formula for one wall
// @Tags         predict
// @Accept       json
// @Produce      json
// @Param        request  body      PredictRequest  true  "Wall parameters"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Failure      422      {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Router       /api/predict/closed-form [post]
func (h *Handler) PredictClosedForm(c *gin.Context) {
	h.predict(c, "handler.predict-closed-form", h.predictor.PredictClosedForm)
}

// PredictEnsemble godoc
// @Summary      Ensemble peak shear strength
// @Description  Runs the gradient-boosted ensemble fitted on the configured dataset
// @Tags         predict
// @Accept       json
// @Produce      json
// @Param        request  body      PredictRequest  true  "Wall parameters"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Failure      500      {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Router       /api/predict/ensemble [post]
func (h *Handler) PredictEnsemble(c *gin.Context) {
	h.predict(c, "handler.predict-ensemble", h.predictor.PredictEnsemble)
}

func (h *Handler) predict(c *gin.Context, spanName string, run func(context.Context, []float64) domain.PredictionResult) {
	ctx, span := h.tracer.Start(c.Request.Context(), spanName)
	defer span.End()

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_kind": domain.KindValidation, "error": "invalid request body: " + err.Error()})
		return
	}
	raw, err := req.raw()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_kind": domain.KindValidation, "error": err.Error()})
		return
	}

	res := run(ctx, raw)
	status := statusFor(res)
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.JSON(status, res)
}

func statusFor(res domain.PredictionResult) int {
	failure, failed := res.Failure()
	if !failed {
		return http.StatusOK
	}
	switch failure.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindComputation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"squatwall/internal/domain"
	"squatwall/internal/ml/registry"
	"squatwall/internal/ml/training"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type stubPredictor struct {
	closedForm domain.PredictionResult
	ensemble   domain.PredictionResult
	got        []float64
}

func (s *stubPredictor) PredictClosedForm(ctx context.Context, raw []float64) domain.PredictionResult {
	s.got = raw
	return s.closedForm
}

func (s *stubPredictor) PredictEnsemble(ctx context.Context, raw []float64) domain.PredictionResult {
	s.got = raw
	return s.ensemble
}

type stubTrainer struct {
	current *training.TrainedModel
	err     error
	calls   int
}

func (s *stubTrainer) Train(ctx context.Context) (*training.TrainedModel, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.current = &training.TrainedModel{RunID: "fresh", Fingerprint: "fp", TrainCount: 7}
	return s.current, nil
}

func (s *stubTrainer) CurrentModel() *training.TrainedModel { return s.current }

type stubHistory struct {
	entries []domain.PredictionLogEntry
	err     error
	limit   int
}

func (s *stubHistory) ListRecent(ctx context.Context, limit int) ([]domain.PredictionLogEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

func newRouter(h *Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func newTestHandler(p *stubPredictor) *Handler {
	return New(trace.NewNoopTracerProvider().Tracer("handler-test"), nil, p)
}

func doJSON(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func scenarioA() []float64 {
	return []float64{0, 0.5, 1, 609.6, 29, 543.3, 495.7, 525.4, 0.5, 0.5, 1.8, 0}
}

func TestPredictClosedFormSuccess(t *testing.T) {
	p := &stubPredictor{closedForm: domain.Success(domain.ModelClosedForm, 923.6182223970676)}
	r := newRouter(newTestHandler(p), "")

	w := doJSON(r, http.MethodPost, "/api/predict/closed-form", gin.H{"values": scenarioA()})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, scenarioA(), p.got)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "closed-form", body["model"])
	assert.Equal(t, "923.62", body["formatted"])
	assert.Equal(t, "Predicted Peak Shear Strength using Gene Expression Programming: 923.62", body["text"])
}

func TestPredictAcceptsNamedParameters(t *testing.T) {
	p := &stubPredictor{ensemble: domain.Success(domain.ModelEnsemble, 800)}
	r := newRouter(newTestHandler(p), "")

	w := doJSON(r, http.MethodPost, "/api/predict/ensemble", gin.H{"parameters": domain.DefaultParameters()})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DefaultParameters().Slice(), p.got)
}

func TestPredictRequiresEveryNamedParameter(t *testing.T) {
	p := &stubPredictor{ensemble: domain.Success(domain.ModelEnsemble, 800)}
	r := newRouter(newTestHandler(p), "")

	w := doJSON(r, http.MethodPost, "/api/predict/ensemble", gin.H{"parameters": gin.H{"shear_span_ratio": 0.5}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "parameters.loading_type is required")
	assert.Nil(t, p.got)

	named := gin.H{}
	for _, f := range domain.Fields() {
		if f.Key != domain.FeatureAxialForceKN {
			named[f.Key] = f.Default
		}
	}
	w = doJSON(r, http.MethodPost, "/api/predict/ensemble", gin.H{"parameters": named})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "parameters.axial_force_kn is required")

	named[domain.FeatureAxialForceKN] = 0
	named["wall_height_mm"] = 3000
	w = doJSON(r, http.MethodPost, "/api/predict/ensemble", gin.H{"parameters": named})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `unknown parameter \"wall_height_mm\"`)
	assert.Nil(t, p.got)
}

func TestPredictRejectsBadBodies(t *testing.T) {
	r := newRouter(newTestHandler(&stubPredictor{}), "")
	cases := map[string]any{
		"empty":        nil,
		"short values": gin.H{"values": []float64{1, 2, 3}},
		"neither":      gin.H{},
		"both":         gin.H{"values": scenarioA(), "parameters": domain.DefaultParameters()},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/predict/closed-form", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestPredictFailureStatuses(t *testing.T) {
	cases := []struct {
		res    domain.PredictionResult
		status int
	}{
		{domain.Failed(domain.ModelClosedForm, domain.KindValidation, "division by zero: shear_span_ratio is 0"), http.StatusBadRequest},
		{domain.Failed(domain.ModelClosedForm, domain.KindComputation, "invalid intermediate value"), http.StatusUnprocessableEntity},
		{domain.Failed(domain.ModelEnsemble, domain.KindDataLoad, domain.GenericFailureMessage), http.StatusInternalServerError},
		{domain.Failed(domain.ModelEnsemble, domain.KindTraining, domain.GenericFailureMessage), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		p := &stubPredictor{closedForm: tc.res, ensemble: tc.res}
		r := newRouter(newTestHandler(p), "")
		path := "/api/predict/closed-form"
		if tc.res.Model() == domain.ModelEnsemble {
			path = "/api/predict/ensemble"
		}
		w := doJSON(r, http.MethodPost, path, gin.H{"values": scenarioA()})
		assert.Equal(t, tc.status, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		failure, _ := tc.res.Failure()
		assert.Equal(t, string(failure.Kind), body["error_kind"])
		assert.NotContains(t, body, "value")
	}
}

func TestParameters(t *testing.T) {
	r := newRouter(newTestHandler(&stubPredictor{}), "")
	w := doJSON(r, http.MethodGet, "/api/parameters", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Parameters []domain.FieldSpec      `json:"parameters"`
		Defaults   domain.ParameterVector `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.Fields(), body.Parameters)
	assert.Equal(t, domain.DefaultParameters(), body.Defaults)
}

func TestAPIKeyGuardsAPIGroupOnly(t *testing.T) {
	r := newRouter(newTestHandler(&stubPredictor{}), "secret")

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/api/parameters", nil).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/api/parameters", nil, "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/api/parameters", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(newTestHandler(&stubPredictor{}), "secret")
	w := doJSON(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestTriggerTraining(t *testing.T) {
	h := newTestHandler(&stubPredictor{})
	r := newRouter(h, "")
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(r, http.MethodPost, "/api/ml/train", nil).Code)

	trainer := &stubTrainer{}
	h.SetTrainer(trainer)
	w := doJSON(r, http.MethodPost, "/api/ml/train", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string `json:"status"`
		Model  struct {
			RunID      string `json:"run_id"`
			TrainCount int    `json:"train_count"`
		} `json:"model"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "fresh", body.Model.RunID)
	assert.Equal(t, 7, body.Model.TrainCount)

	trainer.err = domain.NewTrainingError("insufficient data", errors.New("0 usable records"))
	w = doJSON(r, http.MethodPost, "/api/ml/train", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "0 usable records")
	assert.Contains(t, w.Body.String(), `"error_kind":"training"`)
}

func TestCurrentModelNotFound(t *testing.T) {
	h := newTestHandler(&stubPredictor{})
	h.SetTrainer(&stubTrainer{})
	r := newRouter(h, "")
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/api/ml/model", nil).Code)
}

func TestRecentPredictions(t *testing.T) {
	h := newTestHandler(&stubPredictor{})
	r := newRouter(h, "")
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(r, http.MethodGet, "/api/predictions/recent", nil).Code)

	v := 923.6
	history := &stubHistory{entries: []domain.PredictionLogEntry{{ID: 1, Model: domain.ModelClosedForm, Value: &v}}}
	h.SetPredictionHistory(history)

	w := doJSON(r, http.MethodGet, "/api/predictions/recent?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, history.limit)
	assert.Contains(t, w.Body.String(), `"count":1`)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/api/predictions/recent?limit=x", nil).Code)

	history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, doJSON(r, http.MethodGet, "/api/predictions/recent", nil).Code)
}

type stubRuns struct {
	runs  []registry.RunRecord
	limit int
}

func (s *stubRuns) ListRuns(ctx context.Context, limit int) ([]registry.RunRecord, error) {
	s.limit = limit
	return s.runs, nil
}

func TestModelRuns(t *testing.T) {
	h := newTestHandler(&stubPredictor{})
	r := newRouter(h, "")
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(r, http.MethodGet, "/api/ml/runs", nil).Code)

	runs := &stubRuns{runs: []registry.RunRecord{{RunID: "a", IsActive: true, Holdout: json.RawMessage(`{"rmse":1}`)}}}
	h.SetRunHistory(runs)
	w := doJSON(r, http.MethodGet, "/api/ml/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, runs.limit)
	assert.Contains(t, w.Body.String(), `"run_id":"a"`)
	assert.Contains(t, w.Body.String(), `"holdout":{"rmse":1}`)
}

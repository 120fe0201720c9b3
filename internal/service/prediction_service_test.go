package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"squatwall/internal/dataset"
	"squatwall/internal/domain"
	"squatwall/internal/ml/registry"
	"squatwall/internal/ml/training"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func scenarioA() []float64 {
	return []float64{0, 0.5, 1, 609.6, 29, 543.3, 495.7, 525.4, 0.5, 0.5, 1.8, 0}
}

type stubLoader struct {
	table *domain.TrainingTable
	err   error
	panic any
	calls int32
}

func (l *stubLoader) Load(ctx context.Context) (*domain.TrainingTable, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.panic != nil {
		panic(l.panic)
	}
	return l.table, l.err
}

func (l *stubLoader) Source() string { return "stub" }

type countingTrainer struct {
	inner *training.Service
	calls int32
}

func (t *countingTrainer) Fit(ctx context.Context, table *domain.TrainingTable) (*training.TrainedModel, error) {
	atomic.AddInt32(&t.calls, 1)
	return t.inner.Fit(ctx, table)
}

type fakeHistory struct {
	entries []domain.PredictionLogEntry
	err     error
}

func (h *fakeHistory) Insert(ctx context.Context, entry domain.PredictionLogEntry) (*domain.PredictionLogEntry, error) {
	h.entries = append(h.entries, entry)
	if h.err != nil {
		return nil, h.err
	}
	return &entry, nil
}

type fakeRedis struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	default:
		bytes, _ := json.Marshal(v)
		f.data[key] = bytes
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func newTestPredictionService(loader DatasetLoader, enforceRanges bool) (*PredictionService, *countingTrainer) {
	trainer := &countingTrainer{inner: training.NewService(testTracer, zap.NewNop(), training.Config{})}
	svc := NewPredictionService(testTracer, zap.NewNop(), loader, trainer, registry.NewCache(zap.NewNop()),
		PredictionConfig{EnforceRanges: enforceRanges})
	return svc, trainer
}

func TestPredictClosedFormNominal(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{}, true)

	res := svc.PredictClosedForm(context.Background(), scenarioA())
	require.True(t, res.OK(), res.Text())
	v, _ := res.Value()
	assert.InDelta(t, 923.6, v, 1.0)
	assert.Equal(t, domain.ModelClosedForm, res.Model())
	assert.Equal(t, "Predicted Peak Shear Strength using Gene Expression Programming: 923.62", res.Text())

	again := svc.PredictClosedForm(context.Background(), scenarioA())
	v2, _ := again.Value()
	assert.Equal(t, math.Float64bits(v), math.Float64bits(v2))
}

func TestPredictClosedFormZeroShearSpan(t *testing.T) {
	for _, enforce := range []bool{true, false} {
		svc, _ := newTestPredictionService(&stubLoader{}, enforce)
		raw := scenarioA()
		raw[1] = 0

		res := svc.PredictClosedForm(context.Background(), raw)
		require.False(t, res.OK())
		_, hasValue := res.Value()
		assert.False(t, hasValue)
		failure, _ := res.Failure()
		assert.Equal(t, domain.KindValidation, failure.Kind)
		assert.Contains(t, failure.Message, "division by zero")
	}
}

func TestPredictClosedFormOutOfRange(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{}, true)
	raw := scenarioA()
	raw[4] = 200

	failure, ok := svc.PredictClosedForm(context.Background(), raw).Failure()
	require.True(t, ok)
	assert.Equal(t, "out of domain: concrete_strength_mpa", failure.Message)
}

func TestPredictClosedFormComputationFailure(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{}, false)
	raw := scenarioA()
	raw[11] = -100

	failure, ok := svc.PredictClosedForm(context.Background(), raw).Failure()
	require.True(t, ok)
	assert.Equal(t, domain.KindComputation, failure.Kind)
	assert.Contains(t, failure.Message, "invalid intermediate value")
}

func TestPredictClosedFormWrongLength(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{}, true)
	failure, ok := svc.PredictClosedForm(context.Background(), []float64{1, 2, 3}).Failure()
	require.True(t, ok)
	assert.Equal(t, domain.KindValidation, failure.Kind)
}

func TestPredictEnsembleFitsOnceAndIsDeterministic(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(40)}
	svc, trainer := newTestPredictionService(loader, true)

	first := svc.PredictEnsemble(context.Background(), scenarioA())
	require.True(t, first.OK(), first.Text())
	assert.Equal(t, domain.ModelEnsemble, first.Model())
	assert.True(t, strings.HasPrefix(first.Text(), "Predicted Peak Shear Strength using XGBoost: "))

	second := svc.PredictEnsemble(context.Background(), scenarioA())
	require.True(t, second.OK())
	a, _ := first.Value()
	b, _ := second.Value()
	assert.Equal(t, math.Float64bits(a), math.Float64bits(b))
	assert.Equal(t, int32(1), atomic.LoadInt32(&trainer.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.calls))
}

func TestPredictEnsembleRefitsWhenDatasetChanges(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(40)}
	svc, trainer := newTestPredictionService(loader, true)

	require.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
	first := svc.CurrentModel()

	loader.table = training.SyntheticTable(41)
	require.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
	assert.Equal(t, int32(2), atomic.LoadInt32(&trainer.calls))
	assert.NotEqual(t, first.Fingerprint, svc.CurrentModel().Fingerprint)
}

func TestPredictEnsembleInsufficientData(t *testing.T) {
	table := training.SyntheticTable(10)
	for i := range table.Records {
		table.Records[i].V = 0
	}
	svc, trainer := newTestPredictionService(&stubLoader{table: table}, true)

	res := svc.PredictEnsemble(context.Background(), scenarioA())
	require.False(t, res.OK())
	failure, _ := res.Failure()
	assert.Equal(t, domain.KindTraining, failure.Kind)
	assert.Equal(t, domain.GenericFailureMessage, failure.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&trainer.calls))
	assert.Nil(t, svc.CurrentModel())
}

func TestPredictEnsembleMissingDataset(t *testing.T) {
	loader := dataset.NewFileLoader(filepath.Join(t.TempDir(), "missing.xlsx"), dataset.FormatXLSX, "")
	trainer := &countingTrainer{inner: training.NewService(testTracer, zap.NewNop(), training.Config{})}
	svc := NewPredictionService(testTracer, zap.NewNop(), loader, trainer, registry.NewCache(nil), PredictionConfig{})

	res := svc.PredictEnsemble(context.Background(), scenarioA())
	failure, ok := res.Failure()
	require.True(t, ok)
	assert.Equal(t, domain.KindDataLoad, failure.Kind)
	assert.Equal(t, domain.GenericFailureMessage, failure.Message)
	assert.Zero(t, atomic.LoadInt32(&trainer.calls))
}

func TestPredictEnsembleSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walls.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,V\n1,2,3\n"), 0o600))
	loader := dataset.NewFileLoader(path, dataset.FormatCSV, "")
	svc, trainer := newTestPredictionService(loader, true)

	failure, ok := svc.PredictEnsemble(context.Background(), scenarioA()).Failure()
	require.True(t, ok)
	assert.Equal(t, domain.KindDataLoad, failure.Kind)
	assert.Zero(t, atomic.LoadInt32(&trainer.calls))
}

func TestPredictEnsembleRecoversPanics(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{panic: "index out of range"}, true)

	var res domain.PredictionResult
	require.NotPanics(t, func() {
		res = svc.PredictEnsemble(context.Background(), scenarioA())
	})
	failure, ok := res.Failure()
	require.True(t, ok)
	assert.Equal(t, domain.KindPrediction, failure.Kind)
	assert.Equal(t, domain.GenericFailureMessage, failure.Message)
}

func TestPredictEnsembleSkipsZeroGuards(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(30)}
	svc, _ := newTestPredictionService(loader, false)
	raw := scenarioA()
	raw[1] = 0

	assert.True(t, svc.PredictEnsemble(context.Background(), raw).OK())
	assert.False(t, svc.PredictClosedForm(context.Background(), raw).OK())
}

func TestPredictEnsembleEnforcesRanges(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(30)}
	svc, trainer := newTestPredictionService(loader, true)
	raw := scenarioA()
	raw[1] = 0

	failure, ok := svc.PredictEnsemble(context.Background(), raw).Failure()
	require.True(t, ok)
	assert.Equal(t, "out of domain: shear_span_ratio", failure.Message)
	assert.Zero(t, atomic.LoadInt32(&loader.calls))
	assert.Zero(t, atomic.LoadInt32(&trainer.calls))
}

func TestPredictEnsembleUsesResultCache(t *testing.T) {
	rdb := newFakeRedis()
	table := training.SyntheticTable(30)

	warm, _ := newTestPredictionService(&stubLoader{table: table}, true)
	warm.SetResultCache(rdb)
	res := warm.PredictEnsemble(context.Background(), scenarioA())
	require.True(t, res.OK())
	require.Len(t, rdb.data, 1)
	for key := range rdb.data {
		assert.True(t, strings.HasPrefix(key, "squatwall:ensemble:"+table.Fingerprint()+":"))
	}

	cold, trainer := newTestPredictionService(&stubLoader{table: table}, true)
	cold.SetResultCache(rdb)
	cached := cold.PredictEnsemble(context.Background(), scenarioA())
	require.True(t, cached.OK())
	want, _ := res.Value()
	got, _ := cached.Value()
	assert.Equal(t, math.Float64bits(want), math.Float64bits(got))
	assert.Zero(t, atomic.LoadInt32(&trainer.calls))
}

func TestPredictEnsembleToleratesRedisErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	rdb.setErr = errors.New("connection refused")
	svc, trainer := newTestPredictionService(&stubLoader{table: training.SyntheticTable(30)}, true)
	svc.SetResultCache(rdb)

	assert.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
	assert.Equal(t, int32(1), atomic.LoadInt32(&trainer.calls))
}

func TestPredictionLogRecordsBothOutcomes(t *testing.T) {
	history := &fakeHistory{}
	svc, _ := newTestPredictionService(&stubLoader{err: domain.NewDataLoadError("dataset not found", os.ErrNotExist)}, true)
	svc.SetPredictionLog(history)

	require.True(t, svc.PredictClosedForm(context.Background(), scenarioA()).OK())
	require.False(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())

	require.Len(t, history.entries, 2)
	ok := history.entries[0]
	assert.Equal(t, domain.ModelClosedForm, ok.Model)
	require.NotNil(t, ok.Value)
	assert.InDelta(t, 923.6, *ok.Value, 1.0)
	assert.Equal(t, scenarioA(), ok.Params)

	failed := history.entries[1]
	assert.Equal(t, domain.ModelEnsemble, failed.Model)
	assert.Nil(t, failed.Value)
	assert.Equal(t, domain.KindDataLoad, failed.ErrorKind)
	assert.Contains(t, failed.Detail, "dataset not found")
}

func TestPredictionLogFailureDoesNotAffectResult(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{}, true)
	svc.SetPredictionLog(&fakeHistory{err: errors.New("db down")})
	assert.True(t, svc.PredictClosedForm(context.Background(), scenarioA()).OK())
}

func TestTrainAlwaysFitsAndEnsureModelReuses(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(25)}
	svc, trainer := newTestPredictionService(loader, true)
	assert.Nil(t, svc.CurrentModel())

	m1, err := svc.EnsureModel(context.Background())
	require.NoError(t, err)
	m2, err := svc.EnsureModel(context.Background())
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&trainer.calls))

	m3, err := svc.Train(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Same(t, m3, svc.CurrentModel())
	assert.Equal(t, int32(2), atomic.LoadInt32(&trainer.calls))
}

func TestTrainSurfacesTypedErrors(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{err: domain.NewDataLoadError("dataset not found", nil)}, true)
	_, err := svc.Train(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindDataLoad))

	svc, _ = newTestPredictionService(&stubLoader{}, true)
	_, err = svc.EnsureModel(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindDataLoad))
}

type fakeRunLog struct {
	runIDs []string
	err    error
}

func (f *fakeRunLog) Record(ctx context.Context, model *training.TrainedModel) (*registry.RunRecord, error) {
	f.runIDs = append(f.runIDs, model.RunID)
	if f.err != nil {
		return nil, f.err
	}
	return &registry.RunRecord{RunID: model.RunID, IsActive: true}, nil
}

func TestRunLogRecordsEveryNewFit(t *testing.T) {
	loader := &stubLoader{table: training.SyntheticTable(30)}
	svc, _ := newTestPredictionService(loader, true)
	runs := &fakeRunLog{}
	svc.SetRunLog(runs)

	require.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
	require.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
	require.Len(t, runs.runIDs, 1, "cache hits must not record a run")

	m, err := svc.Train(context.Background())
	require.NoError(t, err)
	require.Len(t, runs.runIDs, 2)
	assert.Equal(t, m.RunID, runs.runIDs[1])
}

func TestRunLogFailureIsIgnored(t *testing.T) {
	svc, _ := newTestPredictionService(&stubLoader{table: training.SyntheticTable(30)}, true)
	svc.SetRunLog(&fakeRunLog{err: errors.New("db down")})

	_, err := svc.EnsureModel(context.Background())
	require.NoError(t, err)
	require.True(t, svc.PredictEnsemble(context.Background(), scenarioA()).OK())
}

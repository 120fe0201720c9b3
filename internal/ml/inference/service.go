// Package inference runs a single parameter vector through a trained
// ensemble.
package inference

import (
	"fmt"
	"math"

	"squatwall/internal/domain"
)

// Predictor is a fitted model that knows its training column order.
type Predictor interface {
	Predict(row []float64) float64
}

// Model is what Infer needs from a trained ensemble.
type Model interface {
	Predictor
	Columns() []string
}

// FeatureRow lays p out in the given column order, resolving every column by
// feature key.
func FeatureRow(columns []string, p domain.ParameterVector) ([]float64, error) {
	if len(columns) != domain.NumFeatures {
		return nil, domain.NewPredictionError("schema mismatch",
			fmt.Errorf("model expects %d features, vector has %d", len(columns), domain.NumFeatures))
	}
	row := make([]float64, len(columns))
	for i, name := range columns {
		v, ok := p.Value(name)
		if !ok {
			return nil, domain.NewPredictionError("schema mismatch", fmt.Errorf("unknown feature %q", name))
		}
		row[i] = v
	}
	return row, nil
}

// Infer returns the model output for p.
func Infer(model Model, p domain.ParameterVector) (float64, error) {
	if model == nil {
		return 0, domain.NewPredictionError("no trained model", nil)
	}
	row, err := FeatureRow(model.Columns(), p)
	if err != nil {
		return 0, err
	}
	out := model.Predict(row)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, domain.NewPredictionError("non-finite model output", fmt.Errorf("got %v", out))
	}
	return out, nil
}

package training

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// HoldoutMetrics scores the fitted ensemble on the held-out partition. They
// are reported for diagnostics only and never feed back into the model.
type HoldoutMetrics struct {
	N    int     `json:"n"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

func ComputeHoldout(actual, predicted []float64) HoldoutMetrics {
	n := len(actual)
	if n == 0 || len(predicted) != n {
		return HoldoutMetrics{}
	}
	absErr := make([]float64, n)
	sqErr := make([]float64, n)
	for i := range actual {
		d := predicted[i] - actual[i]
		absErr[i] = math.Abs(d)
		sqErr[i] = d * d
	}
	mae, _ := stats.Mean(absErr)
	mse, _ := stats.Mean(sqErr)

	r2 := 0.0
	if n > 1 {
		r2 = finiteOrZero(stat.RSquaredFrom(predicted, actual, nil))
	}
	return HoldoutMetrics{
		N:    n,
		RMSE: finiteOrZero(math.Sqrt(mse)),
		MAE:  finiteOrZero(mae),
		R2:   r2,
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

package training

import (
	"math"
	"math/rand"

	"squatwall/internal/domain"
)

// SyntheticTable builds a deterministic n-record table with every feature
// drawn inside its declared range and a strictly positive target that grows
// with concrete strength, reinforcement and axial load. It backs the demo
// dataset and the tests.
func SyntheticTable(n int) *domain.TrainingTable {
	fields := domain.Fields()
	rng := rand.New(rand.NewSource(1))
	records := make([]domain.TrainingRecord, n)
	for i := range records {
		var f [domain.NumFeatures]float64
		for j, spec := range fields {
			f[j] = spec.Min + rng.Float64()*(spec.Max-spec.Min)
		}
		f[0] = math.Floor(f[0] + 0.5)
		records[i] = domain.TrainingRecord{
			Features: f,
			V: 150 +
				6*f[4]*f[2] +
				120*f[8] + 180*f[9] +
				0.15*f[11] +
				40*f[10]/f[1] -
				25*f[0],
		}
	}
	columns := append(domain.FeatureNames(), domain.TargetColumn)
	return &domain.TrainingTable{Source: "synthetic", Columns: columns, Records: records}
}

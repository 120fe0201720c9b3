package training

import (
	"math"
	"math/rand"

	"squatwall/internal/domain"
)

type CleaningReport struct {
	Loaded            int `json:"loaded"`
	DroppedZeroTarget int `json:"dropped_zero_target"`
	DroppedMissing    int `json:"dropped_missing"`
	Kept              int `json:"kept"`
}

// Clean drops records whose target is zero, then records with any missing
// cell. Input order is preserved.
func Clean(records []domain.TrainingRecord) ([]domain.TrainingRecord, CleaningReport) {
	report := CleaningReport{Loaded: len(records)}
	out := make([]domain.TrainingRecord, 0, len(records))
	for i := range records {
		if records[i].V == 0 {
			report.DroppedZeroTarget++
			continue
		}
		if records[i].HasMissing() {
			report.DroppedMissing++
			continue
		}
		out = append(out, records[i])
	}
	report.Kept = len(out)
	return out, report
}

// Split shuffles records with a generator seeded by seed and returns
// (train, test) where the test part holds ceil(testFraction*n) records,
// capped so training keeps at least one. Identical inputs always give
// identical partitions.
func Split(records []domain.TrainingRecord, testFraction float64, seed int64) ([]domain.TrainingRecord, []domain.TrainingRecord) {
	n := len(records)
	if n == 0 {
		return nil, nil
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test := make([]domain.TrainingRecord, 0, nTest)
	train := make([]domain.TrainingRecord, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, records[idx])
		} else {
			train = append(train, records[idx])
		}
	}
	return train, test
}

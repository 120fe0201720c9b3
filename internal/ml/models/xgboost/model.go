// Package xgboost implements XGBoost-style gradient-boosted regression trees
// with squared-error loss.
package xgboost

import (
	"context"
	"errors"
	"math"
)

type TrainOptions struct {
	Rounds         int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	Lambda         float64 `json:"reg_lambda"`
	Gamma          float64 `json:"gamma"`
	MinChildWeight float64 `json:"min_child_weight"`
}

type Model struct {
	featureNames []string
	baseScore    float64
	trees        []tree
	opts         TrainOptions
}

// DefaultTrainOptions are the shear-strength ensemble hyperparameters; the
// learning rate and min child weight are the XGBoost library defaults.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:         100,
		LearningRate:   0.3,
		MaxDepth:       8,
		Lambda:         0.01,
		Gamma:          1,
		MinChildWeight: 1,
	}
}

func Train(ctx context.Context, samples [][]float64, targets []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(targets) {
		return nil, errors.New("invalid training dataset")
	}
	width := len(samples[0])
	if width == 0 {
		return nil, errors.New("empty feature vectors")
	}
	for i := range samples {
		if len(samples[i]) != width {
			return nil, errors.New("ragged feature vectors")
		}
	}
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultTrainOptions().Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions().LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultTrainOptions().MaxDepth
	}
	if opts.Lambda < 0 {
		opts.Lambda = DefaultTrainOptions().Lambda
	}
	if opts.Gamma < 0 {
		opts.Gamma = DefaultTrainOptions().Gamma
	}
	if opts.MinChildWeight < 0 {
		opts.MinChildWeight = DefaultTrainOptions().MinChildWeight
	}
	if len(featureNames) != width {
		featureNames = make([]string, width)
		for i := range featureNames {
			featureNames[i] = "f"
		}
	}

	base := 0.0
	for _, y := range targets {
		base += y
	}
	base /= float64(len(targets))

	n := len(samples)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	b := &builder{
		samples:  samples,
		grad:     make([]float64, n),
		hess:     make([]float64, n),
		opts:     opts,
		features: width,
	}
	trees := make([]tree, 0, opts.Rounds)
	for round := 0; round < opts.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range samples {
			b.grad[i] = pred[i] - targets[i]
			b.hess[i] = 1
		}
		t := b.build(rows)
		for i := range samples {
			pred[i] += t.predict(samples[i])
		}
		trees = append(trees, t)
	}

	return &Model{
		featureNames: append([]string(nil), featureNames...),
		baseScore:    base,
		trees:        trees,
		opts:         opts,
	}, nil
}

// Predict returns the ensemble output for one feature vector in training
// column order.
func (m *Model) Predict(sample []float64) float64 {
	if m == nil {
		return math.NaN()
	}
	out := m.baseScore
	for i := range m.trees {
		out += m.trees[i].predict(sample)
	}
	return out
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = m.Predict(samples[i])
	}
	return out
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

func (m *Model) Options() TrainOptions { return m.opts }

func (m *Model) BaseScore() float64 { return m.baseScore }

func (m *Model) NumTrees() int { return len(m.trees) }

// NumLeaves counts leaves across all trees.
func (m *Model) NumLeaves() int {
	total := 0
	for i := range m.trees {
		total += m.trees[i].leaves()
	}
	return total
}

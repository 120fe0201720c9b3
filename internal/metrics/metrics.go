// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal counts predictions by model and outcome (ok or the
	// failure kind).
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squatwall_predictions_total",
		Help: "Predictions served by model and outcome",
	}, []string{"model", "outcome"})

	PredictionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squatwall_prediction_duration_seconds",
		Help:    "End-to-end prediction latency by model",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12), // 10µs to ~40s
	}, []string{"model"})

	FitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "squatwall_ensemble_fit_duration_seconds",
		Help:    "Time spent cleaning, splitting and fitting the ensemble",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	// ModelCacheLookups counts trained-model cache lookups by result (hit, miss).
	ModelCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squatwall_model_cache_lookups_total",
		Help: "Trained model cache lookups by result",
	}, []string{"result"})

	// ResultCacheLookups counts Redis prediction cache lookups by result
	// (hit, miss, error).
	ResultCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squatwall_result_cache_lookups_total",
		Help: "Ensemble prediction cache lookups by result",
	}, []string{"result"})

	DatasetLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squatwall_dataset_load_duration_seconds",
		Help:    "Dataset load latency by source kind",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"source"})
)

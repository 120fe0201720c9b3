// Package registry keeps the most recently fitted ensemble in memory, keyed
// by the fingerprint of the dataset it was fitted on.
package registry

import (
	"context"
	"fmt"
	"sync"

	"squatwall/internal/metrics"
	"squatwall/internal/ml/training"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FitFunc fits a model for the dataset the fingerprint was computed from.
type FitFunc = func(ctx context.Context) (*training.TrainedModel, error)

// Cache holds at most one TrainedModel. A lookup with a different
// fingerprint is a miss and the next successful fit replaces the entry.
// Concurrent misses for the same fingerprint share a single fit.
type Cache struct {
	mu      sync.RWMutex
	current *training.TrainedModel
	flight  singleflight.Group
	logger  *zap.Logger
}

func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{logger: logger}
}

// Get returns the cached model when it was fitted on fingerprint.
func (c *Cache) Get(fingerprint string) (*training.TrainedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.current.Fingerprint != fingerprint {
		return nil, false
	}
	return c.current, true
}

// Current returns whatever model is cached, regardless of fingerprint.
func (c *Cache) Current() *training.TrainedModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Put stores model, replacing any previous entry.
func (c *Cache) Put(model *training.TrainedModel) {
	if model == nil {
		return
	}
	c.mu.Lock()
	prev := c.current
	c.current = model
	c.mu.Unlock()

	if prev != nil && prev.Fingerprint != model.Fingerprint {
		c.logger.Info("trained model replaced",
			zap.String("previous_fingerprint", prev.Fingerprint),
			zap.String("fingerprint", model.Fingerprint),
			zap.String("run_id", model.RunID),
		)
	}
}

// Invalidate drops the cached model.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// GetOrFit returns the model for fingerprint, fitting and caching one on a
// miss. The boolean reports a cache hit. The shared fit is detached from any
// one caller's cancellation; a caller whose ctx ends stops waiting and the
// fit carries on for the others.
func (c *Cache) GetOrFit(ctx context.Context, fingerprint string, fit FitFunc) (*training.TrainedModel, bool, error) {
	if model, ok := c.Get(fingerprint); ok {
		metrics.ModelCacheLookups.WithLabelValues("hit").Inc()
		return model, true, nil
	}
	metrics.ModelCacheLookups.WithLabelValues("miss").Inc()

	fitCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		// another caller may have finished a fit between Get and DoChan
		if model, ok := c.Get(fingerprint); ok {
			return model, nil
		}
		model, err := fit(fitCtx)
		if err != nil {
			return nil, err
		}
		if model.Fingerprint != fingerprint {
			return nil, fmt.Errorf("fitted model fingerprint %s does not match %s", model.Fingerprint, fingerprint)
		}
		c.Put(model)
		return model, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight fit", zap.String("fingerprint", fingerprint))
		}
		return res.Val.(*training.TrainedModel), false, nil
	}
}

package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/pkg/logger"
	"github.com/quotegate/backend/pkg/utils"
)

// Store is a vector cache such as the Redis or in-process cache.
type Store interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Cached fronts an Embedder with a Store. Cache errors are logged and the
// call falls through to the embedder.
type Cached struct {
	next  Embedder
	store Store
	ttl   time.Duration
	label string
}

func NewCached(next Embedder, store Store, ttl time.Duration, label string) *Cached {
	return &Cached{next: next, store: store, ttl: ttl, label: label}
}

func (c *Cached) Model() string { return c.next.Model() }

func (c *Cached) key(text string) string {
	return utils.HashKey(c.next.Model(), text)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, vec)
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if vec, ok := c.lookup(ctx, c.key(t)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := c.next.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(missing))
		}
		for j, vec := range vecs {
			out[missingIdx[j]] = vec
			c.save(ctx, c.key(missing[j]), vec)
		}
	}
	return out, nil
}

func (c *Cached) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.store.GetEmbedding(ctx, key)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.String("cache", c.label), zap.Error(err))
		return nil, false
	}
	if ok {
		metrics.CacheHits.WithLabelValues(c.label).Inc()
		return vec, true
	}
	metrics.CacheMisses.WithLabelValues(c.label).Inc()
	return nil, false
}

func (c *Cached) save(ctx context.Context, key string, vec []float32) {
	if err := c.store.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.String("cache", c.label), zap.Error(err))
	}
}

// Package local is an in-process embedding cache for deployments without
// Redis.
package local

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type Cache struct {
	c *cache.Cache
}

func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{c: cache.New(defaultTTL, cleanupInterval)}
}

func (l *Cache) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	v, ok := l.c.Get(textHash)
	if !ok {
		return nil, false, nil
	}
	vec, ok := v.([]float32)
	return vec, ok, nil
}

func (l *Cache) SetEmbedding(_ context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	stored := make([]float32, len(embedding))
	copy(stored, embedding)
	l.c.Set(textHash, stored, ttl)
	return nil
}

func (l *Cache) Len() int {
	return l.c.ItemCount()
}

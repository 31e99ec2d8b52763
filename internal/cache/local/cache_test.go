package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c := New(time.Minute, time.Minute)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{1, 2}
	require.NoError(t, c.SetEmbedding(ctx, "k", vec, 0))
	vec[0] = 9

	got, ok, err := c.GetEmbedding(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
	assert.Equal(t, 1, c.Len())
}

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.SetEmbedding(ctx, "k", []float32{1}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, _ := c.GetEmbedding(ctx, "k")
	assert.False(t, ok)
}

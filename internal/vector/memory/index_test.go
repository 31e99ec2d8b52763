package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/retrieval"
)

func TestSearchOrdersByCosine(t *testing.T) {
	idx := New()
	ctx := context.Background()
	docs := []retrieval.Document{{ID: "x"}, {ID: "y"}, {ID: "z"}, {ID: "w"}}
	require.NoError(t, idx.Upsert(ctx, docs, [][]float32{{1, 0}, {0, 1}, {2, 2}, {1, 1}}))

	hits, err := idx.Search(ctx, []float32{3, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "x", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	// z and w point the same way; insertion order breaks the tie
	assert.Equal(t, "z", hits[1].ID)
	assert.Equal(t, "w", hits[2].ID)
}

func TestUpsertReplaces(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []retrieval.Document{{ID: "a", Text: "old"}}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, []retrieval.Document{{ID: "a", Text: "new"}}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", hits[0].Text)
}

func TestDimensionChecks(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []retrieval.Document{{ID: "a"}}, [][]float32{{1, 0}}))

	assert.Error(t, idx.Upsert(ctx, []retrieval.Document{{ID: "b"}}, [][]float32{{1, 0, 0}}))
	assert.Error(t, idx.Upsert(ctx, []retrieval.Document{{ID: "b"}}, nil))

	_, err := idx.Search(ctx, []float32{1}, 1)
	assert.Error(t, err)
}

func TestEmptyIndex(t *testing.T) {
	hits, err := New().Search(context.Background(), []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNormalize(t *testing.T) {
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, Normalize([]float32{3, 4}), 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}

func TestDeleteKeepsOrder(t *testing.T) {
	ctx := context.Background()
	idx := New()
	docs := []retrieval.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	require.NoError(t, idx.Upsert(ctx, docs, [][]float32{{1, 0}, {1, 0}, {1, 0}}))

	require.NoError(t, idx.Delete(ctx, []string{"a", "zzz"}))
	assert.Equal(t, 2, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)

	// re-upserting a surviving id must update it in place
	require.NoError(t, idx.Upsert(ctx, []retrieval.Document{{ID: "c", Text: "new"}}, [][]float32{{1, 0}}))
	assert.Equal(t, 2, idx.Len())
	hits, err = idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, "new", hits[1].Text)
}

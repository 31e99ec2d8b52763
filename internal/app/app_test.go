package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/ingestion"
	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Retrieval: config.RetrievalConfig{TopK: 5, RetrieveK: 20, Alpha: 0.2},
		Gate: config.GateConfig{
			DefinitionDense: config.RouteThresholds{MinScore: 0.35, MinMargin: 0.05},
			Hybrid:          config.RouteThresholds{MinScore: 0.35, MinMargin: 0.05},
			HybridRerank:    config.RouteThresholds{MinScore: -12, MinMargin: 0.25},
			AnchorTerms:     []string{"leave", "probation"},
		},
		Features:  config.FeaturesConfig{Mode: "full"},
		Index:     config.IndexConfig{Backend: "memory"},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dim: 384},
		SQLite:    config.SQLiteConfig{Path: filepath.Join(dir, "data", "app.db")},
		Ingestion: config.IngestionConfig{ChunkSize: 500, ChunkOverlap: 80},
	}
}

func TestNewReloadsStoredChunks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, "")
	require.NoError(t, err)
	_, err = a.Processor.ProcessDocument(ctx, ingestion.Source{
		Name:    "probation.md",
		Content: "Employees on probation may not take leave.",
	})
	require.NoError(t, err)
	a.Close()

	b, err := New(ctx, cfg, "retrieval")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "retrieval", b.Engine.Features().Name())
	assert.Equal(t, 1, b.Lexical.Count())

	env, err := b.Engine.ProcessQuery(ctx, query.Request{Query: "probation"})
	require.NoError(t, err)
	require.Len(t, env.Results, 1)
	assert.Equal(t, "probation_000", env.Results[0].ID)
	assert.False(t, env.PassedConfidenceGate)
}

func TestReingestShorterRevisionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Ingestion = config.IngestionConfig{ChunkSize: 40, ChunkOverlap: 10}
	stale := "Employees on probation may take unlimited leave at any time."

	a, err := New(ctx, cfg, "")
	require.NoError(t, err)
	long, err := a.Processor.ProcessDocument(ctx, ingestion.Source{
		Name:    "hr.md",
		Content: "Annual leave is twenty days per year.\n" + stale,
	})
	require.NoError(t, err)
	require.Greater(t, len(long), 1)
	_, err = a.Processor.ProcessDocument(ctx, ingestion.Source{
		Name:    "hr.md",
		Content: "Annual leave is twenty days per year.",
	})
	require.NoError(t, err)
	a.Close()

	b, err := New(ctx, cfg, "")
	require.NoError(t, err)
	defer b.Close()

	chunks, err := b.Store.ListChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hr_000", chunks[0].ID)
	assert.Equal(t, 1, b.Lexical.Count())

	env, err := b.Engine.ProcessQuery(ctx, query.Request{Query: "unlimited leave probation"})
	require.NoError(t, err)
	for _, r := range env.Results {
		assert.Equal(t, "hr_000", r.ID)
		assert.NotContains(t, r.Text, "unlimited")
	}
	if env.Answer != nil {
		assert.NotContains(t, *env.Answer, "unlimited")
	}
}

func TestDeleteDocumentSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, "")
	require.NoError(t, err)
	_, err = a.Processor.ProcessDocument(ctx, ingestion.Source{Name: "probation.md", Content: "Employees on probation may not take leave."})
	require.NoError(t, err)
	_, err = a.Processor.ProcessDocument(ctx, ingestion.Source{Name: "notice.md", Content: "The notice period is thirty days."})
	require.NoError(t, err)

	n, err := a.Processor.DeleteDocument(ctx, "probation.md")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, a.Lexical.Count())
	a.Close()

	b, err := New(ctx, cfg, "")
	require.NoError(t, err)
	defer b.Close()

	env, err := b.Engine.ProcessQuery(ctx, query.Request{Query: "probation"})
	require.NoError(t, err)
	for _, r := range env.Results {
		assert.NotEqual(t, "probation_000", r.ID)
	}
}

func TestNewRejectsBadMode(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), "turbo")
	assert.Error(t, err)
}

// Package app assembles the pipeline from configuration. The API server and
// the ragctl CLI share it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/answer"
	"github.com/quotegate/backend/internal/cache/local"
	"github.com/quotegate/backend/internal/cache/redis"
	"github.com/quotegate/backend/internal/embedding"
	"github.com/quotegate/backend/internal/features"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/ingestion"
	"github.com/quotegate/backend/internal/lexical"
	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/internal/rerank"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
	"github.com/quotegate/backend/internal/storage/sqlite"
	"github.com/quotegate/backend/internal/vector/memory"
	"github.com/quotegate/backend/internal/vector/milvus"
	"github.com/quotegate/backend/pkg/config"
	"github.com/quotegate/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Store     *sqlite.Client
	Lexical   *lexical.Index
	Vectors   retrieval.VectorIndex
	Embedder  embedding.Embedder
	Processor *ingestion.Processor
	Engine    *query.Engine

	closers []func() error
}

// New opens the stores, builds the engine and loads every stored chunk into
// the lexical and vector indexes. modeOverride, when set, replaces the
// configured feature mode.
func New(ctx context.Context, cfg *config.Config, modeOverride string) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openIndexes(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildEmbedder(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Processor = ingestion.NewProcessor(a.Store, a.Lexical, a.Vectors, a.Embedder,
		cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)

	engine, err := a.buildEngine(modeOverride)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine

	n, err := a.Processor.Load(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	logger.Info("Corpus loaded", zap.Int("chunks", n))

	return a, nil
}

func (a *App) openStore() error {
	if dir := filepath.Dir(a.Config.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := sqlite.NewClient(a.Config.SQLite.Path)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	if err := store.InitSchema(); err != nil {
		return err
	}
	a.Store = store
	return nil
}

func (a *App) openIndexes(ctx context.Context) error {
	lex, err := lexical.New(a.Config.Lexical.IndexPath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, lex.Close)
	a.Lexical = lex

	switch a.Config.Index.Backend {
	case "milvus":
		mc := a.Config.Milvus
		client, err := milvus.NewClient(ctx, milvus.Options{
			Address:        mc.Address,
			APIKey:         mc.APIKey,
			CollectionName: mc.CollectionName,
			VectorDim:      a.Config.Embedding.Dim,
			Timeout:        time.Duration(mc.TimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		if err := client.EnsureCollection(ctx); err != nil {
			return err
		}
		a.Vectors = client
	default:
		a.Vectors = memory.New()
	}
	return nil
}

func (a *App) buildEmbedder(ctx context.Context) error {
	ec := a.Config.Embedding

	var base embedding.Embedder
	switch ec.Provider {
	case "openai":
		base = embedding.NewOpenAI(embedding.OpenAIOptions{
			APIKey:    ec.APIKey,
			BaseURL:   ec.BaseURL,
			Model:     ec.Model,
			BatchSize: ec.BatchSize,
			Timeout:   time.Duration(ec.TimeoutSec) * time.Second,
		})
	default:
		// Hash vectors are cheaper to recompute than to fetch.
		a.Embedder = embedding.NewHashing(ec.Dim)
		return nil
	}

	ttl := time.Duration(ec.CacheTTL) * time.Second
	rc := a.Config.Redis
	if rc.Enabled {
		client, err := redis.NewClient(rc.Host, rc.Port, rc.Password, rc.DB)
		if err == nil {
			err = client.Ping(ctx)
		}
		if err == nil {
			a.closers = append(a.closers, client.Close)
			a.Embedder = embedding.NewCached(base, client, ttl, "redis")
			return nil
		}
		logger.Warn("Redis unavailable, using in-process embedding cache", zap.Error(err))
	}

	a.Embedder = embedding.NewCached(base, local.New(ttl, 10*time.Minute), ttl, "local")
	return nil
}

func (a *App) buildEngine(modeOverride string) (*query.Engine, error) {
	cfg := a.Config

	mode := cfg.Features.Mode
	if modeOverride != "" {
		mode = modeOverride
	}
	feats, err := features.FromName(mode)
	if err != nil {
		return nil, err
	}

	g, err := gate.New(map[router.Route]gate.Thresholds{
		router.DefinitionDense: {MinScore: cfg.Gate.DefinitionDense.MinScore, MinMargin: cfg.Gate.DefinitionDense.MinMargin},
		router.GeneralHybrid:   {MinScore: cfg.Gate.Hybrid.MinScore, MinMargin: cfg.Gate.Hybrid.MinMargin},
		router.GeneralRerank:   {MinScore: cfg.Gate.HybridRerank.MinScore, MinMargin: cfg.Gate.HybridRerank.MinMargin},
	}, cfg.Gate.AnchorTerms)
	if err != nil {
		return nil, fmt.Errorf("failed to build gate: %w", err)
	}

	var scorer rerank.Scorer
	if cfg.Reranker.Enabled {
		scorer = rerank.NewClient(cfg.Reranker.Endpoint, cfg.Reranker.Model,
			time.Duration(cfg.Reranker.TimeoutSec)*time.Second)
	}

	return query.NewEngine(
		retrieval.NewEmbeddingSearcher(a.Embedder, a.Vectors),
		a.Lexical,
		scorer,
		g,
		query.Options{
			TopK:        cfg.Retrieval.TopK,
			RetrieveK:   cfg.Retrieval.RetrieveK,
			Alpha:       cfg.Retrieval.Alpha,
			UseReranker: cfg.Retrieval.UseReranker,
			Features:    feats,
			Limits: answer.Limits{
				MaxChunks:         cfg.Answer.MaxChunks,
				MaxCandidateLines: cfg.Answer.MaxCandidateLines,
				MaxQuotes:         cfg.Answer.MaxQuotes,
				MaxLineLen:        cfg.Answer.MaxLineLen,
			},
		},
	)
}

// Close releases everything New opened, most recent first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

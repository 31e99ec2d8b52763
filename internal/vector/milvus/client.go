// Package milvus stores chunk vectors in a Milvus (or Zilliz Cloud)
// collection. Vectors are unit-normalized and searched by inner product, so
// scores are cosine similarities like the in-memory index.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/vector/memory"
	"github.com/quotegate/backend/pkg/circuitbreaker"
	"github.com/quotegate/backend/pkg/logger"
	"github.com/quotegate/backend/pkg/retry"
)

const (
	fieldID     = "chunk_id"
	fieldVector = "embedding"
	fieldText   = "text"
	fieldSource = "source"
)

var outputFields = []string{fieldID, fieldText, fieldSource}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	timeout        time.Duration
	breaker        *circuitbreaker.Breaker
	retry          retry.Config
}

type Options struct {
	Address        string
	APIKey         string
	CollectionName string
	VectorDim      int
	Timeout        time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cfg := client.Config{Address: opts.Address}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
		cfg.EnableTLSAuth = true
	}
	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	logger.Info("Milvus client initialized",
		zap.String("address", opts.Address),
		zap.String("collection", opts.CollectionName),
	)

	log := logger.GetLogger()
	return &Client{
		client:         c,
		collectionName: opts.CollectionName,
		vectorDim:      opts.VectorDim,
		timeout:        opts.Timeout,
		breaker:        circuitbreaker.New("milvus", circuitbreaker.Config{Logger: log}),
		retry:          retry.Config{MaxAttempts: 3, Logger: log},
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the collection if it does not exist.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		return nil
	}

	schema := entity.NewSchema().
		WithName(m.collectionName).
		WithDescription("policy chunk embeddings").
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(m.vectorDim))).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(8192)).
		WithField(entity.NewField().WithName(fieldSource).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(512))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.IP, 16, 200)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldVector, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Upsert(ctx context.Context, docs []retrieval.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d documents", len(vectors), len(docs))
	}
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	sources := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		texts[i] = d.Text
		sources[i] = d.Source
		embeddings[i] = memory.Normalize(vectors[i])
	}

	_, err := m.client.Upsert(ctx, m.collectionName, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, m.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(docs)))
	return nil
}

// Delete removes chunks by primary key and flushes so later searches no
// longer see them.
func (m *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	expr := idInExpr(ids)
	err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.breaker.Execute(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			return m.client.Delete(ctx, m.collectionName, "", expr)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks deleted from vector DB", zap.Int("count", len(ids)))
	return nil
}

// idInExpr builds a boolean expression matching the given primary keys.
func idInExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ", "))
}

func (m *Client) Search(ctx context.Context, vector []float32, k int) ([]retrieval.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(k * 4)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}
	q := entity.FloatVector(memory.Normalize(vector))

	results, err := retry.DoWithResult(ctx, m.retry, func(ctx context.Context) ([]client.SearchResult, error) {
		return circuitbreaker.Run(ctx, m.breaker, func(ctx context.Context) ([]client.SearchResult, error) {
			ctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			return m.client.Search(ctx, m.collectionName, nil, "", outputFields,
				[]entity.Vector{q}, fieldVector, entity.IP, k, sp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits, err := hitsFromResults(results)
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed", zap.Int("topK", k), zap.Int("results", len(hits)))
	return hits, nil
}

func hitsFromResults(results []client.SearchResult) ([]retrieval.Hit, error) {
	var hits []retrieval.Hit
	for _, sr := range results {
		if sr.Err != nil {
			return nil, fmt.Errorf("search result error: %w", sr.Err)
		}
		idCol := sr.Fields.GetColumn(fieldID)
		textCol := sr.Fields.GetColumn(fieldText)
		sourceCol := sr.Fields.GetColumn(fieldSource)
		if idCol == nil || textCol == nil || sourceCol == nil {
			return nil, fmt.Errorf("search result missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldID, err)
			}
			text, err := textCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldText, err)
			}
			source, err := sourceCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldSource, err)
			}
			hits = append(hits, retrieval.Hit{ID: id, Text: text, Source: source, Score: float64(sr.Scores[i])})
		}
	}
	return hits, nil
}

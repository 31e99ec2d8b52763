// Package lexical is the keyword scorer: a bleve index over chunk text,
// queried with BM25-style match queries.
package lexical

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/pkg/logger"
)

type indexedDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type docMeta struct {
	doc     retrieval.Document
	ordinal int
}

type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]docMeta
	next  int
}

// New opens an index. An empty path keeps it in memory; otherwise the index
// is created at path or reopened if it exists.
func New(path string) (*Index, error) {
	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}
	return &Index{bleve: idx, meta: make(map[string]docMeta)}, nil
}

// Add indexes docs in order. Re-adding an id replaces its text but keeps its
// original position for tie-breaking.
func (x *Index) Add(docs []retrieval.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.bleve.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, indexedDoc{Text: d.Text, Source: d.Source}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", d.ID, err)
		}
		m, ok := x.meta[d.ID]
		if !ok {
			m.ordinal = x.next
			x.next++
		}
		m.doc = d
		x.meta[d.ID] = m
	}
	if err := x.bleve.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit lexical batch: %w", err)
	}

	logger.Debug("Indexed lexical chunks", zap.Int("count", len(docs)))
	return nil
}

// Delete removes ids from the index. Unknown ids are ignored.
func (x *Index) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.bleve.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.bleve.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit lexical delete: %w", err)
	}
	for _, id := range ids {
		delete(x.meta, id)
	}

	logger.Debug("Removed lexical chunks", zap.Int("count", len(ids)))
	return nil
}

// SearchLexical returns up to k hits ordered by score, ties in insertion
// order. A query matching nothing yields an empty slice.
func (x *Index) SearchLexical(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, k*3, 0, false)

	x.mu.RLock()
	defer x.mu.RUnlock()

	res, err := x.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search lexical index: %w", err)
	}

	type scored struct {
		meta  docMeta
		score float64
	}
	hits := make([]scored, 0, len(res.Hits))
	for _, h := range res.Hits {
		m, ok := x.meta[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, scored{meta: m, score: h.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].meta.ordinal < hits[j].meta.ordinal
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]retrieval.Hit, len(hits))
	for i, h := range hits {
		out[i] = retrieval.Hit{ID: h.meta.doc.ID, Text: h.meta.doc.Text, Source: h.meta.doc.Source, Score: h.score}
	}
	return out, nil
}

func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

func (x *Index) Close() error {
	return x.bleve.Close()
}

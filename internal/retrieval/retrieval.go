// Package retrieval defines the scored candidate shared by every pipeline
// stage and the collaborator interfaces the routes search through.
package retrieval

import (
	"context"
	"fmt"
	"math"
)

// Candidate is one retrieved passage. Scores are attached by value; a stage
// that adds a score returns a new Candidate.
type Candidate struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Source       string   `json:"source"`
	ScoreDense   float64  `json:"score_dense"`
	ScoreLexical float64  `json:"score_lexical"`
	ScoreHybrid  *float64 `json:"score_hybrid"`
	ScoreRerank  *float64 `json:"score_rerank"`
}

// EffectiveScore is the score later stages rank and gate on: rerank, then
// hybrid, then dense. NaN counts as missing.
func (c Candidate) EffectiveScore() (float64, bool) {
	var s float64
	switch {
	case c.ScoreRerank != nil:
		s = *c.ScoreRerank
	case c.ScoreHybrid != nil:
		s = *c.ScoreHybrid
	default:
		s = c.ScoreDense
	}
	if math.IsNaN(s) {
		return 0, false
	}
	return s, true
}

func (c Candidate) WithHybrid(v float64) Candidate {
	c.ScoreHybrid = &v
	return c
}

func (c Candidate) WithRerank(v float64) Candidate {
	c.ScoreRerank = &v
	return c
}

// Hit is what a collaborator returns for one document.
type Hit struct {
	ID     string
	Text   string
	Source string
	Score  float64
}

// Document is an indexable chunk.
type Document struct {
	ID     string
	Text   string
	Source string
}

type DenseSearcher interface {
	SearchDense(ctx context.Context, query string, k int) ([]Hit, error)
}

type LexicalSearcher interface {
	SearchLexical(ctx context.Context, query string, k int) ([]Hit, error)
}

// VectorIndex stores document vectors and answers nearest-neighbour queries
// ordered by descending similarity.
type VectorIndex interface {
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingSearcher answers dense queries by embedding the query text and
// searching a vector index.
type EmbeddingSearcher struct {
	embedder Embedder
	index    VectorIndex
}

func NewEmbeddingSearcher(embedder Embedder, index VectorIndex) *EmbeddingSearcher {
	return &EmbeddingSearcher{embedder: embedder, index: index}
}

func (s *EmbeddingSearcher) SearchDense(ctx context.Context, query string, k int) ([]Hit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	return hits, nil
}

func FromDense(hits []Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ID: h.ID, Text: h.Text, Source: h.Source, ScoreDense: h.Score}
	}
	return out
}

func FromLexical(hits []Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ID: h.ID, Text: h.Text, Source: h.Source, ScoreLexical: h.Score}
	}
	return out
}

// Texts returns candidate texts in rank order.
func Texts(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Text
	}
	return out
}

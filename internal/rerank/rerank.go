// Package rerank reorders a fused shortlist with an external relevance model.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/quotegate/backend/internal/retrieval"
)

// Scorer returns one relevance score per text, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Rerank scores candidates with scorer and returns the best k by rerank
// score, ties in input order. The result never exceeds len(candidates).
func Rerank(ctx context.Context, scorer Scorer, query string, candidates []retrieval.Candidate, k int) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := scorer.Score(ctx, query, retrieval.Texts(candidates))
	if err != nil {
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}

	out := make([]retrieval.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c.WithRerank(scores[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].ScoreRerank > *out[j].ScoreRerank })

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

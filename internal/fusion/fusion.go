// Package fusion combines a dense and a lexical candidate list into one list
// ranked by a weighted hybrid score.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/quotegate/backend/internal/retrieval"
)

var ErrAlphaOutOfRange = errors.New("fusion alpha must be within [0,1]")

type entry struct {
	cand     retrieval.Candidate
	dense    float64
	lexical  float64
	hasDense bool
	hasLex   bool
}

// Fuse unions dense and lexical by id and scores each candidate as
// alpha*norm(dense) + (1-alpha)*norm(lexical). A score absent from one list
// takes that list's minimum. The output is sorted by hybrid score, ties in
// first-seen order, and holds at most max(len(dense), len(lexical)) items.
func Fuse(dense, lexical []retrieval.Candidate, alpha float64) ([]retrieval.Candidate, error) {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("%w: %v", ErrAlphaOutOfRange, alpha)
	}

	byID := make(map[string]*entry, len(dense)+len(lexical))
	entries := make([]*entry, 0, len(dense)+len(lexical))

	get := func(c retrieval.Candidate) *entry {
		if e, ok := byID[c.ID]; ok {
			return e
		}
		e := &entry{cand: c}
		byID[c.ID] = e
		entries = append(entries, e)
		return e
	}

	for _, c := range dense {
		e := get(c)
		if !e.hasDense {
			e.dense, e.hasDense = c.ScoreDense, true
		}
	}
	for _, c := range lexical {
		e := get(c)
		if !e.hasLex {
			e.lexical, e.hasLex = c.ScoreLexical, true
		}
	}

	denseMin, denseMax := bounds(dense, func(c retrieval.Candidate) float64 { return c.ScoreDense })
	lexMin, lexMax := bounds(lexical, func(c retrieval.Candidate) float64 { return c.ScoreLexical })

	out := make([]retrieval.Candidate, len(entries))
	for i, e := range entries {
		if !e.hasDense {
			e.dense = denseMin
		}
		if !e.hasLex {
			e.lexical = lexMin
		}

		var nd, nl float64
		if len(dense) > 0 {
			nd = normalize(e.dense, denseMin, denseMax)
		}
		if len(lexical) > 0 {
			nl = normalize(e.lexical, lexMin, lexMax)
		}

		c := e.cand
		c.ScoreDense = e.dense
		c.ScoreLexical = e.lexical
		out[i] = c.WithHybrid(alpha*nd + (1-alpha)*nl)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].ScoreHybrid > *out[j].ScoreHybrid
	})

	limit := len(dense)
	if len(lexical) > limit {
		limit = len(lexical)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func bounds(cands []retrieval.Candidate, score func(retrieval.Candidate) float64) (float64, float64) {
	if len(cands) == 0 {
		return 0, 0
	}
	lo, hi := score(cands[0]), score(cands[0])
	for _, c := range cands[1:] {
		s := score(c)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// normalize is min-max scaling. A list with a single distinct value maps
// positive scores to 1 and the rest to 0.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		if v > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}

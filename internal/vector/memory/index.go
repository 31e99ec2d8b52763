// Package memory is an in-process vector index that scans every stored
// vector with cosine similarity.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/quotegate/backend/internal/retrieval"
)

type entry struct {
	doc    retrieval.Document
	vector []float32
}

type Index struct {
	mu      sync.RWMutex
	entries []entry
	byID    map[string]int
	dim     int
}

func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Upsert stores unit-normalized copies of vectors. All vectors must share
// one dimension.
func (x *Index) Upsert(_ context.Context, docs []retrieval.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d documents", len(vectors), len(docs))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for i, d := range docs {
		v := vectors[i]
		if x.dim == 0 {
			x.dim = len(v)
		}
		if len(v) != x.dim {
			return fmt.Errorf("vector for %s has dimension %d, index has %d", d.ID, len(v), x.dim)
		}
		e := entry{doc: d, vector: Normalize(v)}
		if pos, ok := x.byID[d.ID]; ok {
			x.entries[pos] = e
			continue
		}
		x.byID[d.ID] = len(x.entries)
		x.entries = append(x.entries, e)
	}
	return nil
}

// Delete drops ids, keeping the remaining entries in insertion order.
func (x *Index) Delete(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := x.byID[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	kept := x.entries[:0]
	for _, e := range x.entries {
		if drop[e.doc.ID] {
			delete(x.byID, e.doc.ID)
			continue
		}
		x.byID[e.doc.ID] = len(kept)
		kept = append(kept, e)
	}
	x.entries = kept
	return nil
}

// Search returns the k most similar documents, ties in insertion order.
func (x *Index) Search(_ context.Context, vector []float32, k int) ([]retrieval.Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || len(x.entries) == 0 {
		return nil, nil
	}
	if len(vector) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), x.dim)
	}

	q := Normalize(vector)
	hits := make([]retrieval.Hit, len(x.entries))
	for i, e := range x.entries {
		hits[i] = retrieval.Hit{ID: e.doc.ID, Text: e.doc.Text, Source: e.doc.Source, Score: dot(q, e.vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	n := math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

package gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
)

func canonical() map[router.Route]Thresholds {
	return map[router.Route]Thresholds{
		router.DefinitionDense: {MinScore: 0.35, MinMargin: 0.05},
		router.GeneralHybrid:   {MinScore: 0.35, MinMargin: 0.05},
		router.GeneralRerank:   {MinScore: -12.0, MinMargin: 0.25},
	}
}

func newGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(canonical(), []string{"policy", "Probation", " leave "})
	require.NoError(t, err)
	return g
}

func hybrid(texts []string, scores ...float64) []retrieval.Candidate {
	out := make([]retrieval.Candidate, len(scores))
	for i, s := range scores {
		c := retrieval.Candidate{ID: string(rune('a' + i))}
		if i < len(texts) {
			c.Text = texts[i]
		}
		out[i] = c.WithHybrid(s)
	}
	return out
}

func reranked(scores ...float64) []retrieval.Candidate {
	out := hybrid(nil, scores...)
	for i, s := range scores {
		out[i] = out[i].WithRerank(s)
	}
	return out
}

func TestEmptyResultsAlwaysNoRetrieval(t *testing.T) {
	g := newGate(t)
	for _, route := range []router.Route{router.DefinitionDense, router.GeneralHybrid, router.GeneralRerank} {
		d := g.Evaluate(nil, route)
		assert.False(t, d.Passed)
		require.NotNil(t, d.FailureCode)
		assert.Equal(t, NoRetrieval, *d.FailureCode)
		assert.Equal(t, ReasonNoResults, d.Reason)
		assert.Equal(t, "No results retrieved", d.Reason.Message())
		assert.Nil(t, d.BestScore)
		assert.Nil(t, d.ScoreMargin)
		assert.Equal(t, FallbackMessage, d.Fallback())
	}
}

func TestLowScoreBeforeMargin(t *testing.T) {
	g := newGate(t)
	// both rules would fail; the absolute score rule runs first
	d := g.Evaluate(hybrid(nil, 0.2, 0.19), router.GeneralHybrid)
	require.NotNil(t, d.FailureCode)
	assert.Equal(t, LowScore, *d.FailureCode)
	assert.Equal(t, ReasonLowScore, d.Reason)
	require.NotNil(t, d.ScoreMargin)
	assert.InDelta(t, 0.01, *d.ScoreMargin, 1e-9)
}

func TestMissingTopScoreIsLowScore(t *testing.T) {
	g := newGate(t)
	d := g.Evaluate([]retrieval.Candidate{{ScoreDense: math.NaN()}}, router.GeneralRerank)
	require.NotNil(t, d.FailureCode)
	assert.Equal(t, LowScore, *d.FailureCode)
	assert.Nil(t, d.BestScore)
}

func TestRerankRouteExemptFromMinScore(t *testing.T) {
	g := newGate(t)
	d := g.Evaluate(reranked(-30, -31), router.GeneralRerank)
	assert.True(t, d.Passed)
	assert.Equal(t, ReasonPassed, d.Reason)
	assert.Nil(t, d.FailureCode)
}

func TestMarginBoundary(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name   string
		route  router.Route
		cands  []retrieval.Candidate
		passed bool
	}{
		{"hybrid exact margin passes", router.GeneralHybrid, hybrid(nil, 0.90, 0.85), true},
		{"hybrid one unit less fails", router.GeneralHybrid, hybrid(nil, 0.90, 0.86), false},
		{"rerank exact margin passes", router.GeneralRerank, reranked(1.0, 0.75), true},
		{"rerank one unit less fails", router.GeneralRerank, reranked(1.0, 0.76), false},
		{"single candidate has no margin rule", router.GeneralHybrid, hybrid(nil, 0.5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.cands, tt.route)
			assert.Equal(t, tt.passed, d.Passed)
			if !tt.passed {
				require.NotNil(t, d.FailureCode)
				assert.Equal(t, Ambiguous, *d.FailureCode)
				assert.Equal(t, ReasonLowGap, d.Reason)
			}
		})
	}
}

func TestNearDuplicatesAreAmbiguousRegardlessOfScore(t *testing.T) {
	g := newGate(t)
	d := g.Evaluate(reranked(9.40, 9.38), router.GeneralRerank)
	require.NotNil(t, d.FailureCode)
	assert.Equal(t, Ambiguous, *d.FailureCode)
	require.NotNil(t, d.BestScore)
	assert.Equal(t, 9.40, *d.BestScore)
	assert.Equal(t, 0.25, d.Thresholds.MinMargin)
}

func TestAnchorMode(t *testing.T) {
	g := newGate(t)
	withAnchor := hybrid([]string{"Cafeteria hours", "Employees on PROBATION may not take leave"}, 0.9, 0.5)
	noAnchor := hybrid([]string{"Cafeteria hours", "Parking spaces"}, 0.9, 0.5)

	assert.True(t, g.EvaluateWithAnchors(withAnchor, router.GeneralHybrid, true).Passed)
	assert.True(t, g.EvaluateWithAnchors(noAnchor, router.GeneralHybrid, false).Passed)

	d := g.EvaluateWithAnchors(noAnchor, router.GeneralHybrid, true)
	assert.False(t, d.Passed)
	require.NotNil(t, d.FailureCode)
	assert.Equal(t, LowScore, *d.FailureCode)
	assert.Equal(t, ReasonSemanticAbsence, d.Reason)
	assert.NotNil(t, d.BestScore)

	// score rules still come first
	d = g.EvaluateWithAnchors(nil, router.GeneralHybrid, true)
	assert.Equal(t, ReasonNoResults, d.Reason)
}

func TestNewValidation(t *testing.T) {
	th := canonical()
	delete(th, router.DefinitionDense)
	_, err := New(th, nil)
	assert.ErrorIs(t, err, ErrMissingRoute)

	th = canonical()
	th[router.GeneralRerank] = Thresholds{MinMargin: 0.05}
	_, err = New(th, nil)
	assert.ErrorIs(t, err, ErrMarginOrder)
}

func TestDisabled(t *testing.T) {
	d := Disabled(hybrid(nil, 0.1, 0.09))
	assert.True(t, d.Passed)
	assert.Equal(t, ReasonDisabled, d.Reason)
	assert.Nil(t, d.FailureCode)
	require.NotNil(t, d.BestScore)
	assert.Empty(t, d.Fallback())
}

func TestEvaluateIsPure(t *testing.T) {
	g := newGate(t)
	in := hybrid(nil, 0.9, 0.4)
	assert.Equal(t, g.Evaluate(in, router.GeneralHybrid), g.Evaluate(in, router.GeneralHybrid))
}

package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/answer"
	"github.com/quotegate/backend/internal/decision"
	"github.com/quotegate/backend/internal/embedding"
	"github.com/quotegate/backend/internal/features"
	"github.com/quotegate/backend/internal/fusion"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/lexical"
	"github.com/quotegate/backend/internal/rerank"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
	"github.com/quotegate/backend/internal/vector/memory"
)

var corpus = []string{
	"Employees on probation may not take leave.",
	"Sick leave requires a medical certificate from a doctor.",
	"Laptops must be returned on the last working day.",
	"The notice period for resignation is thirty days.",
}

func testGate(t *testing.T) *gate.Gate {
	t.Helper()
	g, err := gate.New(map[router.Route]gate.Thresholds{
		router.DefinitionDense: {MinScore: 0.35, MinMargin: 0.05},
		router.GeneralHybrid:   {MinScore: 0.35, MinMargin: 0.05},
		router.GeneralRerank:   {MinScore: -12, MinMargin: 0.25},
	}, []string{"policy", "leave", "probation", "notice", "days"})
	require.NoError(t, err)
	return g
}

// realEngine indexes corpus into bleve and the in-memory vector index.
func realEngine(t *testing.T) *Engine {
	t.Helper()
	lex, err := lexical.New("")
	require.NoError(t, err)
	t.Cleanup(func() { lex.Close() })

	emb := embedding.NewHashing(384)
	vec := memory.New()
	docs := make([]retrieval.Document, len(corpus))
	for i, text := range corpus {
		docs[i] = retrieval.Document{ID: fmt.Sprintf("c%d", i+1), Text: text, Source: "handbook.md"}
	}
	require.NoError(t, lex.Add(docs))
	vecs, err := emb.EmbedBatch(context.Background(), corpus)
	require.NoError(t, err)
	require.NoError(t, vec.Upsert(context.Background(), docs, vecs))

	e, err := NewEngine(retrieval.NewEmbeddingSearcher(emb, vec), lex, nil, testGate(t), Options{Alpha: 0.2})
	require.NoError(t, err)
	return e
}

type fakeSearcher struct {
	hits []retrieval.Hit
	err  error
}

func (f fakeSearcher) SearchDense(_ context.Context, _ string, k int) ([]retrieval.Hit, error) {
	return f.search(k)
}

func (f fakeSearcher) SearchLexical(_ context.Context, _ string, k int) ([]retrieval.Hit, error) {
	return f.search(k)
}

func (f fakeSearcher) search(k int) ([]retrieval.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

// fakeScorer scores texts from a lookup table.
type fakeScorer map[string]float64

func (f fakeScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = f[t]
	}
	return out, nil
}

func hit(id, text string, score float64) retrieval.Hit {
	return retrieval.Hit{ID: id, Text: text, Source: id + ".md", Score: score}
}

func fakeEngine(t *testing.T, dense, lex fakeSearcher, scorer fakeScorer, mode string) *Engine {
	t.Helper()
	var s rerank.Scorer
	if scorer != nil {
		s = scorer
	}
	e, err := NewEngine(dense, lex, s, testGate(t), Options{
		Alpha:       0.2,
		UseReranker: scorer != nil,
		Features:    features.MustFromName(mode),
	})
	require.NoError(t, err)
	return e
}

func TestProbationQueryPasses(t *testing.T) {
	e := realEngine(t)

	env, err := e.ProcessQuery(context.Background(), Request{Query: "probation rules"})
	require.NoError(t, err)

	assert.Equal(t, router.GeneralHybrid, env.Route)
	require.NotEmpty(t, env.Results)
	assert.LessOrEqual(t, len(env.Results), 5)
	assert.Equal(t, corpus[0], env.Results[0].Text)

	assert.True(t, env.PassedConfidenceGate)
	require.NotNil(t, env.Decision)
	assert.Equal(t, "PASS", *env.Decision)
	require.NotNil(t, env.AnswerOutcomeCode)
	assert.Equal(t, decision.Answered, *env.AnswerOutcomeCode)
	require.NotNil(t, env.Answer)
	assert.Contains(t, *env.Answer, "probation")
	assert.Nil(t, env.FailureCode)
	assert.Empty(t, env.HowToImprove)
	assert.Equal(t, []string{"handbook.md"}, env.AnswerSources)
}

func TestNonsenseQueryAbstainsOnHybrid(t *testing.T) {
	e := realEngine(t)

	env, err := e.ProcessQuery(context.Background(), Request{Query: "asdjkl qweoi zxcmn"})
	require.NoError(t, err)

	assert.False(t, env.PassedConfidenceGate)
	require.NotNil(t, env.FailureCode)
	assert.Equal(t, gate.LowScore, *env.FailureCode)
	assert.Equal(t, decision.AbstainLowConf, *env.AnswerOutcomeCode)
	assert.Equal(t, gate.FallbackMessage, *env.Answer)
	assert.Equal(t, HowToImprove, env.HowToImprove)
	assert.Nil(t, env.AnswerStatus)
}

func TestNonsenseQueryReclassifiedOnRerank(t *testing.T) {
	dense := fakeSearcher{hits: []retrieval.Hit{
		hit("a", "Annual leave must be approved by a manager.", 0.3),
		hit("b", "Notice period is thirty days.", 0.2),
		hit("c", "Probation lasts six months.", 0.1),
	}}
	scorer := fakeScorer{
		"Annual leave must be approved by a manager.": -11.0,
		"Notice period is thirty days.":               -11.1,
		"Probation lasts six months.":                 -11.15,
	}
	e := fakeEngine(t, dense, fakeSearcher{}, scorer, "full")

	env, err := e.ProcessQuery(context.Background(), Request{Query: "asdjkl qweoi zxcmn"})
	require.NoError(t, err)

	assert.Equal(t, router.GeneralRerank, env.Route)
	require.NotNil(t, env.FailureCode)
	assert.Equal(t, gate.LowScore, *env.FailureCode)
	assert.Equal(t, gate.ReasonOffTopic, env.Gate.Reason)
	assert.Equal(t, decision.AbstainLowConf, *env.AnswerOutcomeCode)
	require.NotNil(t, env.DecisionCard)
	assert.Equal(t, decision.AbstainLowConf, env.DecisionCard.Outcome)
	assert.Equal(t, router.GeneralRerank, env.DecisionCard.RouteUsed)
}

func TestNearTieRerankIsAmbiguous(t *testing.T) {
	dense := fakeSearcher{hits: []retrieval.Hit{
		hit("a", "The notice period is thirty days for staff.", 0.5),
		hit("b", "The notice period is sixty days for managers.", 0.4),
		hit("c", "Laptops must be returned.", 0.1),
	}}
	scorer := fakeScorer{
		"The notice period is thirty days for staff.":   5.0,
		"The notice period is sixty days for managers.": 4.98,
		"Laptops must be returned.":                     1.0,
	}
	e := fakeEngine(t, dense, fakeSearcher{}, scorer, "full")

	env, err := e.ProcessQuery(context.Background(), Request{Query: "how many days of notice period"})
	require.NoError(t, err)

	assert.Equal(t, router.GeneralRerank, env.Route)
	require.NotNil(t, env.FailureCode)
	assert.Equal(t, gate.Ambiguous, *env.FailureCode)
	assert.Equal(t, decision.AbstainAmbiguous, *env.AnswerOutcomeCode)
	require.NotNil(t, env.ScoreMargin)
	assert.InDelta(t, 0.02, *env.ScoreMargin, 1e-9)
	assert.Equal(t, "Ambiguous match", *env.GateReason)
	require.NotNil(t, env.Thresholds)
	assert.Equal(t, 0.25, env.Thresholds.MinMargin)
}

func TestPassingGateWithoutMatchingLines(t *testing.T) {
	dense := fakeSearcher{hits: []retrieval.Hit{
		hit("a", "Laptops are returned on the last working day.", 0.9),
		hit("b", "Badges are collected by security staff at the exit desk.", 0.1),
	}}
	lex := fakeSearcher{hits: []retrieval.Hit{hit("a", "Laptops are returned on the last working day.", 2.0)}}
	e := fakeEngine(t, dense, lex, nil, "full")

	env, err := e.ProcessQuery(context.Background(), Request{Query: "probation rules"})
	require.NoError(t, err)

	assert.True(t, env.PassedConfidenceGate)
	assert.Equal(t, decision.AnswerBuilderEmpty, *env.AnswerOutcomeCode)
	assert.Equal(t, answer.StatusWeakEvidence, *env.AnswerStatus)
	assert.Equal(t, answer.WeakEvidenceMessage, *env.Answer)
	assert.Equal(t, HowToImprove, env.HowToImprove)
	assert.Nil(t, env.FailureCode)
}

func TestCollaboratorFailureIsNoRetrieval(t *testing.T) {
	boom := errors.New("index unavailable")

	tests := []struct {
		name  string
		dense fakeSearcher
		lex   fakeSearcher
		query string
	}{
		{"dense route", fakeSearcher{err: boom}, fakeSearcher{}, "what is probation"},
		{"hybrid dense", fakeSearcher{err: boom}, fakeSearcher{}, "probation rules"},
		{"hybrid lexical", fakeSearcher{hits: []retrieval.Hit{hit("a", "x", 1)}}, fakeSearcher{err: boom}, "probation rules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fakeEngine(t, tt.dense, tt.lex, nil, "full")
			env, err := e.ProcessQuery(context.Background(), Request{Query: tt.query})
			require.NoError(t, err)

			assert.NotNil(t, env.Results)
			assert.Empty(t, env.Results)
			assert.Equal(t, gate.NoRetrieval, *env.FailureCode)
			assert.Equal(t, decision.AbstainNoRetrieval, *env.AnswerOutcomeCode)
			assert.Nil(t, env.BestScore)
			assert.Equal(t, "No results retrieved", *env.GateReason)
		})
	}
}

func TestDefinitionRoute(t *testing.T) {
	dense := fakeSearcher{hits: []retrieval.Hit{
		hit("a", "Probation is the first six months of employment for new hires.", 0.8),
		hit("b", "Laptops must be returned on the last working day.", 0.3),
	}}
	e := fakeEngine(t, dense, fakeSearcher{}, nil, "full")

	env, err := e.ProcessQuery(context.Background(), Request{Query: "What is probation?"})
	require.NoError(t, err)

	assert.Equal(t, router.Definition, env.QueryType)
	assert.Equal(t, router.DefinitionDense, env.Route)
	assert.Equal(t, decision.Answered, *env.AnswerOutcomeCode)
	assert.Nil(t, env.Results[0].ScoreHybrid)
	assert.InDelta(t, 0.5, *env.ScoreMargin, 1e-9)
	assert.Equal(t, []string{"a.md"}, env.AnswerSources)
}

func TestRerankRouteUsesShortlist(t *testing.T) {
	var hits []retrieval.Hit
	scorer := fakeScorer{}
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		text := "Leave rule number " + id + " about probation."
		hits = append(hits, hit(id, text, float64(10-i)))
		scorer[text] = float64(i)
	}
	e := fakeEngine(t, fakeSearcher{hits: hits}, fakeSearcher{}, scorer, "full")

	env, err := e.ProcessQuery(context.Background(), Request{Query: "probation leave rule", TopK: 2})
	require.NoError(t, err)

	// shortlist is the best 2*topK fused hits (a..d); rerank favours later ones
	require.Len(t, env.Results, 2)
	assert.Equal(t, []string{"d", "c"}, env.ResultIDs())
	assert.Equal(t, 3.0, *env.Results[0].ScoreRerank)
}

func TestFeatureModesMaskEnvelope(t *testing.T) {
	dense := fakeSearcher{hits: []retrieval.Hit{
		hit("a", "Employees on probation may not take leave.", 0.9),
		hit("b", "Laptops must be returned on the last working day.", 0.2),
	}}
	lex := fakeSearcher{hits: []retrieval.Hit{hit("a", "Employees on probation may not take leave.", 3.0)}}

	t.Run("retrieval", func(t *testing.T) {
		env, err := fakeEngine(t, dense, lex, nil, "retrieval").ProcessQuery(context.Background(), Request{Query: "probation rules"})
		require.NoError(t, err)
		assert.NotEmpty(t, env.Results)
		assert.False(t, env.PassedConfidenceGate)
		assert.Nil(t, env.Answer)
		assert.Nil(t, env.Decision)
		assert.Nil(t, env.DecisionCard)
		assert.Nil(t, env.FailureCode)
		assert.Nil(t, env.AnswerOutcomeCode)
		assert.Nil(t, env.Thresholds)
		assert.Empty(t, env.HowToImprove)
	})

	t.Run("gated", func(t *testing.T) {
		env, err := fakeEngine(t, dense, lex, nil, "gated").ProcessQuery(context.Background(), Request{Query: "probation rules"})
		require.NoError(t, err)
		assert.True(t, env.PassedConfidenceGate)
		require.NotNil(t, env.Answer)
		assert.Contains(t, *env.Answer, "probation")
		assert.Nil(t, env.DecisionCard)
		assert.Nil(t, env.AnswerOutcomeCode)
		assert.Nil(t, env.Decision)
	})

	t.Run("ungated", func(t *testing.T) {
		env, err := fakeEngine(t, dense, lex, nil, "ungated").ProcessQuery(context.Background(), Request{Query: "probation rules"})
		require.NoError(t, err)
		assert.False(t, env.PassedConfidenceGate)
		require.NotNil(t, env.AnswerConfidence)
		assert.LessOrEqual(t, *env.AnswerConfidence, 0.6)
		require.NotNil(t, env.DecisionCard)
		assert.Equal(t, gate.ReasonDisabled.Message(), env.DecisionCard.Reason)
		assert.False(t, env.DecisionCard.PassedConfidenceGate)
	})

	t.Run("full", func(t *testing.T) {
		env, err := fakeEngine(t, dense, lex, nil, "full").ProcessQuery(context.Background(), Request{Query: "probation rules"})
		require.NoError(t, err)
		require.NotNil(t, env.DecisionCard)
		assert.Equal(t, decision.Answered, env.DecisionCard.Outcome)
		assert.Equal(t, *env.AnswerOutcomeCode, env.DecisionCard.AnswerOutcomeCode)
		assert.Equal(t, env.PassedConfidenceGate, env.DecisionCard.PassedConfidenceGate)
	})
}

func TestDecisionCardIsIdempotent(t *testing.T) {
	e := realEngine(t)
	for _, q := range []string{"probation rules", "asdjkl qweoi zxcmn", "what is notice period"} {
		first, err := e.ProcessQuery(context.Background(), Request{Query: q})
		require.NoError(t, err)
		second, err := e.ProcessQuery(context.Background(), Request{Query: q})
		require.NoError(t, err)
		assert.Equal(t, first.DecisionCard, second.DecisionCard, q)
		assert.Equal(t, first.ResultIDs(), second.ResultIDs(), q)
	}
}

func TestProcessQueryValidation(t *testing.T) {
	e := realEngine(t)
	_, err := e.ProcessQuery(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	env, err := e.ProcessQuery(context.Background(), Request{Query: "leave", TopK: 1})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(env.Results), 1)
}

func TestNewEngineValidation(t *testing.T) {
	g := testGate(t)
	_, err := NewEngine(nil, fakeSearcher{}, nil, g, Options{})
	assert.ErrorIs(t, err, ErrMissingIndex)

	_, err = NewEngine(fakeSearcher{}, fakeSearcher{}, nil, g, Options{Alpha: 1.5})
	assert.ErrorIs(t, err, fusion.ErrAlphaOutOfRange)

	e, err := NewEngine(fakeSearcher{}, fakeSearcher{}, nil, g, Options{UseReranker: true})
	require.NoError(t, err)
	assert.Equal(t, router.GeneralHybrid, e.RouteFor("probation rules"))
	assert.Equal(t, DefaultTopK, e.TopK())
	assert.Equal(t, features.DefaultMode, e.Features().Name())
}

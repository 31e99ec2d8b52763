package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/answer"
	"github.com/quotegate/backend/internal/decision"
	"github.com/quotegate/backend/internal/features"
	"github.com/quotegate/backend/internal/fusion"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/internal/rerank"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
	"github.com/quotegate/backend/pkg/logger"
)

var (
	ErrEmptyQuery   = errors.New("query must not be empty")
	ErrMissingIndex = errors.New("dense and lexical searchers are required")
)

// HowToImprove is attached to every envelope that does not carry an answer.
var HowToImprove = []string{
	"Try adding a policy name (e.g., 'Leave Policy').",
	"Add a time constraint (e.g., 'during probation').",
	"Use keywords directly from the document wording.",
}

const (
	DefaultTopK      = 5
	DefaultRetrieveK = 20
	DefaultAlpha     = 0.2
)

type Options struct {
	TopK        int
	RetrieveK   int
	Alpha       float64
	UseReranker bool
	Features    features.Config
	Limits      answer.Limits
}

type Engine struct {
	dense       retrieval.DenseSearcher
	lexical     retrieval.LexicalSearcher
	scorer      rerank.Scorer
	gate        *gate.Gate
	builder     *answer.Builder
	features    features.Config
	topK        int
	retrieveK   int
	alpha       float64
	useReranker bool
}

type Request struct {
	Query string
	TopK  int
}

// NewEngine wires the pipeline. scorer may be nil, which disables the rerank
// route regardless of opts.UseReranker.
func NewEngine(dense retrieval.DenseSearcher, lexical retrieval.LexicalSearcher, scorer rerank.Scorer, g *gate.Gate, opts Options) (*Engine, error) {
	if dense == nil || lexical == nil {
		return nil, ErrMissingIndex
	}
	if g == nil {
		return nil, errors.New("gate is required")
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("%w: %v", fusion.ErrAlphaOutOfRange, opts.Alpha)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.RetrieveK < opts.TopK {
		opts.RetrieveK = DefaultRetrieveK
		if opts.RetrieveK < opts.TopK {
			opts.RetrieveK = opts.TopK
		}
	}
	if opts.Features.Name() == "" {
		opts.Features = features.MustFromName(features.DefaultMode)
	}

	return &Engine{
		dense:       dense,
		lexical:     lexical,
		scorer:      scorer,
		gate:        g,
		builder:     answer.NewBuilder(opts.Limits),
		features:    opts.Features,
		topK:        opts.TopK,
		retrieveK:   opts.RetrieveK,
		alpha:       opts.Alpha,
		useReranker: opts.UseReranker && scorer != nil,
	}, nil
}

func (e *Engine) Gate() *gate.Gate          { return e.gate }
func (e *Engine) Features() features.Config { return e.features }
func (e *Engine) TopK() int                 { return e.topK }
func (e *Engine) Alpha() float64            { return e.alpha }

// RouteFor returns the route a query would take.
func (e *Engine) RouteFor(query string) router.Route {
	return router.RouteFor(router.Classify(query), e.useReranker)
}

// ProcessQuery runs one query through the pipeline. Retrieval or reranking
// failures are logged and treated as an empty result; the only error is an
// empty query.
func (e *Engine) ProcessQuery(ctx context.Context, req Request) (*Envelope, error) {
	start := time.Now()

	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.topK
	}

	qType := router.Classify(q)
	route := router.RouteFor(qType, e.useReranker)

	results, err := e.Retrieve(ctx, route, q, topK)
	if err != nil {
		logger.Warn("Retrieval failed, treating as empty",
			zap.String("route", route.String()),
			zap.Error(err),
		)
		results = nil
	}
	if results == nil {
		results = []retrieval.Candidate{}
	}

	var g gate.Decision
	if e.features.Gating() {
		g = e.gate.Evaluate(results, route)
		if e.features.OfftopicReclassify() {
			g = decision.ReclassifyOffTopic(route, g, q, retrieval.Texts(results))
		}
	} else {
		g = gate.Disabled(results)
	}

	var ans *answer.Result
	if g.Passed && e.features.AnswerBuilding() {
		r := e.builder.Build(q, results, e.features.TrustGate())
		ans = &r
	}

	env := e.envelope(q, qType, route, results, g, ans)

	e.record(route, g, ans, len(results), time.Since(start))
	return env, nil
}

// Retrieve runs the retrieval stage of route and returns at most topK
// candidates.
func (e *Engine) Retrieve(ctx context.Context, route router.Route, query string, topK int) ([]retrieval.Candidate, error) {
	switch route {
	case router.DefinitionDense:
		hits, err := e.dense.SearchDense(ctx, query, topK)
		if err != nil {
			e.collaboratorError("dense")
			return nil, err
		}
		return retrieval.FromDense(hits), nil

	case router.GeneralHybrid:
		return e.HybridSearch(ctx, query, topK, e.alpha)

	case router.GeneralRerank:
		shortlist, err := e.HybridSearch(ctx, query, 2*topK, e.alpha)
		if err != nil {
			return nil, err
		}
		if e.scorer == nil {
			return nil, errors.New("no reranker configured")
		}
		out, err := rerank.Rerank(ctx, e.scorer, query, shortlist, topK)
		if err != nil {
			e.collaboratorError("reranker")
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown route %q", route)
}

// HybridSearch fuses retrieve_k dense and lexical hits with alpha and keeps
// the best k.
func (e *Engine) HybridSearch(ctx context.Context, query string, k int, alpha float64) ([]retrieval.Candidate, error) {
	denseHits, err := e.dense.SearchDense(ctx, query, e.retrieveK)
	if err != nil {
		e.collaboratorError("dense")
		return nil, err
	}
	lexHits, err := e.lexical.SearchLexical(ctx, query, e.retrieveK)
	if err != nil {
		e.collaboratorError("lexical")
		return nil, err
	}

	fused, err := fusion.Fuse(retrieval.FromDense(denseHits), retrieval.FromLexical(lexHits), alpha)
	if err != nil {
		return nil, err
	}
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

func (e *Engine) collaboratorError(name string) {
	metrics.CollaboratorErrors.WithLabelValues(name).Inc()
}

func (e *Engine) envelope(q string, qType router.QueryType, route router.Route, results []retrieval.Candidate, g gate.Decision, ans *answer.Result) *Envelope {
	outcome := decision.Classify(g, ans)

	env := &Envelope{
		Query:        q,
		QueryType:    qType,
		Route:        route,
		Results:      results,
		BestScore:    g.BestScore,
		ScoreMargin:  g.ScoreMargin,
		Gate:         g,
		AnswerResult: ans,
	}

	if e.features.Gating() {
		env.PassedConfidenceGate = g.Passed
		env.FailureCode = g.FailureCode
		verdict := decision.Verdict(g)
		reason := g.Reason.Message()
		thresholds := g.Thresholds
		env.Decision = &verdict
		env.GateReason = &reason
		env.Thresholds = &thresholds
	}

	switch {
	case !g.Passed:
		msg := g.Fallback()
		env.Answer = &msg
	case ans != nil:
		env.Answer = &ans.Answer
		env.AnswerStatus = &ans.Status
		env.AnswerConfidence = &ans.Confidence
		env.AnswerSources = ans.UsedSources
		env.Quotes = ans.Quotes
	}

	env.AnswerOutcomeCode = &outcome
	if outcome != decision.Answered && (e.features.Gating() || e.features.AnswerBuilding()) {
		env.HowToImprove = HowToImprove
	}

	card := decision.NewCard(route, g, ans)
	card.PassedConfidenceGate = env.PassedConfidenceGate
	env.DecisionCard = &card

	if !e.features.FailureTaxonomy() {
		env.FailureCode = nil
		env.AnswerOutcomeCode = nil
	}
	if !e.features.DecisionCard() {
		env.DecisionCard = nil
		env.Decision = nil
		env.GateReason = nil
		env.Thresholds = nil
	}
	return env
}

func (e *Engine) record(route router.Route, g gate.Decision, ans *answer.Result, retrieved int, elapsed time.Duration) {
	outcome := decision.Classify(g, ans)

	metrics.QueryDuration.WithLabelValues(route.String()).Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues(route.String(), string(outcome)).Inc()
	metrics.RetrievedCount.WithLabelValues(route.String()).Observe(float64(retrieved))
	if g.FailureCode != nil {
		metrics.GateFailures.WithLabelValues(string(*g.FailureCode), string(g.Reason)).Inc()
	}
	if ans != nil {
		metrics.AnswerConfidence.Observe(ans.Confidence)
	}

	logger.Info("Query processed",
		zap.String("route", route.String()),
		zap.String("mode", e.features.Name()),
		zap.Bool("passed_gate", g.Passed),
		zap.String("reason", string(g.Reason)),
		zap.String("outcome", string(outcome)),
		zap.Int("retrieved", retrieved),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	)
}

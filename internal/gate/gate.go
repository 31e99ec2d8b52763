// Package gate decides whether retrieved evidence is strong enough to answer
// from. Rules run in a fixed order and the first failing rule wins:
// empty results, low absolute score, low top-two margin, then (optionally)
// missing anchor terms.
package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
)

const FallbackMessage = "I couldn't find strong enough evidence in the documents to answer confidently."

// marginTolerance lets a margin equal to the threshold pass despite float
// subtraction error.
const marginTolerance = 1e-9

var (
	ErrMissingRoute = errors.New("gate thresholds missing for route")
	ErrMarginOrder  = errors.New("rerank route min margin must exceed every non-rerank route margin")
)

type FailureCode string

const (
	NoRetrieval FailureCode = "NO_RETRIEVAL"
	LowScore    FailureCode = "LOW_SCORE"
	Ambiguous   FailureCode = "AMBIGUOUS"
)

type Reason string

const (
	ReasonNoResults       Reason = "no_results"
	ReasonLowScore        Reason = "low_score"
	ReasonLowGap          Reason = "low_gap"
	ReasonSemanticAbsence Reason = "semantic_absence"
	ReasonOffTopic        Reason = "off_topic"
	ReasonPassed          Reason = "passed"
	ReasonDisabled        Reason = "gate_disabled"
)

var reasonMessages = map[Reason]string{
	ReasonNoResults:       "No results retrieved",
	ReasonLowScore:        "Low confidence",
	ReasonLowGap:          "Ambiguous match",
	ReasonSemanticAbsence: "No anchor terms in retrieved text",
	ReasonOffTopic:        "Query is off-topic for the corpus",
	ReasonPassed:          "Passed confidence gate",
	ReasonDisabled:        "Confidence gate disabled",
}

// Message is the human-readable form of the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

type Thresholds struct {
	MinScore  float64 `json:"min_score"`
	MinMargin float64 `json:"min_margin"`
}

// Decision is the gate verdict for one result list. BestScore is set when
// the list is non-empty and the top score exists; ScoreMargin whenever two
// or more candidates were inspected.
type Decision struct {
	Passed      bool         `json:"passed"`
	Reason      Reason       `json:"reason"`
	BestScore   *float64     `json:"best_score"`
	ScoreMargin *float64     `json:"score_margin"`
	FailureCode *FailureCode `json:"failure_code"`
	Thresholds  Thresholds   `json:"thresholds"`
}

// Fallback is the user-facing message for a failed decision and empty for a
// passing one.
func (d Decision) Fallback() string {
	if d.Passed {
		return ""
	}
	return FallbackMessage
}

// Fail rewrites d into a failure with the given code and reason, keeping the
// inspected scores.
func (d Decision) Fail(code FailureCode, reason Reason) Decision {
	d.Passed = false
	d.Reason = reason
	d.FailureCode = &code
	return d
}

// Disabled is the decision recorded when gating is switched off.
func Disabled(results []retrieval.Candidate) Decision {
	d := Decision{Passed: true, Reason: ReasonDisabled}
	d.BestScore, d.ScoreMargin = topScores(results)
	return d
}

type Gate struct {
	thresholds  map[router.Route]Thresholds
	anchorTerms []string
}

// New checks that every route has thresholds and that the rerank route
// demands a strictly larger margin than the others.
func New(thresholds map[router.Route]Thresholds, anchorTerms []string) (*Gate, error) {
	for _, r := range []router.Route{router.DefinitionDense, router.GeneralHybrid, router.GeneralRerank} {
		if _, ok := thresholds[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRoute, r)
		}
	}

	rerank := thresholds[router.GeneralRerank].MinMargin
	for r, t := range thresholds {
		if !r.IsRerank() && rerank <= t.MinMargin {
			return nil, fmt.Errorf("%w: %s=%v, %s=%v", ErrMarginOrder, router.GeneralRerank, rerank, r, t.MinMargin)
		}
	}

	copied := make(map[router.Route]Thresholds, len(thresholds))
	for r, t := range thresholds {
		copied[r] = t
	}
	anchors := make([]string, 0, len(anchorTerms))
	for _, a := range anchorTerms {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			anchors = append(anchors, a)
		}
	}

	return &Gate{thresholds: copied, anchorTerms: anchors}, nil
}

func (g *Gate) Thresholds(route router.Route) Thresholds {
	return g.thresholds[route]
}

// Evaluate applies the score rules. It never reads candidate text.
func (g *Gate) Evaluate(results []retrieval.Candidate, route router.Route) Decision {
	d := Decision{Thresholds: g.thresholds[route]}

	if len(results) == 0 {
		return d.Fail(NoRetrieval, ReasonNoResults)
	}

	d.BestScore, d.ScoreMargin = topScores(results)

	if d.BestScore == nil || (!route.IsRerank() && *d.BestScore < d.Thresholds.MinScore) {
		return d.Fail(LowScore, ReasonLowScore)
	}

	if len(results) >= 2 {
		if d.ScoreMargin == nil || *d.ScoreMargin < d.Thresholds.MinMargin-marginTolerance {
			return d.Fail(Ambiguous, ReasonLowGap)
		}
	}

	d.Passed = true
	d.Reason = ReasonPassed
	return d
}

// EvaluateWithAnchors is Evaluate followed, when requireAnchor is set, by a
// check that at least one anchor term occurs in some candidate text. It is
// used by evaluation runs over unanswerable queries.
func (g *Gate) EvaluateWithAnchors(results []retrieval.Candidate, route router.Route, requireAnchor bool) Decision {
	d := g.Evaluate(results, route)
	if !d.Passed || !requireAnchor {
		return d
	}
	if !g.HasAnchor(results) {
		return d.Fail(LowScore, ReasonSemanticAbsence)
	}
	return d
}

func (g *Gate) HasAnchor(results []retrieval.Candidate) bool {
	for _, c := range results {
		text := strings.ToLower(c.Text)
		for _, a := range g.anchorTerms {
			if strings.Contains(text, a) {
				return true
			}
		}
	}
	return false
}

func topScores(results []retrieval.Candidate) (best, margin *float64) {
	if len(results) == 0 {
		return nil, nil
	}
	s0, ok0 := results[0].EffectiveScore()
	if ok0 {
		best = &s0
	}
	if len(results) >= 2 {
		if s1, ok1 := results[1].EffectiveScore(); ok0 && ok1 {
			m := s0 - s1
			margin = &m
		}
	}
	return best, margin
}

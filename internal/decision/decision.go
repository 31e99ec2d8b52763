// Package decision maps a gate verdict and an answer result onto a terminal
// outcome code and the decision card returned to callers.
package decision

import (
	"regexp"
	"strings"

	"github.com/quotegate/backend/internal/answer"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/router"
)

type Outcome string

const (
	Answered           Outcome = "ANSWERED"
	AbstainLowConf     Outcome = "ABSTAIN_LOW_CONF"
	AbstainNoRetrieval Outcome = "ABSTAIN_NO_RETRIEVAL"
	AbstainAmbiguous   Outcome = "ABSTAIN_AMBIGUOUS"
	AnswerBuilderEmpty Outcome = "ANSWER_BUILDER_EMPTY"
)

// IsAbstain reports whether the outcome declines to answer.
func (o Outcome) IsAbstain() bool {
	return strings.HasPrefix(string(o), "ABSTAIN")
}

// Classify is total: every gate/answer pair has exactly one outcome. A nil
// answer after a passing gate means the builder did not run.
func Classify(g gate.Decision, a *answer.Result) Outcome {
	if !g.Passed {
		code := gate.LowScore
		if g.FailureCode != nil {
			code = *g.FailureCode
		}
		switch code {
		case gate.NoRetrieval:
			return AbstainNoRetrieval
		case gate.Ambiguous:
			return AbstainAmbiguous
		default:
			return AbstainLowConf
		}
	}
	if a != nil && a.Status == answer.StatusOK && strings.TrimSpace(a.Answer) != "" {
		return Answered
	}
	return AnswerBuilderEmpty
}

// Verdict is the coarse PASS/FAIL label of a gate decision.
func Verdict(g gate.Decision) string {
	if g.Passed {
		return "PASS"
	}
	return "FAIL"
}

type Card struct {
	Outcome              Outcome           `json:"outcome"`
	RouteUsed            router.Route      `json:"route_used"`
	Reason               string            `json:"reason"`
	FailureCode          *gate.FailureCode `json:"failure_code"`
	AnswerOutcomeCode    Outcome           `json:"answer_outcome_code"`
	PassedConfidenceGate bool              `json:"passed_confidence_gate"`
	BestScore            *float64          `json:"best_score"`
	ScoreMargin          *float64          `json:"score_margin"`
}

// NewCard builds the card from its inputs only, so equal inputs give equal
// cards.
func NewCard(route router.Route, g gate.Decision, a *answer.Result) Card {
	outcome := Classify(g, a)
	return Card{
		Outcome:              outcome,
		RouteUsed:            route,
		Reason:               g.Reason.Message(),
		FailureCode:          g.FailureCode,
		AnswerOutcomeCode:    outcome,
		PassedConfidenceGate: g.Passed,
		BestScore:            g.BestScore,
		ScoreMargin:          g.ScoreMargin,
	}
}

const (
	offTopicMaxOverlap     = 0.15
	offTopicMinQueryTokens = 3
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokens(s string) []string {
	var out []string
	for _, t := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		if len(t) >= 3 {
			out = append(out, t)
		}
	}
	return out
}

// QueryOverlap is the share of distinct query tokens found in texts, and the
// number of distinct query tokens.
func QueryOverlap(query string, texts []string) (float64, int) {
	q := make(map[string]struct{})
	for _, t := range tokens(query) {
		q[t] = struct{}{}
	}
	if len(q) == 0 {
		return 0, 0
	}

	doc := make(map[string]struct{})
	for _, text := range texts {
		for _, t := range tokens(text) {
			doc[t] = struct{}{}
		}
	}

	hits := 0
	for t := range q {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(q)), len(q)
}

// ReclassifyOffTopic turns an ambiguous failure on a rerank route into a low
// score failure when the query barely overlaps the retrieved text. A reranker
// scores nonsense queries close together, so they would otherwise surface
// as ambiguous.
func ReclassifyOffTopic(route router.Route, g gate.Decision, query string, texts []string) gate.Decision {
	if g.Passed || !route.IsRerank() || g.FailureCode == nil || *g.FailureCode != gate.Ambiguous {
		return g
	}
	overlap, n := QueryOverlap(query, texts)
	if n < offTopicMinQueryTokens || overlap > offTopicMaxOverlap {
		return g
	}
	return g.Fail(gate.LowScore, gate.ReasonOffTopic)
}

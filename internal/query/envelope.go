package query

import (
	"github.com/quotegate/backend/internal/answer"
	"github.com/quotegate/backend/internal/decision"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
)

// Envelope is the single response shape of the pipeline. Pointer and slice
// fields are nil when they do not apply to the outcome or are masked by the
// feature mode.
type Envelope struct {
	Query                string                `json:"query"`
	QueryType            router.QueryType      `json:"query_type"`
	Route                router.Route          `json:"route"`
	PassedConfidenceGate bool                  `json:"passed_confidence_gate"`
	BestScore            *float64              `json:"best_score"`
	Results              []retrieval.Candidate `json:"results"`
	Answer               *string               `json:"answer"`
	FailureCode          *gate.FailureCode     `json:"failure_code"`
	Decision             *string               `json:"decision"`
	GateReason           *string               `json:"gate_reason"`
	Thresholds           *gate.Thresholds      `json:"thresholds"`
	ScoreMargin          *float64              `json:"score_margin"`
	DecisionCard         *decision.Card        `json:"decision_card"`
	AnswerOutcomeCode    *decision.Outcome     `json:"answer_outcome_code"`
	AnswerStatus         *answer.Status        `json:"answer_status"`
	AnswerConfidence     *float64              `json:"answer_confidence"`
	AnswerSources        []string              `json:"answer_sources"`
	Quotes               []answer.Quote        `json:"quotes,omitempty"`
	HowToImprove         []string              `json:"how_to_improve,omitempty"`

	// Unmasked pipeline state for evaluation.
	Gate         gate.Decision  `json:"-"`
	AnswerResult *answer.Result `json:"-"`
}

// Outcome is the terminal outcome of the envelope regardless of masking.
func (e *Envelope) Outcome() decision.Outcome {
	return decision.Classify(e.Gate, e.AnswerResult)
}

// ResultIDs returns the ids of the retrieved candidates in rank order.
func (e *Envelope) ResultIDs() []string {
	ids := make([]string, len(e.Results))
	for i, c := range e.Results {
		ids[i] = c.ID
	}
	return ids
}

// Answered reports whether the caller received an extracted answer.
func (e *Envelope) Answered() bool {
	return e.Outcome() == decision.Answered
}

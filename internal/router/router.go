// Package router classifies queries and picks the retrieval route.
package router

import "strings"

type QueryType string

const (
	Definition QueryType = "definition"
	Policy     QueryType = "policy"
	General    QueryType = "general"
)

// Route names the retrieval path a query takes. Gate thresholds are keyed
// by route.
type Route string

const (
	DefinitionDense Route = "definition:dense"
	GeneralHybrid   Route = "general:hybrid"
	GeneralRerank   Route = "general:hybrid_then_rerank"
)

var (
	definitionCues = []string{"what is", "define", "meaning of"}
	policyCues     = []string{"policy", "rule", "leave", "probation", "attendance", "salary"}
)

// Classify matches the lowercased, trimmed query against the definition cues
// and then the policy cues.
func Classify(query string) QueryType {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, cue := range definitionCues {
		if strings.Contains(q, cue) {
			return Definition
		}
	}
	for _, cue := range policyCues {
		if strings.Contains(q, cue) {
			return Policy
		}
	}
	return General
}

// RouteFor maps a query type to its route. rerank is true only when reranking
// is enabled and a reranker is wired.
func RouteFor(t QueryType, rerank bool) Route {
	if t == Definition {
		return DefinitionDense
	}
	if rerank {
		return GeneralRerank
	}
	return GeneralHybrid
}

func (r Route) IsRerank() bool { return r == GeneralRerank }

func (r Route) String() string { return string(r) }

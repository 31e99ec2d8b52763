// Package answer builds short extractive answers from ranked candidates.
// Every quote is a line taken verbatim (whitespace-collapsed) from a
// candidate; no text is generated.
package answer

import (
	"math"
	"sort"

	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/retrieval"
)

const (
	WeakEvidenceMessage = "I found documents, but none contain a clear line that matches your question."
	unknownSource       = "unknown source"
	maxSources          = 2
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusWeakEvidence  Status = "weak_evidence"
	StatusNoEvidence    Status = "no_evidence"
	StatusLowConfidence Status = "low_confidence"
)

type Quote struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type Debug struct {
	ScannedChunks int      `json:"scanned_chunks"`
	PickedQuotes  int      `json:"picked_quotes"`
	TopQuoteScore float64  `json:"top_quote_score,omitempty"`
	QueryTerms    []string `json:"query_terms,omitempty"`
	FallbackMode  string   `json:"fallback_mode,omitempty"`
}

type Result struct {
	Answer      string   `json:"answer"`
	Confidence  float64  `json:"confidence"`
	UsedSources []string `json:"used_sources"`
	Quotes      []Quote  `json:"quotes"`
	Status      Status   `json:"status"`
	Debug       Debug    `json:"debug"`
}

type Limits struct {
	MaxChunks         int
	MaxCandidateLines int
	MaxQuotes         int
	MaxLineLen        int
}

func DefaultLimits() Limits {
	return Limits{MaxChunks: 4, MaxCandidateLines: 40, MaxQuotes: 4, MaxLineLen: 200}
}

type Builder struct {
	limits Limits
}

// NewBuilder returns a builder; zero limits take their defaults.
func NewBuilder(limits Limits) *Builder {
	d := DefaultLimits()
	if limits.MaxChunks <= 0 {
		limits.MaxChunks = d.MaxChunks
	}
	if limits.MaxCandidateLines <= 0 {
		limits.MaxCandidateLines = d.MaxCandidateLines
	}
	if limits.MaxQuotes <= 0 {
		limits.MaxQuotes = d.MaxQuotes
	}
	if limits.MaxLineLen <= len(ellipsis) {
		limits.MaxLineLen = d.MaxLineLen
	}
	return &Builder{limits: limits}
}

type chunk struct {
	text   string
	source string
}

type scoredLine struct {
	score  float64
	text   string
	source string
}

// Build extracts quotes for query from candidates. With trustGate false the
// caller has not gated the candidates, so a non-positive or missing top score
// is refused and confidence is capped at 0.6.
func (b *Builder) Build(query string, candidates []retrieval.Candidate, trustGate bool) Result {
	if len(candidates) == 0 {
		return fallback(StatusNoEvidence)
	}

	ranked := rankByScore(candidates)

	if !trustGate {
		top, ok := ranked[0].EffectiveScore()
		if !ok || top <= 0 {
			return fallback(StatusLowConfidence)
		}
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return b.bullets(ranked)
	}

	chunks := b.topChunks(ranked)

	var lines []scoredLine
	scanned := 0
scan:
	for _, c := range chunks {
		scanned++
		for _, ln := range toLines(c.text) {
			ln = compressLine(ln, b.limits.MaxLineLen)
			if ln == "" {
				continue
			}
			s := lineScore(ln, terms)
			if s <= 0 {
				continue
			}
			lines = append(lines, scoredLine{score: s, text: ln, source: c.source})
			if len(lines) >= b.limits.MaxCandidateLines {
				break scan
			}
		}
	}

	if len(lines) == 0 {
		conf := 0.1
		if trustGate {
			conf = 0.2
		}
		return Result{
			Answer:      WeakEvidenceMessage,
			Confidence:  conf,
			UsedSources: []string{},
			Quotes:      []Quote{},
			Status:      StatusWeakEvidence,
			Debug:       Debug{ScannedChunks: scanned},
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].score > lines[j].score })

	var picked []scoredLine
	sources := []string{}
	seen := make(map[string]struct{})
	for _, ln := range lines {
		key := normKey(ln.text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		isNew := !contains(sources, ln.source)
		if isNew && len(sources) >= maxSources {
			continue
		}

		seen[key] = struct{}{}
		ln.score = round(ln.score, 4)
		picked = append(picked, ln)
		if isNew {
			sources = append(sources, ln.source)
		}
		if len(picked) >= b.limits.MaxQuotes {
			break
		}
	}

	if len(picked) == 0 {
		return fallback(StatusWeakEvidence)
	}

	texts := make([]string, len(picked))
	quotes := make([]Quote, len(picked))
	for i, p := range picked {
		texts[i] = p.text
		quotes[i] = Quote{Source: p.source, Text: p.text}
	}

	top := picked[0].score
	conf := math.Min(1.0, 0.4+top)
	if !trustGate {
		conf = math.Min(conf, 0.6)
	}

	return Result{
		Answer:      shortAnswer(texts),
		Confidence:  round(conf, 3),
		UsedSources: sources,
		Quotes:      quotes,
		Status:      StatusOK,
		Debug: Debug{
			ScannedChunks: scanned,
			PickedQuotes:  len(picked),
			TopQuoteScore: top,
			QueryTerms:    firstN(terms, 12),
		},
	}
}

// bullets is used when the query has no content words: the leading lines of
// the best chunks are quoted as-is.
func (b *Builder) bullets(ranked []retrieval.Candidate) Result {
	var quotes []Quote
	sources := []string{}
	for _, c := range b.topChunks(ranked) {
		lines := toLines(c.text)
		if len(lines) > maxFallbackLines {
			lines = lines[:maxFallbackLines]
		}
		for _, ln := range lines {
			ln = compressLine(ln, b.limits.MaxLineLen)
			if ln == "" {
				continue
			}
			if !contains(sources, c.source) {
				if len(sources) >= maxSources {
					break
				}
				sources = append(sources, c.source)
			}
			quotes = append(quotes, Quote{Source: c.source, Text: ln})
		}
	}

	if len(quotes) == 0 {
		return fallback(StatusWeakEvidence)
	}

	texts := make([]string, 0, 2)
	for _, q := range firstQuotes(quotes, 2) {
		texts = append(texts, q.Text)
	}
	quotes = firstQuotes(quotes, b.limits.MaxQuotes)

	return Result{
		Answer:      shortAnswer(texts),
		Confidence:  0.4,
		UsedSources: sources,
		Quotes:      quotes,
		Status:      StatusOK,
		Debug:       Debug{PickedQuotes: len(quotes), FallbackMode: "bullets"},
	}
}

// topChunks takes the best MaxChunks candidates and drops those whose text
// is empty or duplicates an earlier one.
func (b *Builder) topChunks(ranked []retrieval.Candidate) []chunk {
	n := b.limits.MaxChunks
	if n > len(ranked) {
		n = len(ranked)
	}
	seen := make(map[string]struct{})
	out := make([]chunk, 0, n)
	for _, c := range ranked[:n] {
		src := c.Source
		if src == "" {
			src = unknownSource
		}
		key := normKey(c.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, chunk{text: c.Text, source: src})
	}
	return out
}

func rankByScore(cands []retrieval.Candidate) []retrieval.Candidate {
	out := make([]retrieval.Candidate, len(cands))
	copy(out, cands)
	score := func(c retrieval.Candidate) float64 {
		s, ok := c.EffectiveScore()
		if !ok {
			return 0
		}
		return s
	}
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	return out
}

func fallback(status Status) Result {
	return Result{
		Answer:      gate.FallbackMessage,
		Confidence:  0,
		UsedSources: []string{},
		Quotes:      []Quote{},
		Status:      status,
	}
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func firstN(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func firstQuotes(qs []Quote, n int) []Quote {
	if len(qs) > n {
		return qs[:n]
	}
	return qs
}

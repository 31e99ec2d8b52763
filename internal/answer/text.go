package answer

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	maxListLines     = 12
	maxSentences     = 8
	maxFallbackLines = 6
	ellipsis         = "..."
)

var (
	bulletPrefix  = regexp.MustCompile(`^(\d+[\).]|•|-)\s*`)
	nonAlnumSpace = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the a an and or to of in on for with is are
		was were be been being by as at from that this it
		its they them you your we our i me my can may
		must should will would about tell explain what define meaning`) {
		stopwords[w] = struct{}{}
	}
}

var policyAnchors = []string{"probation", "eligibility", "exception", "leave", "attendance", "salary", "notice"}

// normalize lowercases s and reduces it to ASCII letters, digits and single
// spaces.
func normalize(s string) string {
	s = nonAlnumSpace.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// queryTerms returns the distinct content words of a query in first-seen
// order.
func queryTerms(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range strings.Fields(normalize(query)) {
		if len(t) < 3 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// lineScore is the share of query terms present in line, nudged up for
// digits and policy keywords and down for very short lines. Never negative.
func lineScore(line string, terms []string) float64 {
	if line == "" || len(terms) == 0 {
		return 0
	}

	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(normalize(line)) {
		tokens[t] = struct{}{}
	}

	overlap := 0
	for _, t := range terms {
		if _, ok := tokens[t]; ok {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(terms))

	if strings.IndexFunc(line, unicode.IsDigit) >= 0 {
		score += 0.05
	}
	for _, w := range policyAnchors {
		if _, ok := tokens[w]; ok {
			score += 0.05
			break
		}
	}
	if len(tokens) < 6 {
		score -= 0.05
	}

	if score < 0 {
		return 0
	}
	return score
}

// toLines splits a chunk into candidate lines. Chunks that look like lists
// (two numbered lines, or three lines of any kind) yield one entry per line;
// prose is split into sentences.
func toLines(text string) []string {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}

	var lines []string
	for _, ln := range splitLines(t) {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		lines = append(lines, strings.Trim(ln, " -•\t"))
	}

	bullets := 0
	for _, ln := range lines {
		if bulletPrefix.MatchString(ln) {
			bullets++
		}
	}

	if bullets >= 2 || len(lines) >= 3 {
		var out []string
		for _, ln := range lines {
			if ln = strings.TrimSpace(bulletPrefix.ReplaceAllString(ln, "")); ln != "" {
				out = append(out, ln)
			}
		}
		if len(out) > maxListLines {
			out = out[:maxListLines]
		}
		return out
	}

	sents := splitSentences(t)
	if len(sents) > maxSentences {
		sents = sents[:maxSentences]
	}
	return sents
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// splitSentences breaks after '.', '!' or '?' when whitespace follows.
func splitSentences(t string) []string {
	var out []string
	runes := []rune(t)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || i == 0 || !isTerminal(runes[i-1]) {
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if s := strings.TrimSpace(string(runes[start:i])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// compressLine collapses whitespace and cuts lines longer than maxLen runes.
func compressLine(line string, maxLen int) string {
	x := strings.Join(strings.Fields(line), " ")
	if x == "" {
		return ""
	}
	if r := []rune(x); len(r) > maxLen {
		cut := maxLen - len(ellipsis)
		if cut < 0 {
			cut = 0
		}
		x = strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + ellipsis
	}
	return x
}

// normKey is the dedupe key for chunks and quotes: lowercase, single spaces,
// no punctuation.
func normKey(text string) string {
	t := strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(text), " "))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' || unicode.IsMark(r) {
			return r
		}
		return -1
	}, t)
}

// shortAnswer joins the first three lines, each ending in terminal
// punctuation.
func shortAnswer(lines []string) string {
	if len(lines) > 3 {
		lines = lines[:3]
	}
	kept := make([]string, 0, len(lines))
	for _, ln := range lines {
		x := strings.TrimSpace(ln)
		if x == "" {
			continue
		}
		if !strings.ContainsAny(x[len(x)-1:], ".!?") {
			x += "."
		}
		kept = append(kept, x)
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

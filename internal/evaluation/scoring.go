package evaluation

// HitAtK is 1 when any expected id is among the first k retrieved.
func HitAtK(retrieved, expected []string, k int) int {
	top := topK(retrieved, k)
	for _, e := range expected {
		if _, ok := top[e]; ok {
			return 1
		}
	}
	return 0
}

// RecallAtK is the share of expected ids among the first k retrieved.
func RecallAtK(retrieved, expected []string, k int) float64 {
	if len(expected) == 0 {
		return 0
	}
	top := topK(retrieved, k)
	hits := 0
	for _, e := range expected {
		if _, ok := top[e]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

// MeanRank averages the 1-based ranks of the expected ids that were
// retrieved. ok is false when none was.
func MeanRank(retrieved, expected []string) (rank float64, ok bool) {
	pos := positions(retrieved)
	var sum, n int
	for _, e := range expected {
		if p, found := pos[e]; found {
			sum += p + 1
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// ReciprocalRank is 1/rank of the first retrieved id that is expected, or 0.
func ReciprocalRank(retrieved, expected []string) float64 {
	want := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		want[e] = struct{}{}
	}
	for i, id := range retrieved {
		if _, ok := want[id]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

func topK(ids []string, k int) map[string]struct{} {
	if k < len(ids) {
		ids = ids[:k]
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// positions maps each id to its first index.
func positions(ids []string) map[string]int {
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, seen := out[id]; !seen {
			out[id] = i
		}
	}
	return out
}

package evaluation

import (
	"strings"

	"github.com/quotegate/backend/internal/gate"
)

type Bucket string

const (
	RetrievalMiss          Bucket = "RETRIEVAL_MISS"
	GateLowGap             Bucket = "GATE_LOW_GAP"
	GateLowScore           Bucket = "GATE_LOW_SCORE"
	SemanticAbsence        Bucket = "SEMANTIC_ABSENCE"
	UnanswerableFalsePass  Bucket = "UNANSWERABLE_FALSE_PASS"
	AnswerableFalseAbstain Bucket = "ANSWERABLE_FALSE_ABSTAIN"
	BucketOK               Bucket = "OK"
)

// AllBuckets lists gate-level buckets in report order.
var AllBuckets = []Bucket{
	RetrievalMiss,
	GateLowGap,
	GateLowScore,
	SemanticAbsence,
	UnanswerableFalsePass,
	AnswerableFalseAbstain,
	BucketOK,
}

// AssignBucket explains one gate decision against its labels. hit is nil for
// unanswerable records, which are not scored for retrieval. A retrieval miss
// outranks every gate explanation.
func AssignBucket(rec Record, d gate.Decision, hit *int) Bucket {
	if rec.Unanswerable() {
		if d.Passed {
			return UnanswerableFalsePass
		}
		if strings.Contains(string(d.Reason), "absence") {
			return SemanticAbsence
		}
		return GateLowScore
	}

	if hit != nil && *hit == 0 {
		return RetrievalMiss
	}
	if rec.ExpectedOutcome == "ANSWERED" && !d.Passed {
		return AnswerableFalseAbstain
	}
	if !d.Passed {
		if d.Reason == gate.ReasonLowGap {
			return GateLowGap
		}
		return GateLowScore
	}
	return BucketOK
}

type BehaviorBucket string

const (
	BehaviorOK              BehaviorBucket = "OK"
	BehaviorSemanticAbsence BehaviorBucket = "SEMANTIC_ABSENCE"
	BehaviorContentMixing   BehaviorBucket = "CONTENT_MIXING"
	BehaviorFalseAbstain    BehaviorBucket = "FALSE_ABSTAIN"
	BehaviorUnknown         BehaviorBucket = "UNKNOWN"
)

// AssignBehaviorBucket classifies an end-to-end row. expected and predicted
// are "ANSWER" or "ABSTAIN"; rowOK means the decision matched and, for
// answers, the retrieved text held a gold needle.
func AssignBehaviorBucket(expected, predicted string, rowOK bool) BehaviorBucket {
	switch {
	case rowOK:
		return BehaviorOK
	case expected == "ABSTAIN" && predicted == "ANSWER":
		return BehaviorSemanticAbsence
	case expected == "ANSWER" && predicted == "ANSWER":
		return BehaviorContentMixing
	case expected == "ANSWER" && predicted == "ABSTAIN":
		return BehaviorFalseAbstain
	}
	return BehaviorUnknown
}

// ContainsAny reports whether any needle occurs in any text, ignoring case.
// No needles means there is nothing to check.
func ContainsAny(texts, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	joined := strings.ToLower(strings.Join(texts, "\n"))
	for _, n := range needles {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && strings.Contains(joined, n) {
			return true
		}
	}
	return false
}

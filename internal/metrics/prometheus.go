package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotegate_query_duration_seconds",
			Help:    "Pipeline duration per query in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_query_total",
			Help: "Queries processed by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	GateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_gate_failures_total",
			Help: "Confidence gate failures by failure code and reason",
		},
		[]string{"failure_code", "reason"},
	)

	CollaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_collaborator_errors_total",
			Help: "Failed calls to the embedding, lexical, vector or rerank collaborators",
		},
		[]string{"collaborator"},
	)

	AnswerConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotegate_answer_confidence",
			Help:    "Answer builder confidence for built answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RetrievedCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotegate_retrieved_candidates",
			Help:    "Candidates handed to the gate per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"route"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ChunksIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotegate_chunks_indexed",
			Help: "Chunks loaded into the lexical and vector indexes",
		},
	)

	EvaluationBuckets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotegate_evaluation_bucket_total",
			Help: "Evaluation rows by failure bucket",
		},
		[]string{"bucket"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			GateFailures,
			CollaboratorErrors,
			AnswerConfidence,
			RetrievedCount,
			CacheHits,
			CacheMisses,
			ChunksIndexed,
			EvaluationBuckets,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/decision"
	"github.com/quotegate/backend/internal/gate"
	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/router"
	"github.com/quotegate/backend/internal/storage/models"
	"github.com/quotegate/backend/pkg/logger"
)

// RunStore persists finished runs. *sqlite.Client satisfies it.
type RunStore interface {
	InsertEvalRun(run *models.EvalRun, rows []models.EvalRow) error
}

type Runner struct {
	engine *query.Engine
	store  RunStore
	k      int
}

// NewRunner evaluates through engine at cutoff k. store may be nil.
func NewRunner(engine *query.Engine, store RunStore, k int) *Runner {
	if k <= 0 {
		k = engine.TopK()
	}
	return &Runner{engine: engine, store: store, k: k}
}

type Row struct {
	ID              string           `json:"id"`
	Query           string           `json:"query"`
	Type            string           `json:"type"`
	ExpectedIDs     []string         `json:"expected_ids"`
	ExpectedOutcome string           `json:"expected_outcome,omitempty"`
	Route           router.Route     `json:"route"`
	RetrievedIDs    []string         `json:"retrieved_ids_topk"`
	HitAtK          *int             `json:"hit_at_k"`
	RecallAtK       *float64         `json:"recall_at_k"`
	MeanRank        *float64         `json:"mean_rank"`
	GatePassed      bool             `json:"gate_pass"`
	GateReason      gate.Reason      `json:"gate_reason"`
	Score1          *float64         `json:"score1"`
	Gap             *float64         `json:"gap"`
	Outcome         decision.Outcome `json:"outcome"`
	Bucket          Bucket           `json:"bucket"`
	Expected        string           `json:"expected,omitempty"`
	Predicted       string           `json:"predicted"`
	RowOK           bool             `json:"row_ok"`
	Behavior        BehaviorBucket   `json:"behavior_bucket"`
	AnswerSnippet   string           `json:"answer_snippet,omitempty"`
}

// Knobs records the settings a run was scored under. Thresholds holds the
// gate thresholds of every route the rows actually took.
type Knobs struct {
	Mode       string                           `json:"mode"`
	K          int                              `json:"k"`
	Alpha      float64                          `json:"alpha"`
	Thresholds map[router.Route]gate.Thresholds `json:"thresholds"`
}

type Summary struct {
	Total            int                    `json:"total"`
	ShouldPass       int                    `json:"should_pass"`
	ShouldFail       int                    `json:"should_fail"`
	FalseAbstain     int                    `json:"false_abstain"`
	FalsePass        int                    `json:"false_pass"`
	FalseAbstainRate float64                `json:"false_abstain_rate"`
	FalsePassRate    float64                `json:"false_pass_rate"`
	DecisionAccuracy float64                `json:"decision_accuracy"`
	OverallAccuracy  float64                `json:"overall_accuracy"`
	HitAtK           float64                `json:"hit_at_k"`
	RecallAtK        float64                `json:"recall_at_k"`
	MeanRank         *float64               `json:"mean_rank"`
	MRR              float64                `json:"mrr"`
	ReasonCounts     map[gate.Reason]int    `json:"reason_counts"`
	BucketCounts     map[Bucket]int         `json:"bucket_counts"`
	BehaviorCounts   map[BehaviorBucket]int `json:"behavior_counts"`
	Knobs            Knobs                  `json:"knobs"`
}

type Report struct {
	RunID     string    `json:"run_id"`
	Dataset   string    `json:"dataset"`
	CreatedAt time.Time `json:"created_at"`
	Summary   Summary   `json:"summary"`
	Rows      []Row     `json:"rows"`
}

// Run evaluates every record, re-gating with anchor terms required for
// unanswerable records, and persists the run when a store is set.
func (r *Runner) Run(ctx context.Context, dataset string, records []Record) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(records)))

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(records)))

		env, err := r.engine.ProcessQuery(ctx, query.Request{Query: rec.Query, TopK: r.k})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", rec.ID, err)
		}
		rows = append(rows, r.row(rec, env))
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Dataset:   dataset,
		CreatedAt: time.Now(),
		Rows:      rows,
		Summary:   r.summarize(rows),
	}

	for _, row := range rows {
		metrics.EvaluationBuckets.WithLabelValues(string(row.Bucket)).Inc()
	}

	if r.store != nil {
		if err := r.persist(report); err != nil {
			return nil, err
		}
	}

	logger.Info("Dataset evaluation completed",
		zap.String("run_id", report.RunID),
		zap.Int("total", report.Summary.Total),
		zap.Int("false_abstain", report.Summary.FalseAbstain),
		zap.Int("false_pass", report.Summary.FalsePass),
	)
	return report, nil
}

// Regate applies the evaluation gate: the score rules plus anchor terms for
// unanswerable records, then off-topic reclassification when enabled.
func (r *Runner) Regate(rec Record, route router.Route, results []retrieval.Candidate) gate.Decision {
	d := r.engine.Gate().EvaluateWithAnchors(results, route, rec.Unanswerable())
	if r.engine.Features().OfftopicReclassify() {
		d = decision.ReclassifyOffTopic(route, d, rec.Query, retrieval.Texts(results))
	}
	return d
}

func (r *Runner) row(rec Record, env *query.Envelope) Row {
	retrieved := env.ResultIDs()
	if len(retrieved) > r.k {
		retrieved = retrieved[:r.k]
	}
	d := r.Regate(rec, env.Route, env.Results)

	row := Row{
		ID:              rec.ID,
		Query:           rec.Query,
		Type:            rec.Type,
		ExpectedIDs:     rec.ExpectedIDs,
		ExpectedOutcome: rec.ExpectedOutcome,
		Route:           env.Route,
		RetrievedIDs:    retrieved,
		GatePassed:      d.Passed,
		GateReason:      d.Reason,
		Score1:          d.BestScore,
		Gap:             d.ScoreMargin,
		Outcome:         env.Outcome(),
		Expected:        rec.ExpectedDecision(),
	}

	if !rec.Unanswerable() {
		hit := HitAtK(retrieved, rec.ExpectedIDs, r.k)
		recall := RecallAtK(retrieved, rec.ExpectedIDs, r.k)
		row.HitAtK = &hit
		row.RecallAtK = &recall
		if rank, ok := MeanRank(env.ResultIDs(), rec.ExpectedIDs); ok {
			row.MeanRank = &rank
		}
	}
	row.Bucket = AssignBucket(rec, d, row.HitAtK)

	row.Predicted = "ABSTAIN"
	if env.Gate.Passed {
		row.Predicted = "ANSWER"
	}
	decisionOK := row.Expected == row.Predicted
	contentOK := true
	if row.Expected == "ANSWER" {
		contentOK = ContainsAny(retrieval.Texts(env.Results), rec.GoldContains)
	}
	row.RowOK = decisionOK && contentOK
	row.Behavior = AssignBehaviorBucket(row.Expected, row.Predicted, row.RowOK)

	if env.Answer != nil {
		row.AnswerSnippet = truncate(*env.Answer, 160)
	} else if len(env.Results) > 0 {
		row.AnswerSnippet = truncate(strings.TrimSpace(env.Results[0].Text), 160)
	}
	return row
}

func (r *Runner) summarize(rows []Row) Summary {
	s := Summary{
		ReasonCounts:   make(map[gate.Reason]int),
		BucketCounts:   make(map[Bucket]int),
		BehaviorCounts: make(map[BehaviorBucket]int),
		Knobs: Knobs{
			Mode:       r.engine.Features().Name(),
			K:          r.k,
			Alpha:      r.engine.Alpha(),
			Thresholds: make(map[router.Route]gate.Thresholds),
		},
	}

	var scored, decisionOK, rowOK, ranked int
	var hitSum, recallSum, rankSum, rrSum float64
	for _, row := range rows {
		s.Total++
		s.Knobs.Thresholds[row.Route] = r.engine.Gate().Thresholds(row.Route)
		s.ReasonCounts[row.GateReason]++
		s.BucketCounts[row.Bucket]++
		s.BehaviorCounts[row.Behavior]++

		switch {
		case row.ExpectedOutcome == "ANSWERED":
			s.ShouldPass++
			if !row.GatePassed {
				s.FalseAbstain++
			}
		case strings.HasPrefix(row.ExpectedOutcome, "ABSTAIN"):
			s.ShouldFail++
			if row.GatePassed {
				s.FalsePass++
			}
		}

		if row.Expected == row.Predicted {
			decisionOK++
		}
		if row.RowOK {
			rowOK++
		}

		if row.HitAtK != nil {
			scored++
			hitSum += float64(*row.HitAtK)
			recallSum += *row.RecallAtK
			rrSum += ReciprocalRank(row.RetrievedIDs, row.ExpectedIDs)
		}
		if row.MeanRank != nil {
			ranked++
			rankSum += *row.MeanRank
		}
	}

	s.FalseAbstainRate = round(float64(s.FalseAbstain)/float64(max(1, s.ShouldPass)), 4)
	s.FalsePassRate = round(float64(s.FalsePass)/float64(max(1, s.ShouldFail)), 4)
	if s.Total > 0 {
		s.DecisionAccuracy = round(float64(decisionOK)/float64(s.Total), 4)
		s.OverallAccuracy = round(float64(rowOK)/float64(s.Total), 4)
	}
	if scored > 0 {
		s.HitAtK = round(hitSum/float64(scored), 4)
		s.RecallAtK = round(recallSum/float64(scored), 4)
		s.MRR = round(rrSum/float64(scored), 4)
	}
	if ranked > 0 {
		mr := round(rankSum/float64(ranked), 4)
		s.MeanRank = &mr
	}
	return s
}

func (r *Runner) persist(report *Report) error {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	rows := make([]models.EvalRow, len(report.Rows))
	for i, row := range report.Rows {
		rows[i] = models.EvalRow{
			RunID:       report.RunID,
			QueryID:     row.ID,
			Query:       row.Query,
			QueryType:   row.Type,
			Expected:    row.ExpectedOutcome,
			Outcome:     string(row.Outcome),
			GatePassed:  row.GatePassed,
			GateReason:  string(row.GateReason),
			Bucket:      string(row.Bucket),
			HitAtK:      row.HitAtK,
			BestScore:   row.Score1,
			ScoreMargin: row.Gap,
		}
	}

	run := &models.EvalRun{
		ID:        report.RunID,
		Kind:      "gate",
		Dataset:   report.Dataset,
		Mode:      report.Summary.Knobs.Mode,
		Summary:   string(summary),
		CreatedAt: report.CreatedAt,
	}
	if err := r.store.InsertEvalRun(run, rows); err != nil {
		return fmt.Errorf("failed to persist evaluation run: %w", err)
	}
	return nil
}

// Text renders the summary for terminals.
func (rep *Report) Text() string {
	s := rep.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "\nEvaluation Report (%s)\n", rep.RunID)
	b.WriteString("=================\n\n")
	fmt.Fprintf(&b, "Total Queries: %d\n", s.Total)
	fmt.Fprintf(&b, "False abstain: %d / %d (rate %.4f)\n", s.FalseAbstain, s.ShouldPass, s.FalseAbstainRate)
	fmt.Fprintf(&b, "False pass:    %d / %d (rate %.4f)\n", s.FalsePass, s.ShouldFail, s.FalsePassRate)
	fmt.Fprintf(&b, "Decision accuracy: %.4f  Overall accuracy: %.4f\n", s.DecisionAccuracy, s.OverallAccuracy)
	fmt.Fprintf(&b, "Hit@%d: %.4f  Recall@%d: %.4f  MRR: %.4f\n", s.Knobs.K, s.HitAtK, s.Knobs.K, s.RecallAtK, s.MRR)
	if s.MeanRank != nil {
		fmt.Fprintf(&b, "Mean rank: %.2f\n", *s.MeanRank)
	}
	routes := make([]string, 0, len(s.Knobs.Thresholds))
	for route := range s.Knobs.Thresholds {
		routes = append(routes, string(route))
	}
	sort.Strings(routes)
	for _, route := range routes {
		t := s.Knobs.Thresholds[router.Route(route)]
		fmt.Fprintf(&b, "Gate %s: min_score %.4g  min_margin %.4g\n", route, t.MinScore, t.MinMargin)
	}
	b.WriteString("\nBuckets:\n")
	for _, bucket := range AllBuckets {
		if n := s.BucketCounts[bucket]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", bucket, n)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

package models

import "time"

// Chunk is one retrievable passage of an ingested document.
type Chunk struct {
	ID        string
	DocID     string
	Source    string
	Position  int
	Text      string
	CreatedAt time.Time
}

// EvalRun is one persisted evaluation. Summary holds the JSON-encoded
// aggregate metrics.
type EvalRun struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Dataset   string    `json:"dataset"`
	Mode      string    `json:"mode"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

type EvalRow struct {
	ID          int      `json:"id"`
	RunID       string   `json:"run_id"`
	QueryID     string   `json:"query_id"`
	Query       string   `json:"query"`
	QueryType   string   `json:"query_type"`
	Expected    string   `json:"expected"`
	Outcome     string   `json:"outcome"`
	GatePassed  bool     `json:"gate_passed"`
	GateReason  string   `json:"gate_reason"`
	Bucket      string   `json:"bucket"`
	HitAtK      *int     `json:"hit_at_k"`
	BestScore   *float64 `json:"best_score"`
	ScoreMargin *float64 `json:"score_margin"`
}

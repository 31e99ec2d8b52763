package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/storage/models"
	"github.com/quotegate/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		source TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, position);

	CREATE TABLE IF NOT EXISTS eval_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		dataset TEXT,
		mode TEXT,
		summary TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_eval_runs_created ON eval_runs(created_at);

	CREATE TABLE IF NOT EXISTS eval_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		query_id TEXT,
		query TEXT NOT NULL,
		query_type TEXT,
		expected TEXT,
		outcome TEXT,
		gate_passed INTEGER NOT NULL,
		gate_reason TEXT,
		bucket TEXT,
		hit_at_k INTEGER,
		best_score REAL,
		score_margin REAL,
		FOREIGN KEY (run_id) REFERENCES eval_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_eval_rows_run ON eval_rows(run_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// ReplaceDocument swaps every stored chunk of docID for chunks in one
// transaction, so a shorter revision leaves no trailing chunks behind.
func (c *Client) ReplaceDocument(docID string, chunks []models.Chunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to clear document %s: %w", docID, err)
	}
	if err := insertChunks(tx, chunks); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	removed, _ := res.RowsAffected()
	logger.Debug("Document chunks replaced",
		zap.String("doc_id", docID),
		zap.Int64("removed", removed),
		zap.Int("stored", len(chunks)),
	)
	return nil
}

func insertChunks(tx *sql.Tx, chunks []models.Chunk) error {
	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, doc_id, source, position, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id = excluded.doc_id,
			source = excluded.source,
			position = excluded.position,
			text = excluded.text
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		createdAt := ch.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.Exec(ch.ID, ch.DocID, ch.Source, ch.Position, ch.Text, createdAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}
	return nil
}

// ChunkIDs lists the ids stored for one document in position order.
func (c *Client) ChunkIDs(docID string) ([]string, error) {
	rows, err := c.db.Query(`SELECT id FROM chunks WHERE doc_id = ? ORDER BY position, id`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk ids: %w", err)
	}
	return ids, nil
}

// ListChunks returns every chunk ordered by document and position.
func (c *Client) ListChunks() ([]models.Chunk, error) {
	rows, err := c.db.Query(`SELECT id, doc_id, source, position, text, created_at FROM chunks ORDER BY doc_id, position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.Source, &ch.Position, &ch.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}

func (c *Client) CountChunks() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// DeleteDocument removes all chunks of one document.
func (c *Client) DeleteDocument(docID string) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	return res.RowsAffected()
}

// InsertEvalRun stores a run and its rows atomically.
func (c *Client) InsertEvalRun(run *models.EvalRun, rows []models.EvalRow) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO eval_runs (id, kind, dataset, mode, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Kind,
		run.Dataset,
		run.Mode,
		run.Summary,
		run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert eval run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO eval_rows (run_id, query_id, query, query_type, expected, outcome,
			gate_passed, gate_reason, bucket, hit_at_k, best_score, score_margin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare eval row insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		passed := 0
		if r.GatePassed {
			passed = 1
		}
		_, err := stmt.Exec(
			run.ID,
			r.QueryID,
			r.Query,
			r.QueryType,
			r.Expected,
			r.Outcome,
			passed,
			r.GateReason,
			r.Bucket,
			nullInt(r.HitAtK),
			nullFloat(r.BestScore),
			nullFloat(r.ScoreMargin),
		)
		if err != nil {
			return fmt.Errorf("failed to insert eval row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit eval run: %w", err)
	}

	logger.Info("Evaluation run recorded",
		zap.String("run_id", run.ID),
		zap.String("kind", run.Kind),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func (c *Client) GetEvalRun(id string) (*models.EvalRun, []models.EvalRow, error) {
	var run models.EvalRun
	var createdAt int64
	err := c.db.QueryRow(
		`SELECT id, kind, dataset, mode, summary, created_at FROM eval_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Kind, &run.Dataset, &run.Mode, &run.Summary, &createdAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get eval run: %w", err)
	}
	run.CreatedAt = time.Unix(createdAt, 0)

	rows, err := c.db.Query(`
		SELECT id, run_id, query_id, query, query_type, expected, outcome,
			gate_passed, gate_reason, bucket, hit_at_k, best_score, score_margin
		FROM eval_rows WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get eval rows: %w", err)
	}
	defer rows.Close()

	var out []models.EvalRow
	for rows.Next() {
		var r models.EvalRow
		var passed int
		var hit sql.NullInt64
		var best, margin sql.NullFloat64
		err := rows.Scan(&r.ID, &r.RunID, &r.QueryID, &r.Query, &r.QueryType, &r.Expected, &r.Outcome,
			&passed, &r.GateReason, &r.Bucket, &hit, &best, &margin)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.GatePassed = passed == 1
		if hit.Valid {
			v := int(hit.Int64)
			r.HitAtK = &v
		}
		if best.Valid {
			r.BestScore = &best.Float64
		}
		if margin.Valid {
			r.ScoreMargin = &margin.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate eval rows: %w", err)
	}

	return &run, out, nil
}

func (c *Client) ListEvalRuns(limit int) ([]models.EvalRun, error) {
	rows, err := c.db.Query(`
		SELECT id, kind, dataset, mode, summary, created_at
		FROM eval_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eval runs: %w", err)
	}
	defer rows.Close()

	var runs []models.EvalRun
	for rows.Next() {
		var r models.EvalRun
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Dataset, &r.Mode, &r.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, r)
	}

	return runs, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

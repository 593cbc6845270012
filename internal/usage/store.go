// Package usage keeps an append-only ledger of LLM token usage. Every
// completion made through a [Meter] becomes one [Record], tagged with the
// turn, conversation and purpose carried on the context.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Purposes recorded by the callers in this module.
const (
	PurposeAgent    = "agent"
	PurposeConfirm  = "confirm"
	PurposeAnalysis = "analysis"
)

// Record is one completion's token usage.
type Record struct {
	ID             string
	Timestamp      time.Time
	TurnID         string
	ConversationID string
	Model          string
	Purpose        string
	InputTokens    int
	OutputTokens   int
	Elapsed        time.Duration
}

// Summary holds aggregated totals.
type Summary struct {
	Records      int   `json:"records"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store is a SQLite usage ledger. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS llm_usage (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		turn_id         TEXT,
		conversation_id TEXT,
		model           TEXT NOT NULL,
		purpose         TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		elapsed_ms      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_llm_usage_timestamp ON llm_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_llm_usage_conversation ON llm_usage(conversation_id);
	`)
	return err
}

// Record appends rec. An empty ID gets a UUIDv7 and a zero Timestamp
// becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Purpose == "" {
		rec.Purpose = PurposeAgent
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_usage
			(id, timestamp, turn_id, conversation_id, model, purpose, input_tokens, output_tokens, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.TurnID,
		rec.ConversationID,
		rec.Model,
		rec.Purpose,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM llm_usage
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.Records, &sum.InputTokens, &sum.OutputTokens); err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// SummaryByModel returns per-model totals within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.summaryGroupedBy(ctx, "model", start, end)
}

// SummaryByPurpose returns per-purpose totals within [start, end).
func (s *Store) SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.summaryGroupedBy(ctx, "purpose", start, end)
}

// column is always one of the constants passed by the methods above.
func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]Summary, error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM llm_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Records, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = sum
	}
	return result, rows.Err()
}

// Report is the shape served by the usage endpoint.
type Report struct {
	Since     time.Time          `json:"since"`
	Until     time.Time          `json:"until"`
	Total     Summary            `json:"total"`
	ByModel   map[string]Summary `json:"by_model"`
	ByPurpose map[string]Summary `json:"by_purpose"`
}

// Report aggregates everything within [start, end).
func (s *Store) Report(ctx context.Context, start, end time.Time) (*Report, error) {
	total, err := s.Summary(ctx, start, end)
	if err != nil {
		return nil, err
	}
	byModel, err := s.SummaryByModel(ctx, start, end)
	if err != nil {
		return nil, err
	}
	byPurpose, err := s.SummaryByPurpose(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return &Report{Since: start, Until: end, Total: total, ByModel: byModel, ByPurpose: byPurpose}, nil
}

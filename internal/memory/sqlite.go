package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is a local memory backend. It keeps every recorded turn and
// summarizes by listing the most recent things the user said. The caller
// owns db and chooses the driver.
type SQLiteStore struct {
	db     *sql.DB
	userID string
	limit  int
}

// NewSQLiteStore creates the store, running migrations on first use.
// limit caps how many statements Retrieve returns.
func NewSQLiteStore(db *sql.DB, userID string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = 20
	}
	s := &SQLiteStore{db: db, userID: userID, limit: limit}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memory: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_turns (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memory_turns_user ON memory_turns(user_id);
	`)
	return err
}

// Record inserts turns in one transaction.
func (s *SQLiteStore) Record(ctx context.Context, turns []Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_turns (id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range turns {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), s.userID, t.Role, t.Content, now); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return tx.Commit()
}

// Retrieve returns the most recent user statements, oldest first, as a
// bullet list under a heading. It returns "" when nothing is stored.
func (s *SQLiteStore) Retrieve(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM memory_turns
		WHERE user_id = ? AND role = 'user'
		ORDER BY rowid DESC
		LIMIT ?
	`, s.userID, s.limit)
	if err != nil {
		return "", fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var recent []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", fmt.Errorf("scan turn: %w", err)
		}
		recent = append(recent, content)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(recent) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("**Recent requests:**\n")
	for i := len(recent) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "- %s\n", recent[i])
	}
	return b.String(), nil
}

// Count returns how many turns are stored for the user.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_turns WHERE user_id = ?`, s.userID).Scan(&n)
	return n, err
}

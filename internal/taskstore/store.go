// Package taskstore persists sub-agent task outcomes in a local SQLite database
// so completed work survives the in-memory task map's cleanup sweeps.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
)

// Store is a local SQLite-backed record of terminal task outcomes.
// WAL is enabled so reads stay cheap while the scheduler writes.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordOutcome upserts a terminal task record. Replays of the same task id
// overwrite the earlier row, keeping the store idempotent for retried writes.
func (s *Store) RecordOutcome(ctx context.Context, rec ai.TaskRecord) error {
	if s == nil || s.db == nil {
		return errors.New("task store is closed")
	}
	taskID := strings.TrimSpace(rec.TaskID)
	if taskID == "" {
		return errors.New("missing task id")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sub_agent_tasks (
  task_id, sub_agent_id, sub_agent_name, description, status,
  started_at_unix_ms, ended_at_unix_ms, turns_used, success, error, output, tokens_total
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
  status = excluded.status,
  ended_at_unix_ms = excluded.ended_at_unix_ms,
  turns_used = excluded.turns_used,
  success = excluded.success,
  error = excluded.error,
  output = excluded.output,
  tokens_total = excluded.tokens_total
`,
		taskID,
		strings.TrimSpace(rec.SubAgentID),
		strings.TrimSpace(rec.SubAgentName),
		strings.TrimSpace(rec.Description),
		string(rec.Status),
		rec.StartedAtMs,
		rec.EndedAtMs,
		rec.TurnsUsed,
		boolToInt(rec.Success),
		strings.TrimSpace(rec.Error),
		rec.Output,
		rec.TokensTotal,
	)
	if err != nil {
		return fmt.Errorf("record task outcome: %w", err)
	}
	return nil
}

// Get returns the stored record for one task id.
func (s *Store) Get(ctx context.Context, taskID string) (*ai.TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("task store is closed")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, sub_agent_id, sub_agent_name, description, status,
       started_at_unix_ms, ended_at_unix_ms, turns_used, success, error, output, tokens_total
FROM sub_agent_tasks
WHERE task_id = ?
`, strings.TrimSpace(taskID))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecent returns up to limit records ordered by end time, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ai.TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("task store is closed")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, sub_agent_id, sub_agent_name, description, status,
       started_at_unix_ms, ended_at_unix_ms, turns_used, success, error, output, tokens_total
FROM sub_agent_tasks
ORDER BY ended_at_unix_ms DESC, task_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ai.TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Prune deletes records whose end time is older than the cutoff. Returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, cutoffUnixMs int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("task store is closed")
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM sub_agent_tasks WHERE ended_at_unix_ms > 0 AND ended_at_unix_ms < ?
`, cutoffUnixMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ai.TaskRecord, error) {
	var (
		rec     ai.TaskRecord
		status  string
		success int
	)
	err := row.Scan(
		&rec.TaskID,
		&rec.SubAgentID,
		&rec.SubAgentName,
		&rec.Description,
		&status,
		&rec.StartedAtMs,
		&rec.EndedAtMs,
		&rec.TurnsUsed,
		&success,
		&rec.Error,
		&rec.Output,
		&rec.TokensTotal,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = ai.TaskStatus(status)
	rec.Success = success != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sub_agent_tasks (
  task_id            TEXT PRIMARY KEY,
  sub_agent_id       TEXT NOT NULL,
  sub_agent_name     TEXT NOT NULL DEFAULT '',
  description        TEXT NOT NULL DEFAULT '',
  status             TEXT NOT NULL,
  started_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  ended_at_unix_ms   INTEGER NOT NULL DEFAULT 0,
  turns_used         INTEGER NOT NULL DEFAULT 0,
  success            INTEGER NOT NULL DEFAULT 0,
  error              TEXT NOT NULL DEFAULT '',
  output             TEXT NOT NULL DEFAULT '',
  tokens_total       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sub_agent_tasks_ended ON sub_agent_tasks (ended_at_unix_ms);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// internal/storage/sqlite/usage_store.go

// Package sqlite persists generation usage records in a local SQLite
// database, one row per LLM call.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Usage row statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// UsageRecord is one generation call made on behalf of a project.
type UsageRecord struct {
	ID           int64     `json:"id"`
	TaskID       string    `json:"task_id"`
	ProjectID    string    `json:"project_id"`
	Kind         string    `json:"kind"` // story, expand, dialogue, test
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	PromptTokens int       `json:"prompt_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// DailyUsage aggregates calls for one calendar day (UTC).
type DailyUsage struct {
	Day         string `json:"day"`
	Calls       int    `json:"calls"`
	TotalTokens int    `json:"total_tokens"`
	Failures    int    `json:"failures"`
}

const schema = `
CREATE TABLE IF NOT EXISTS generation_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_usage_created ON generation_usage(created_at);
CREATE INDEX IF NOT EXISTS idx_generation_usage_project ON generation_usage(project_id);
`

// Store is a SQLite-backed usage log.
type Store struct {
	db *sql.DB
}

// Open opens the usage database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// RecordUsage appends one usage row. A zero CreatedAt means now.
func (s *Store) RecordUsage(rec UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
INSERT INTO generation_usage
	(task_id, project_id, kind, provider, model, prompt_tokens, output_tokens, total_tokens, duration_ms, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.ProjectID, rec.Kind, rec.Provider, rec.Model,
		rec.PromptTokens, rec.OutputTokens, rec.TotalTokens,
		rec.DurationMS, rec.Status, toMillis(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert usage row: %w", err)
	}
	return nil
}

// RecentUsage returns the newest rows, newest first.
func (s *Store) RecentUsage(limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
SELECT id, task_id, project_id, kind, provider, model,
	prompt_tokens, output_tokens, total_tokens, duration_ms, status, created_at
FROM generation_usage
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage rows: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.TaskID, &rec.ProjectID, &rec.Kind, &rec.Provider, &rec.Model,
			&rec.PromptTokens, &rec.OutputTokens, &rec.TotalTokens,
			&rec.DurationMS, &rec.Status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		rec.CreatedAt = fromMillis(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DailyUsage aggregates the last `days` days, newest day first.
func (s *Store) DailyUsage(days int) ([]DailyUsage, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.Query(`
SELECT date(created_at/1000, 'unixepoch') AS day,
	COUNT(*),
	COALESCE(SUM(total_tokens), 0),
	SUM(CASE WHEN status != ? THEN 1 ELSE 0 END)
FROM generation_usage
WHERE created_at >= ?
GROUP BY day
ORDER BY day DESC`, StatusOK, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	var usage []DailyUsage
	for rows.Next() {
		var day DailyUsage
		if err := rows.Scan(&day.Day, &day.Calls, &day.TotalTokens, &day.Failures); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		usage = append(usage, day)
	}
	return usage, rows.Err()
}

// Totals returns the all-time call and token counts.
func (s *Store) Totals() (calls int, tokens int, err error) {
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0) FROM generation_usage`)
	if err := row.Scan(&calls, &tokens); err != nil {
		return 0, 0, fmt.Errorf("scan totals: %w", err)
	}
	return calls, tokens, nil
}

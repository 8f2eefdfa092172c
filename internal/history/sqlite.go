// Package history keeps a ledger of variant outcomes. It doubles as the
// published-commit baseline for the since-published manual policy.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"imgpub/internal/report"
)

// Entry is one stored outcome.
type Entry struct {
	ID         int64
	RunID      string
	VariantID  string
	Status     string
	SHA        string
	VersionTag string
	Trigger    string
	Branch     string
	Images     []string
	ErrorKind  string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Store implements report.Sink and changes.Baseline using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens a store.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		sha TEXT NOT NULL,
		version_tag TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		branch TEXT,
		images TEXT,
		error_kind TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_variant ON outcomes(variant_id, status);
	CREATE INDEX IF NOT EXISTS idx_outcomes_started ON outcomes(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Name() string { return "history" }

// Write appends a record. Dry-run records are not stored so they never
// become a publish baseline.
func (s *Store) Write(ctx context.Context, r report.Record) error {
	if r.DryRun {
		return nil
	}
	images, err := json.Marshal(r.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, variant_id, status, sha, version_tag, trigger_kind, branch, images, error_kind, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.VariantID, r.Status, r.SHA, r.VersionTag, r.Trigger, r.Branch, string(images),
		r.ErrorKind, r.Error, r.StartedAt.UnixMilli(), r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// LastPublished returns the commit of the variant's most recent publish.
func (s *Store) LastPublished(ctx context.Context, variantID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sha string
	err := s.db.QueryRowContext(ctx,
		"SELECT sha FROM outcomes WHERE variant_id = ? AND status = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		variantID, report.StatusPublished,
	).Scan(&sha)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query last publish: %w", err)
	}
	return sha, true, nil
}

// Filter narrows Recent.
type Filter struct {
	VariantID string
	Status    string
	Limit     int
}

// Recent lists the newest entries first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, run_id, variant_id, status, sha, version_tag, trigger_kind, branch, images, error_kind, error, started_at, duration_ms
		FROM outcomes WHERE (? = '' OR variant_id = ?) AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id DESC LIMIT ?`

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query, f.VariantID, f.VariantID, f.Status, f.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			branch, images, ek, em sql.NullString
			startedMS, durMS       int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.VariantID, &e.Status, &e.SHA, &e.VersionTag, &e.Trigger,
			&branch, &images, &ek, &em, &startedMS, &durMS); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Branch, e.ErrorKind, e.Error = branch.String, ek.String, em.String
		if images.Valid && images.String != "" && images.String != "null" {
			if err := json.Unmarshal([]byte(images.String), &e.Images); err != nil {
				return nil, fmt.Errorf("unmarshal images: %w", err)
			}
		}
		e.StartedAt = time.UnixMilli(startedMS).UTC()
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Package usage persists document access history for relevance scoring.
//
// Every document served to a client is recorded; the optimizer turns the
// resulting age/count pair into a recency boost. The store also keeps a
// short log of optimization runs. Losing the database only costs the
// boost: relevance falls back to neutral.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/membank/internal/optimizer"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Types ───────────────────────────────────────────────────────────────────

// Access is the recorded history of one document.
type Access struct {
	Document      string    `json:"document"`
	Count         int       `json:"count"`
	FirstAccessed time.Time `json:"first_accessed"`
	LastAccessed  time.Time `json:"last_accessed"`
}

// Run is a summary of one optimization call.
type Run struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Strategy    string    `json:"strategy"`
	Budget      int       `json:"budget"`
	TotalTokens int       `json:"total_tokens"`
	Utilization float64   `json:"utilization"`
	Selected    int       `json:"selected"`
	Excluded    int       `json:"excluded"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats holds aggregate usage figures.
type Stats struct {
	Documents     int `json:"documents"`
	TotalAccesses int `json:"total_accesses"`
	Runs          int `json:"runs"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds usage store configuration.
type Config struct {
	DataDir string
	// MaxRuns caps the run log; older runs are pruned on insert.
	MaxRuns int
}

// DefaultConfig returns the default configuration for the usage store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".membank"),
		MaxRuns: 200,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed usage store.
type Store struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ optimizer.SignalSource = (*Store)(nil)

// New creates a Store under cfg.DataDir. It creates the directory if
// needed, opens SQLite in WAL mode and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = DefaultConfig().MaxRuns
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("usage: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "usage.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("usage: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("usage: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS document_access (
			doc_id            TEXT PRIMARY KEY,
			access_count      INTEGER NOT NULL DEFAULT 0,
			first_accessed_at TEXT    NOT NULL,
			last_accessed_at  TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS optimization_runs (
			id           TEXT PRIMARY KEY,
			task         TEXT    NOT NULL,
			strategy     TEXT    NOT NULL,
			budget       INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			utilization  REAL    NOT NULL,
			selected     INTEGER NOT NULL,
			excluded     INTEGER NOT NULL,
			created_at   TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_access_last ON document_access(last_accessed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON optimization_runs(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Access ──────────────────────────────────────────────────────────────────

// RecordAccess counts one access for each id, in a single transaction.
func (s *Store) RecordAccess(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("usage: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_access (doc_id, access_count, first_accessed_at, last_accessed_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				access_count     = access_count + 1,
				last_accessed_at = excluded.last_accessed_at`,
			id, now, now)
		if err != nil {
			return fmt.Errorf("usage: record %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("usage: commit: %w", err)
	}
	return nil
}

// Get returns the history of id.
func (s *Store) Get(ctx context.Context, id string) (*Access, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, access_count, first_accessed_at, last_accessed_at
		FROM document_access WHERE doc_id = ?`, id)
	a, err := scanAccess(row)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// AccessSignal reports how long ago id was last served and how often.
// ok is false when id has never been served.
func (s *Store) AccessSignal(ctx context.Context, id string) (optimizer.Signal, bool, error) {
	a, err := s.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return optimizer.Signal{}, false, nil
	}
	if err != nil {
		return optimizer.Signal{}, false, err
	}
	age := s.now().Sub(a.LastAccessed)
	if age < 0 {
		age = 0
	}
	return optimizer.Signal{LastAccessAge: age, AccessCount: a.Count}, true, nil
}

// Top returns the most accessed documents, most recent first on ties.
func (s *Store) Top(ctx context.Context, limit int) ([]Access, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, access_count, first_accessed_at, last_accessed_at
		FROM document_access
		ORDER BY access_count DESC, last_accessed_at DESC, doc_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("usage: top: %w", err)
	}
	defer rows.Close()

	var out []Access
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Forget drops the history of id, e.g. after the document is deleted.
func (s *Store) Forget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_access WHERE doc_id = ?`, id)
	if err != nil {
		return fmt.Errorf("usage: forget %s: %w", id, err)
	}
	return nil
}

// ─── Runs ────────────────────────────────────────────────────────────────────

// RecordRun appends r to the run log and prunes it to MaxRuns.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO optimization_runs
			(id, task, strategy, budget, total_tokens, utilization, selected, excluded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Task, r.Strategy, r.Budget, r.TotalTokens, r.Utilization, r.Selected, r.Excluded,
		formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("usage: record run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM optimization_runs WHERE id NOT IN (
			SELECT id FROM optimization_runs ORDER BY created_at DESC LIMIT ?
		)`, s.cfg.MaxRuns)
	if err != nil {
		return fmt.Errorf("usage: prune runs: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, strategy, budget, total_tokens, utilization, selected, excluded, created_at
		FROM optimization_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("usage: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			created string
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.Strategy, &r.Budget, &r.TotalTokens,
			&r.Utilization, &r.Selected, &r.Excluded, &created); err != nil {
			return nil, fmt.Errorf("usage: scan run: %w", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats returns aggregate usage figures.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(access_count), 0) FROM document_access`).
		Scan(&st.Documents, &st.TotalAccesses)
	if err != nil {
		return nil, fmt.Errorf("usage: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM optimization_runs`).Scan(&st.Runs); err != nil {
		return nil, fmt.Errorf("usage: stats: %w", err)
	}
	return &st, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanAccess(row scanner) (*Access, error) {
	var (
		a             Access
		first, latest string
	)
	if err := row.Scan(&a.Document, &a.Count, &first, &latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("usage: scan access: %w", err)
	}
	var err error
	if a.FirstAccessed, err = parseTime(first); err != nil {
		return nil, err
	}
	if a.LastAccessed, err = parseTime(latest); err != nil {
		return nil, err
	}
	return &a, nil
}

// timeLayout sorts lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("usage: parse time %q: %w", s, err)
	}
	return t, nil
}

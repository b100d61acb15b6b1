// Package ledger keeps an append-only history of launches, monitor runs
// and synchronizations in a SQLite database under the jar directory.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// Kind is the operation an entry records.
type Kind string

const (
	KindRun     Kind = "run"
	KindMonitor Kind = "monitor"
	KindState   Kind = "state"
	KindSync    Kind = "sync"
	KindArchive Kind = "archive"
)

// Outcome values.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomePartial = "partial"
)

// Entry is one ledger row.
type Entry struct {
	ID        string
	Instance  string
	Kind      Kind
	JobID     string
	Launch    string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Ledger is a handle on the ledger database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const createEntries = `
CREATE TABLE IF NOT EXISTS entries (
  seq          INTEGER PRIMARY KEY AUTOINCREMENT,
  id           TEXT NOT NULL UNIQUE,
  instance     TEXT NOT NULL,
  kind         TEXT NOT NULL,
  job_id       TEXT,
  launch_state TEXT,
  outcome      TEXT,
  detail       TEXT,
  created_at   TEXT NOT NULL
);`
	if _, err := db.Exec(createEntries); err != nil {
		return err
	}
	migrations := []string{
		`CREATE INDEX IF NOT EXISTS entries_instance ON entries(instance)`,
		`ALTER TABLE entries ADD COLUMN detail TEXT`,
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

// Record appends e, assigning its ID and timestamp when unset.
func (l *Ledger) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO entries (id, instance, kind, job_id, launch_state, outcome, detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Instance, string(e.Kind), e.JobID, e.Launch, e.Outcome, e.Detail,
		e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return e, fmt.Errorf("failed to record %s for %s: %w", e.Kind, e.Instance, err)
	}
	return e, nil
}

// History returns entries newest first. An empty instance means all
// instances; limit <= 0 means no limit.
func (l *Ledger) History(ctx context.Context, instance string, limit int) ([]Entry, error) {
	query := `SELECT id, instance, kind, job_id, launch_state, outcome, detail, created_at FROM entries`
	var args []any
	if instance != "" {
		query += ` WHERE instance = ?`
		args = append(args, instance)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, created string
		var jobID, launch, outcome, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Instance, &kind, &jobID, &launch, &outcome, &detail, &created); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.JobID = jobID.String
		e.Launch = launch.String
		e.Outcome = outcome.String
		e.Detail = detail.String
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastJobID returns the most recent job id recorded for instance, or "".
func (l *Ledger) LastJobID(ctx context.Context, instance string) (string, error) {
	var id sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT job_id FROM entries WHERE instance = ? AND job_id <> '' ORDER BY seq DESC LIMIT 1`,
		instance).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

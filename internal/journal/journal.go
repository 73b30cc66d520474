// Package journal records the outcome of every command run in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode is how a run was executed.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeCleanup    Mode = "cleanup"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectRuns = `
SELECT id, command, mode, status, error, doc_digest, started_at, finished_at
FROM command_runs`

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Status is the outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Run is one recorded invocation.
type Run struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Mode       Mode      `json:"mode"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocDigest  string    `json:"doc_digest,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Journal persists runs.
type Journal struct {
	db *sql.DB
}

// New wraps an open database bootstrapped by storage.OpenSQLite.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Record stores run, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	var errText, digest sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	if run.DocDigest != "" {
		digest = sql.NullString{String: run.DocDigest, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO command_runs(id, command, mode, status, error, doc_digest, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		run.ID,
		run.Command,
		string(run.Mode),
		string(run.Status),
		errText,
		digest,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, selectRuns+`
ORDER BY finished_at DESC, started_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return scanRuns(rows)
}

// Get returns the run with id.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := j.db.QueryContext(ctx, selectRuns+`
WHERE id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &runs[0], nil
}

// ByDigest returns every run dispatched from the document version with
// digest, oldest first.
func (j *Journal) ByDigest(ctx context.Context, digest string) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, selectRuns+`
WHERE doc_digest = ?
ORDER BY started_at ASC, finished_at ASC;`, digest)
	if err != nil {
		return nil, fmt.Errorf("query runs by digest: %w", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			mode, status      string
			errText, digest   sql.NullString
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Command, &mode, &status, &errText, &digest, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = Mode(mode)
		r.Status = Status(status)
		r.Error = errText.String
		r.DocDigest = digest.String

		var err error
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded runs for command, or all runs when
// command is empty.
func (j *Journal) Count(ctx context.Context, command string) (int, error) {
	var n int
	var err error
	if command == "" {
		err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_runs;`).Scan(&n)
	} else {
		err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_runs WHERE command = ?;`, command).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

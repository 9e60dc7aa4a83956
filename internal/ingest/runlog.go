// Package ingest implements the incremental award-ingestion pipeline:
// remote fetch, reference resolution, award upsert, and the sync run ledger.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/spendtrack/internal/db"
)

// RunKind distinguishes full reloads from incremental imports.
type RunKind string

const (
	RunKindFull        RunKind = "full"
	RunKindIncremental RunKind = "incremental"
)

// RunStatus is the sync run state machine:
// pending -> running -> completed | failed. Terminal states never change.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

var (
	// ErrRunConflict means another sync run currently holds the running slot.
	ErrRunConflict = eris.New("ingest: another sync run is already running")

	// ErrBadTransition means a transition was attempted from the wrong state,
	// which is a programming error, not a retryable condition.
	ErrBadTransition = eris.New("ingest: illegal sync run state transition")
)

// SyncRun is one row of the sync ledger.
type SyncRun struct {
	ID               int64          `json:"id"`
	Kind             RunKind        `json:"kind"`
	Status           RunStatus      `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	RecordsProcessed int64          `json:"records_processed"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// RunLog provides read/write access to the sync_runs ledger. Transitions are
// guarded UPDATEs; the at-most-one-running invariant is a partial unique
// index on the table, so it holds across processes.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

const runColumns = `id, kind, status, started_at, completed_at,
	records_processed, COALESCE(error_message, ''), metadata, created_at`

// Create inserts a new pending run and returns it.
func (l *RunLog) Create(ctx context.Context, kind RunKind, metadata map[string]any) (*SyncRun, error) {
	metaJSON, err := json.Marshal(orEmpty(metadata))
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal metadata")
	}

	run := &SyncRun{Kind: kind, Status: RunPending, Metadata: metadata}
	err = l.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (kind, status, metadata)
		 VALUES ($1, 'pending', $2)
		 RETURNING id, created_at`,
		string(kind), metaJSON,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: create %s run", kind)
	}
	return run, nil
}

// Start transitions pending -> running and stamps started_at. A run in any
// other state yields ErrBadTransition; losing the single-running race yields
// ErrRunConflict.
func (l *RunLog) Start(ctx context.Context, id int64) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs SET status = 'running', started_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRunConflict
		}
		return eris.Wrapf(err, "runlog: start run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBadTransition, "start run %d", id)
	}
	return nil
}

// Progress records the cumulative processed count for a running run.
func (l *RunLog) Progress(ctx context.Context, id int64, records int64) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs SET records_processed = $1
		 WHERE id = $2 AND status = 'running'`,
		records, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: progress run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBadTransition, "progress run %d", id)
	}
	return nil
}

// Complete transitions running -> completed with the final record count.
func (l *RunLog) Complete(ctx context.Context, id int64, records int64) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = 'completed', completed_at = now(), records_processed = $1
		 WHERE id = $2 AND status = 'running'`,
		records, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBadTransition, "complete run %d", id)
	}
	return nil
}

// Fail transitions running -> failed, capturing the error message so
// operators can inspect cause without log correlation.
func (l *RunLog) Fail(ctx context.Context, id int64, errMsg string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = 'failed', completed_at = now(), error_message = $1
		 WHERE id = $2 AND status = 'running'`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBadTransition, "fail run %d", id)
	}
	return nil
}

// Discard removes a pending run that never started (e.g. it lost the
// single-running race). Runs in any other state are history and are kept.
func (l *RunLog) Discard(ctx context.Context, id int64) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM sync_runs WHERE id = $1 AND status = 'pending'`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: discard run %d", id)
	}
	return nil
}

// IsAnyRunning reports whether any run is currently in the running state.
func (l *RunLog) IsAnyRunning(ctx context.Context) (bool, error) {
	var running bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sync_runs WHERE status = 'running')`,
	).Scan(&running)
	if err != nil {
		return false, eris.Wrap(err, "runlog: check running")
	}
	return running, nil
}

// CurrentRunning returns the running run, or nil if none.
func (l *RunLog) CurrentRunning(ctx context.Context) (*SyncRun, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE status = 'running' LIMIT 1`,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "runlog: current running")
	}
	return run, nil
}

// LastCompleted returns the most recently completed run, or nil if none.
func (l *RunLog) LastCompleted(ctx context.Context) (*SyncRun, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE status = 'completed'
		 ORDER BY completed_at DESC LIMIT 1`,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "runlog: last completed")
	}
	return run, nil
}

// List returns runs ordered most recent first.
func (l *RunLog) List(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*SyncRun, error) {
	var run SyncRun
	var metaJSON []byte
	err := row.Scan(&run.ID, &run.Kind, &run.Status, &run.StartedAt,
		&run.CompletedAt, &run.RecordsProcessed, &run.ErrorMessage,
		&metaJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &run.Metadata)
	}
	return &run, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

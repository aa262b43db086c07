package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Run kinds.
const (
	KindSimulate = "simulate"
	KindDesign   = "design"
)

var (
	// ErrRunNotFound is returned when no run matches the requested id.
	ErrRunNotFound = errors.New("analysis run not found")
	// ErrDuplicateRun is returned when a run with the same kind and
	// request digest already exists.
	ErrDuplicateRun = errors.New("duplicate analysis run")
)

// Run is one persisted analysis result.
type Run struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Kind         string          `db:"kind" json:"kind"`
	RequestKey   string          `db:"request_key" json:"request_key"`
	ReturnPeriod sql.NullFloat64 `db:"return_period" json:"return_period,omitempty"`
	Seed         int64           `db:"seed" json:"seed"`
	Events       int             `db:"events" json:"events"`
	Result       []byte          `db:"result" json:"-"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// RunRepo reads and writes the analysis_runs table.
type RunRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo wraps db. A non-positive timeout falls back to 30 seconds.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) *RunRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RunRepo{db: db, timeout: timeout}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		request_key TEXT NOT NULL,
		return_period DOUBLE PRECISION,
		seed BIGINT NOT NULL,
		events INTEGER NOT NULL,
		result JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (kind, request_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_kind_created
		ON analysis_runs (kind, created_at DESC)`,
}

// Migrate creates the schema if it does not exist yet.
func (r *RunRepo) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, stmt := range migrations {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate analysis_runs: %w", err)
		}
	}
	return nil
}

// Insert stores a run and fills its CreatedAt from the database. A zero ID
// is replaced with a fresh UUID.
func (r *RunRepo) Insert(ctx context.Context, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO analysis_runs (id, kind, request_key, return_period, seed, events, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		run.ID, run.Kind, run.RequestKey, run.ReturnPeriod,
		run.Seed, run.Events, run.Result).
		Scan(&run.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: kind %s key %s", ErrDuplicateRun, run.Kind, run.RequestKey)
		}
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

// Get returns the run with the given id.
func (r *RunRepo) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run Run
	query := `
		SELECT id, kind, request_key, return_period, seed, events, result, created_at
		FROM analysis_runs
		WHERE id = $1`
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get analysis run: %w", err)
	}
	return &run, nil
}

// ByRequestKey returns the stored run for a request digest, if any.
func (r *RunRepo) ByRequestKey(ctx context.Context, kind, key string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run Run
	query := `
		SELECT id, kind, request_key, return_period, seed, events, result, created_at
		FROM analysis_runs
		WHERE kind = $1 AND request_key = $2`
	if err := r.db.GetContext(ctx, &run, query, kind, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: kind %s key %s", ErrRunNotFound, kind, key)
		}
		return nil, fmt.Errorf("get analysis run by key: %w", err)
	}
	return &run, nil
}

// ListRecent returns the newest runs of one kind, newest first.
func (r *RunRepo) ListRecent(ctx context.Context, kind string, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	query := `
		SELECT id, kind, request_key, return_period, seed, events, result, created_at
		FROM analysis_runs
		WHERE kind = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &runs, query, kind, limit); err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	return runs, nil
}

// DeleteOlderThan removes runs created before cutoff and reports how many
// went away.
func (r *RunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete analysis runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete analysis runs: %w", err)
	}
	return n, nil
}

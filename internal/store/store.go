// File: internal/store/store.go
// Description: Optional PostgreSQL persistence for finished runs. The agent
// works fully without it; an empty database.url disables it.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL implementation of the RunStore interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    prompt      TEXT NOT NULL,
    objective   TEXT NOT NULL,
    status      TEXT NOT NULL,
    last_error  TEXT NOT NULL DEFAULT '',
    plan        JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS run_attempts (
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    step_index  INT NOT NULL,
    attempt     INT NOT NULL,
    step        JSONB NOT NULL,
    result      JSONB NOT NULL,
    observation JSONB NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, step_index, attempt)
);
`

// EnsureSchema creates the run tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create run tables: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT INTO runs (run_id, prompt, objective, status, last_error, plan, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO UPDATE SET
    status = EXCLUDED.status,
    last_error = EXCLUDED.last_error,
    finished_at = EXCLUDED.finished_at;
`

// PersistRun writes the finished run and all its attempt records in one
// transaction.
func (s *Store) PersistRun(ctx context.Context, mem *schemas.RunMemory) error {
	planJSON, err := json.Marshal(mem.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertRunSQL,
		mem.RunID, mem.Prompt, mem.Plan.Objective, string(mem.Status), mem.LastError,
		planJSON, mem.StartedAt.UTC(), mem.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(mem.Records) > 0 {
		if err := s.persistAttempts(ctx, tx, mem.RunID, mem.Records); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistAttempts(ctx context.Context, tx pgx.Tx, runID string, records []schemas.AttemptRecord) error {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		stepJSON, err := json.Marshal(rec.Step)
		if err != nil {
			return fmt.Errorf("failed to marshal step: %w", err)
		}
		resultJSON, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		obsJSON, err := json.Marshal(rec.Observation)
		if err != nil {
			return fmt.Errorf("failed to marshal observation: %w", err)
		}
		rows[i] = []interface{}{
			runID, rec.StepIndex, rec.Attempt,
			stepJSON, resultJSON, obsJSON,
			rec.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_attempts"},
		[]string{"run_id", "step_index", "attempt", "step", "result", "observation", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy attempt records: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied attempt count: expected %d, got %d", len(records), copyCount)
	}
	return nil
}

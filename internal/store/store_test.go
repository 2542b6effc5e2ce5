// File: internal/store/store_test.go
//go:build !integration

package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL mocks.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleMemory() *schemas.RunMemory {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &schemas.RunMemory{
		RunID:  "run-42",
		Prompt: "search for socks",
		Plan: schemas.Plan{
			Objective: "search for socks",
			Steps:     []schemas.Step{{Index: 0, Kind: schemas.StepNavigate, URL: "https://shop.example"}},
		},
		Records: []schemas.AttemptRecord{
			{StepIndex: 0, Attempt: 1, Result: schemas.ActionResult{Success: true}, Timestamp: started.Add(time.Second)},
			{StepIndex: 0, Attempt: 2, Result: schemas.ActionResult{Success: true}, Timestamp: started.Add(2 * time.Second)},
		},
		Status:     schemas.RunSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(10 * time.Second),
	}
}

func TestNewStorePingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mem := sampleMemory()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
		WithArgs(
			mem.RunID, mem.Prompt, mem.Plan.Objective, string(mem.Status), mem.LastError,
			pgxmock.AnyArg(), mem.StartedAt.UTC(), mem.FinishedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(
		pgx.Identifier{"run_attempts"},
		[]string{"run_id", "step_index", "attempt", "step", "result", "observation", "recorded_at"},
	).WillReturnResult(2)
	mockPool.ExpectCommit()
	mockPool.ExpectRollback()

	require.NoError(t, store.PersistRun(context.Background(), mem))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRunInsertFailureRollsBack(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mem := sampleMemory()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
		WithArgs(
			mem.RunID, mem.Prompt, mem.Plan.Objective, string(mem.Status), mem.LastError,
			pgxmock.AnyArg(), mem.StartedAt.UTC(), mem.FinishedAt.UTC(),
		).
		WillReturnError(errors.New("constraint violation"))
	mockPool.ExpectRollback()

	err = store.PersistRun(context.Background(), mem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert run")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRunCopyCountMismatch(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mem := sampleMemory()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
		WithArgs(
			mem.RunID, mem.Prompt, mem.Plan.Objective, string(mem.Status), mem.LastError,
			pgxmock.AnyArg(), mem.StartedAt.UTC(), mem.FinishedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(
		pgx.Identifier{"run_attempts"},
		[]string{"run_id", "step_index", "attempt", "step", "result", "observation", "recorded_at"},
	).WillReturnResult(1)
	mockPool.ExpectRollback()

	err = store.PersistRun(context.Background(), mem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

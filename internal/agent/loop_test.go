// File: internal/agent/loop_test.go
//go:build !integration

package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

type outcome struct {
	res schemas.ActionResult
	err error
	obs schemas.Observation
}

// scriptedDriver resolves each (step, attempt) pair through a script
// function and tracks per-step attempt counts.
type scriptedDriver struct {
	mu       sync.Mutex
	attempts map[int]int
	script   func(stepIndex, attempt int) outcome
}

func newScriptedDriver(script func(stepIndex, attempt int) outcome) *scriptedDriver {
	return &scriptedDriver{attempts: make(map[int]int), script: script}
}

func (d *scriptedDriver) Execute(_ context.Context, step schemas.Step) (schemas.ActionResult, error) {
	d.mu.Lock()
	d.attempts[step.Index]++
	attempt := d.attempts[step.Index]
	d.mu.Unlock()
	out := d.script(step.Index, attempt)
	return out.res, out.err
}

func (d *scriptedDriver) Observe(_ context.Context, stepIndex, attempt int) schemas.Observation {
	return d.script(stepIndex, attempt).obs
}

var (
	okResult   = schemas.ActionResult{Success: true, Message: "ok"}
	failResult = schemas.ActionResult{
		Success: false,
		Message: "element not found",
		Code:    schemas.ErrCodeExecutionFailure,
	}
)

func alwaysOK(int, int) outcome { return outcome{res: okResult} }

func testPlan(n int) *schemas.Plan {
	p := &schemas.Plan{Objective: "test objective"}
	for i := 0; i < n; i++ {
		p.Steps = append(p.Steps, schemas.Step{
			Kind: schemas.StepNavigate,
			URL:  fmt.Sprintf("https://example.com/%d", i),
		})
	}
	return p
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{MaxSteps: 20, MaxAttempts: 3}
}

func newTestLoop(t *testing.T, driver Driver, cfg config.AgentConfig) *Loop {
	t.Helper()
	loop, err := NewLoop(driver, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return loop
}

func TestLoopAllStepsSucceed(t *testing.T) {
	driver := newScriptedDriver(alwaysOK)
	loop := newTestLoop(t, driver, testAgentConfig())

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(3))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSucceeded, mem.Status)
	assert.Empty(t, mem.LastError)
	require.Len(t, mem.Records, 3)
	for i, rec := range mem.Records {
		assert.Equal(t, i, rec.StepIndex)
		assert.Equal(t, 1, rec.Attempt)
		assert.True(t, rec.Result.Success)
	}
	assert.False(t, mem.FinishedAt.IsZero())
	assert.False(t, mem.FinishedAt.Before(mem.StartedAt))
}

func TestLoopStepFailsAfterMaxAttempts(t *testing.T) {
	driver := newScriptedDriver(func(stepIndex, _ int) outcome {
		if stepIndex == 1 {
			return outcome{res: failResult}
		}
		return outcome{res: okResult}
	})
	loop := newTestLoop(t, driver, testAgentConfig())

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(3))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunFailed, mem.Status)
	assert.Contains(t, mem.LastError, "step 1 failed after 3 attempts")
	// One clean attempt for step 0, three failed attempts for step 1, and
	// no attempt on step 2.
	require.Len(t, mem.Records, 4)
	assert.Equal(t, 0, mem.Records[0].StepIndex)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 1, mem.Records[i].StepIndex)
		assert.Equal(t, i, mem.Records[i].Attempt)
	}
}

func TestLoopRetryRecoversFromTransientFailure(t *testing.T) {
	driver := newScriptedDriver(func(stepIndex, attempt int) outcome {
		if stepIndex == 1 && attempt == 1 {
			return outcome{res: failResult}
		}
		return outcome{res: okResult}
	})
	loop := newTestLoop(t, driver, testAgentConfig())

	mem, err := loop.Run(context.Background(), "run-1", "open then click", testPlan(2))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSucceeded, mem.Status)
	require.Len(t, mem.Records, 3)
	assert.Equal(t, 0, mem.Records[0].StepIndex)
	assert.Equal(t, 1, mem.Records[0].Attempt)
	assert.Equal(t, 1, mem.Records[1].StepIndex)
	assert.Equal(t, 1, mem.Records[1].Attempt)
	assert.False(t, mem.Records[1].Result.Success)
	assert.Equal(t, 1, mem.Records[2].StepIndex)
	assert.Equal(t, 2, mem.Records[2].Attempt)
	assert.True(t, mem.Records[2].Result.Success)
}

func TestLoopGlobalBudgetAborts(t *testing.T) {
	driver := newScriptedDriver(func(stepIndex, _ int) outcome {
		if stepIndex == 1 {
			return outcome{res: failResult}
		}
		return outcome{res: okResult}
	})
	cfg := testAgentConfig()
	cfg.MaxSteps = 3
	cfg.MaxAttempts = 10
	loop := newTestLoop(t, driver, cfg)

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(2))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunAborted, mem.Status)
	assert.Contains(t, mem.LastError, "step budget")
	assert.Len(t, mem.Records, 3)
}

func TestLoopSucceedsExactlyAtBudget(t *testing.T) {
	// The final step's clean attempt lands on the budget boundary; completion
	// wins over the budget check.
	driver := newScriptedDriver(alwaysOK)
	cfg := testAgentConfig()
	cfg.MaxSteps = 2
	loop := newTestLoop(t, driver, cfg)

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(2))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSucceeded, mem.Status)
	assert.Len(t, mem.Records, 2)
}

func TestLoopConsoleErrorTriggersRetry(t *testing.T) {
	driver := newScriptedDriver(func(stepIndex, attempt int) outcome {
		if stepIndex == 0 && attempt == 1 {
			return outcome{
				res: okResult,
				obs: schemas.Observation{Console: []schemas.ConsoleEntry{
					{Level: "error", Text: "Uncaught TypeError: x is undefined"},
				}},
			}
		}
		return outcome{res: okResult}
	})
	loop := newTestLoop(t, driver, testAgentConfig())

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(1))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunSucceeded, mem.Status)
	require.Len(t, mem.Records, 2)
	assert.True(t, mem.Records[0].Result.Success)
	assert.True(t, mem.Records[0].Observation.HasErrors())
	assert.Equal(t, 2, mem.Records[1].Attempt)
}

func TestLoopFatalSessionErrorAborts(t *testing.T) {
	sessionDead := fmt.Errorf("write request: %w", context.Canceled)
	driver := newScriptedDriver(func(stepIndex, _ int) outcome {
		if stepIndex == 1 {
			return outcome{
				res: schemas.ActionResult{
					Success: false,
					Message: sessionDead.Error(),
					Code:    schemas.ErrCodeSessionClosed,
				},
				err: sessionDead,
			}
		}
		return outcome{res: okResult}
	})
	loop := newTestLoop(t, driver, testAgentConfig())

	mem, err := loop.Run(context.Background(), "run-1", "do things", testPlan(3))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunAborted, mem.Status)
	assert.Equal(t, sessionDead.Error(), mem.LastError)
	// No retry on a fatal error and no further steps.
	assert.Len(t, mem.Records, 2)
}

func TestLoopContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := newTestLoop(t, newScriptedDriver(alwaysOK), testAgentConfig())

	mem, err := loop.Run(ctx, "run-1", "do things", testPlan(2))
	require.NoError(t, err)

	assert.Equal(t, schemas.RunAborted, mem.Status)
	assert.Equal(t, context.Canceled.Error(), mem.LastError)
	assert.Empty(t, mem.Records)
}

func TestLoopRejectsEmptyPlan(t *testing.T) {
	loop := newTestLoop(t, newScriptedDriver(alwaysOK), testAgentConfig())

	_, err := loop.Run(context.Background(), "run-1", "do things", &schemas.Plan{})
	require.Error(t, err)

	_, err = loop.Run(context.Background(), "run-1", "do things", nil)
	require.Error(t, err)
}

func TestNewLoopValidation(t *testing.T) {
	_, err := NewLoop(nil, testAgentConfig(), nil)
	require.Error(t, err)

	_, err = NewLoop(newScriptedDriver(alwaysOK), config.AgentConfig{MaxSteps: 0, MaxAttempts: 3}, nil)
	require.Error(t, err)

	_, err = NewLoop(newScriptedDriver(alwaysOK), config.AgentConfig{MaxSteps: 10, MaxAttempts: 0}, nil)
	require.Error(t, err)
}

// File: internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// Driver is what the loop needs from the browser layer. Execute performs a
// single step; the returned error is non-nil only for fatal session faults
// (per-step failures ride inside the ActionResult). Observe captures the
// post-step page state and must not fail the run on its own.
type Driver interface {
	Execute(ctx context.Context, step schemas.Step) (schemas.ActionResult, error)
	Observe(ctx context.Context, stepIndex, attempt int) schemas.Observation
}

// Loop walks a plan step by step, observing after every attempt and retrying
// failed steps up to the configured ceiling. A global attempt budget bounds
// the whole run.
type Loop struct {
	driver Driver
	cfg    config.AgentConfig
	logger *zap.Logger
}

func NewLoop(driver Driver, cfg config.AgentConfig, logger *zap.Logger) (*Loop, error) {
	if driver == nil {
		return nil, errors.New("agent: driver must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSteps <= 0 || cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("agent: invalid limits (max_steps=%d, max_attempts=%d)", cfg.MaxSteps, cfg.MaxAttempts)
	}
	return &Loop{driver: driver, cfg: cfg, logger: logger}, nil
}

// Run executes the plan and returns the full attempt history. The run's
// outcome is carried in the returned memory's Status; the error return is
// reserved for precondition failures (an empty plan).
func (l *Loop) Run(ctx context.Context, runID, prompt string, plan *schemas.Plan) (*schemas.RunMemory, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, errors.New("agent: plan has no steps")
	}

	mem := NewMemory(runID, prompt, *plan)
	totalAttempts := 0

	for i := range plan.Steps {
		step := plan.Steps[i]
		step.Index = i

		for attempt := 1; ; attempt++ {
			if err := ctx.Err(); err != nil {
				mem.Finish(schemas.RunAborted, err.Error())
				return mem.Snapshot(), nil
			}

			res, execErr := l.execute(ctx, step)
			obs := l.driver.Observe(ctx, step.Index, attempt)
			hasError := !res.Success || obs.HasErrors()
			totalAttempts++

			mem.Append(schemas.AttemptRecord{
				StepIndex:   step.Index,
				Attempt:     attempt,
				Step:        step,
				Result:      res,
				Observation: obs,
			})

			l.logger.Info("Step attempt finished.",
				zap.Int("step", step.Index),
				zap.String("action", string(step.Kind)),
				zap.Int("attempt", attempt),
				zap.Bool("success", !hasError),
				zap.Int("total_attempts", totalAttempts))

			if execErr != nil {
				// The session is unusable; no retry can help.
				l.logger.Error("Aborting run on fatal session error.", zap.Error(execErr))
				mem.Finish(schemas.RunAborted, execErr.Error())
				return mem.Snapshot(), nil
			}

			if !hasError && i == len(plan.Steps)-1 {
				mem.Finish(schemas.RunSucceeded, "")
				return mem.Snapshot(), nil
			}

			if totalAttempts >= l.cfg.MaxSteps {
				l.logger.Warn("Run exceeded the global step budget.",
					zap.Int("max_steps", l.cfg.MaxSteps))
				mem.Finish(schemas.RunAborted,
					fmt.Sprintf("step budget of %d attempts exhausted at step %d", l.cfg.MaxSteps, step.Index))
				return mem.Snapshot(), nil
			}

			if !hasError {
				break
			}

			if ShouldRetry(attempt, l.cfg.MaxAttempts, true) {
				l.logger.Warn("Retrying failed step.",
					zap.Int("step", step.Index),
					zap.Int("next_attempt", attempt+1),
					zap.String("reason", failureReason(res, obs)))
				continue
			}

			mem.Finish(schemas.RunFailed,
				fmt.Sprintf("step %d failed after %d attempts: %s", step.Index, attempt, failureReason(res, obs)))
			return mem.Snapshot(), nil
		}
	}

	// Unreachable: the final step's clean attempt returns above.
	mem.Finish(schemas.RunSucceeded, "")
	return mem.Snapshot(), nil
}

func (l *Loop) execute(ctx context.Context, step schemas.Step) (schemas.ActionResult, error) {
	stepCtx := ctx
	if l.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, l.cfg.StepTimeout)
		defer cancel()
	}
	return l.driver.Execute(stepCtx, step)
}

func failureReason(res schemas.ActionResult, obs schemas.Observation) string {
	if !res.Success {
		if res.Message != "" {
			return res.Message
		}
		return "action reported failure"
	}
	for _, entry := range obs.Console {
		if entry.Level == "error" {
			return "console error: " + entry.Text
		}
	}
	return "console reported errors"
}

// File: api/schemas/run.go
package schemas

import (
	"encoding/json"
	"strings"
	"time"
)

// ErrorCode is a string type used for structured error reporting from the
// capability facade and protocol session. Using a custom type ensures only
// predefined constants can be used where an ErrorCode is expected.
type ErrorCode string

const (
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeUnsupportedAction ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeRemoteError       ErrorCode = "REMOTE_ERROR"
	ErrCodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
)

// ActionResult is the outcome of one execution attempt of one step. Raw holds
// the unmodified tool result payload; the control loop never interprets it
// beyond the presence of the Success marker.
type ActionResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Code      ErrorCode       `json:"error_code,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	ToolsUsed []string        `json:"tools_used,omitempty"`
}

// ConsoleEntry is a single browser console message captured during
// observation.
type ConsoleEntry struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Observation is a snapshot of browser state taken after an action, captured
// regardless of the action's outcome so that failures remain diagnosable.
// Each field degrades independently: a sub-capture that fails embeds its
// error text rather than failing the whole observation.
type Observation struct {
	DOM            string         `json:"dom,omitempty"`
	Console        []ConsoleEntry `json:"console,omitempty"`
	Accessibility  string         `json:"accessibility,omitempty"`
	OCRText        string         `json:"ocr_text,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
}

// HasErrors reports whether the observation carries evidence of a page-level
// failure: any console entry with error severity, or error-looking console
// text. The step-level error signal additionally ORs in the action result.
func (o Observation) HasErrors() bool {
	for _, entry := range o.Console {
		if strings.EqualFold(entry.Level, "error") {
			return true
		}
		if strings.Contains(strings.ToLower(entry.Text), "error") {
			return true
		}
	}
	return false
}

// AttemptRecord is one execution try of a single step. Attempt numbering is
// 1-based. Records are immutable once appended to run memory.
type AttemptRecord struct {
	StepIndex   int          `json:"step_index"`
	Attempt     int          `json:"attempt"`
	Step        Step         `json:"step"`
	Result      ActionResult `json:"result"`
	Observation Observation  `json:"observation"`
	Timestamp   time.Time    `json:"timestamp"`
}

// RunStatus is the terminal state of one run.
type RunStatus string

const (
	// RunRunning is the zero-equivalent in-flight state, visible only to
	// live progress readers; a finished run never reports it.
	RunRunning RunStatus = "running"
	// RunSucceeded means every step completed without an error signal.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed means a step exhausted its retry budget; later steps were
	// not attempted.
	RunFailed RunStatus = "failed"
	// RunAborted means the run was cut short without disproving the plan:
	// the global attempt budget ran out or the session was lost.
	RunAborted RunStatus = "aborted"
)

// RunMemory is the append-only record of one run: the original prompt, the
// accepted plan, every attempt in chronological order, and the terminal
// status. It is owned exclusively by the control loop while the run is live
// and read-only once the run ends.
type RunMemory struct {
	RunID      string          `json:"run_id"`
	Prompt     string          `json:"prompt"`
	Plan       Plan            `json:"plan"`
	Records    []AttemptRecord `json:"records"`
	Status     RunStatus       `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

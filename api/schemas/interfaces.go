// File: api/schemas/interfaces.go
// Description: Central interface definitions shared across components. Keeping
// them here breaks import cycles between the agent, browser, and planner
// packages and lets each be mocked independently in tests.

package schemas

import (
	"context"
	"encoding/json"
)

// ToolCaller is the narrow view of a protocol session that the capability
// facade needs: invoke one named remote capability and get its raw result.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// Planner turns a natural-language objective into a structured test plan.
// A malformed or unobtainable plan is a fatal precondition failure; the
// control loop never starts on a nil plan.
type Planner interface {
	Plan(ctx context.Context, objective string) (*Plan, error)
}

// OCRProvider extracts text from a screenshot. Implementations must treat
// extraction as best-effort: the caller maps any error to empty text and a
// non-fatal log entry, never to a run failure.
type OCRProvider interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// Reporter consumes a finished run. Formatting and destination are entirely
// the reporter's concern; the run memory it receives is read-only.
type Reporter interface {
	Report(ctx context.Context, mem *RunMemory) error
}

// RunStore persists a finished run for later inspection. Implementations are
// optional; a nil store simply skips persistence.
type RunStore interface {
	PersistRun(ctx context.Context, mem *RunMemory) error
}

// GenerationRequest is a provider-agnostic LLM text generation request.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// ForceJSON asks the provider to constrain output to a single JSON
	// object, where the provider supports response formats.
	ForceJSON bool
}

// LLMClient abstracts a text generation backend.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

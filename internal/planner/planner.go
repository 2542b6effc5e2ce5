// File: internal/planner/planner.go
// Description: Turns a natural-language objective into a structured test
// plan via the LLM, then normalizes the model's output into the strict step
// vocabulary the control loop executes.

package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// GenerationError reports that no usable plan could be obtained. It is a
// precondition failure; the control loop never starts.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("planner: plan generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

const systemPrompt = "You are a web test planning assistant. Return strict JSON only with keys: " +
	"objective (string), success_criteria (array[string]), steps (array[object]). " +
	"Use action only from this list: navigate, click, type, press, wait, query. " +
	"Rules: navigate requires a non-null url; click requires a non-null selector; " +
	"type requires non-null selector and value; press uses value as key name like Enter; " +
	"wait should not use click as wait_event. " +
	"Be site-agnostic: do not hardcode one specific website behavior. " +
	"Prefer semantic selectors (text labels, roles, placeholders) over brittle CSS paths. " +
	"For search intents on any site, usually plan: navigate, type in search field, press Enter. " +
	"Each step has: action (string), selector (string|null), value (string|null), " +
	"url (string|null), wait_event (string|null), expected (string|null)."

const reaskSuffix = "\n\nYour previous reply was not valid JSON. Reply with ONLY the JSON object, no prose, no markdown fences."

// Planner asks the LLM for a plan and repairs what it can. One re-ask is
// allowed for malformed output before giving up.
type Planner struct {
	llm         schemas.LLMClient
	temperature float64
	logger      *zap.Logger
}

func New(llm schemas.LLMClient, temperature float64, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if temperature <= 0 {
		temperature = 0.1
	}
	return &Planner{llm: llm, temperature: temperature, logger: logger}
}

// Plan implements the schemas.Planner interface.
func (p *Planner) Plan(ctx context.Context, objective string) (*schemas.Plan, error) {
	raw, err := p.generate(ctx, objective, objective)
	if err != nil {
		return nil, err
	}

	plan, parseErr := parsePlan(raw)
	if parseErr != nil {
		p.logger.Warn("Plan output was not valid JSON, re-asking once.", zap.Error(parseErr))
		raw, err = p.generate(ctx, objective, objective+reaskSuffix)
		if err != nil {
			return nil, err
		}
		if plan, parseErr = parsePlan(raw); parseErr != nil {
			return nil, &GenerationError{Err: parseErr}
		}
	}

	normalized := Normalize(plan, objective)
	p.logger.Info("Test plan generated.",
		zap.String("objective", normalized.Objective),
		zap.Int("steps", len(normalized.Steps)))
	return normalized, nil
}

func (p *Planner) generate(ctx context.Context, objective, userPrompt string) (string, error) {
	content, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  p.temperature,
		ForceJSON:    true,
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	return content, nil
}

// rawPlan mirrors the JSON shape the model is asked to emit. Nulls decode as
// zero values.
type rawPlan struct {
	Objective       string    `json:"objective"`
	SuccessCriteria []string  `json:"success_criteria"`
	Steps           []rawStep `json:"steps"`
}

type rawStep struct {
	Action    string `json:"action"`
	Selector  string `json:"selector"`
	Value     string `json:"value"`
	URL       string `json:"url"`
	WaitEvent string `json:"wait_event"`
	Expected  string `json:"expected"`
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	looseJSONPattern  = regexp.MustCompile(`(?s)\{.*\}`)
)

// parsePlan decodes model output, tolerating markdown fences and surrounding
// prose.
func parsePlan(content string) (*rawPlan, error) {
	candidates := []string{content}
	if m := fencedJSONPattern.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := looseJSONPattern.FindString(content); m != "" {
		candidates = append(candidates, m)
	}

	var lastErr error
	for _, candidate := range candidates {
		var plan rawPlan
		if err := codec.Unmarshal([]byte(candidate), &plan); err != nil {
			lastErr = err
			continue
		}
		return &plan, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("model output contained no JSON object")
	}
	return nil, lastErr
}

// Normalize repairs the model's plan into the executable vocabulary: action
// aliases are folded, under-specified steps are downgraded to something
// runnable, and an empty plan becomes a single page-state query so the run
// still produces a useful report.
func Normalize(raw *rawPlan, prompt string) *schemas.Plan {
	plan := &schemas.Plan{
		Objective:       strings.TrimSpace(raw.Objective),
		SuccessCriteria: raw.SuccessCriteria,
	}
	if plan.Objective == "" {
		plan.Objective = strings.TrimSpace(prompt)
	}
	if len(plan.SuccessCriteria) == 0 {
		plan.SuccessCriteria = []string{"Main objective completed"}
	}

	for _, rs := range raw.Steps {
		action := strings.ToLower(strings.TrimSpace(rs.Action))
		switch action {
		case "open":
			action = "navigate"
		case "press_key", "key", "keypress":
			action = "press"
		case "fill":
			action = "type"
		}

		step := schemas.Step{
			Kind:      schemas.StepKind(action),
			Selector:  rs.Selector,
			Value:     rs.Value,
			URL:       rs.URL,
			WaitEvent: rs.WaitEvent,
			Expected:  rs.Expected,
		}

		if step.Kind == schemas.StepNavigate && step.URL == "" {
			if step.Selector != "" {
				step.Kind = schemas.StepClick
			} else {
				step.Kind = schemas.StepWait
			}
		}
		if step.Kind == schemas.StepPress && step.Value == "" {
			step.Value = "Enter"
		}
		if step.Kind == schemas.StepWait && step.WaitEvent == "click" {
			step.WaitEvent = ""
		}

		plan.Steps = append(plan.Steps, step)
	}

	if len(plan.Steps) == 0 {
		plan.Steps = []schemas.Step{{
			Kind:     schemas.StepQuery,
			Selector: "body",
			Expected: "Page state captured",
		}}
	}

	for i := range plan.Steps {
		plan.Steps[i].Index = i
	}
	return plan
}

// File: api/schemas/plan.go
package schemas

// StepKind is an enumeration of the abstract browser actions a test plan may
// contain. Using a custom type provides a structured vocabulary and prevents
// free-form action strings from leaking into the control loop.
type StepKind string

const (
	StepNavigate StepKind = "navigate" // Opens a URL in the active page.
	StepClick    StepKind = "click"    // Clicks the element matching a selector.
	StepType     StepKind = "type"     // Types a value into the element matching a selector.
	StepPress    StepKind = "press"    // Presses a keyboard key (defaults to Enter).
	StepWait     StepKind = "wait"     // Waits for page text/an event, or sleeps for a duration.
	StepQuery    StepKind = "query"    // Captures the current page structure for inspection.
	StepCustom   StepKind = "custom"   // Invokes an arbitrary named capability with opaque arguments.
)

// Step is a single unit of a test plan. It is a tagged variant: Kind selects
// which of the remaining fields are meaningful. Index is the step's stable
// position in the plan and is used for correlation in run memory, artifact
// naming, and reporting.
type Step struct {
	Index     int                    `json:"index"`
	Kind      StepKind               `json:"action"`
	Selector  string                 `json:"selector,omitempty"`
	Value     string                 `json:"value,omitempty"`
	URL       string                 `json:"url,omitempty"`
	WaitEvent string                 `json:"wait_event,omitempty"`
	// Expected is a human-readable description of what a successful execution
	// of this step should accomplish. It is never parsed.
	Expected string `json:"expected,omitempty"`
	// Name and Args carry the capability name and parameters for StepCustom.
	Name string                 `json:"name,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Plan is the structured output of the planner. Once accepted by the control
// loop it is immutable; nothing in the core mutates a Plan after Run starts.
type Plan struct {
	Objective string `json:"objective"`
	// SuccessCriteria are ordered textual predicates evaluated by a human (or
	// an external checker) against the final report. The core records them
	// verbatim and never interprets them.
	SuccessCriteria []string `json:"success_criteria"`
	Steps           []Step   `json:"steps"`
}

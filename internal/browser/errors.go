// File: internal/browser/errors.go
package browser

import (
	"fmt"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// UnsupportedActionError reports a step kind the facade has no mapping for.
// It feeds the retry signal like any other per-step failure; retrying it is
// pointless but harmless, and keeping it non-fatal lets the run record the
// step before moving on.
type UnsupportedActionError struct {
	Kind schemas.StepKind
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("browser: unsupported action %q", e.Kind)
}

// InvalidParametersError reports a step whose fields do not satisfy its
// kind's contract, like a click without a selector.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return "browser: " + e.Reason
}

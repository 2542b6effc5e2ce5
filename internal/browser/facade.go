// File: internal/browser/facade.go
// Description: Maps abstract plan steps onto the remote browser capabilities
// and folds every per-step failure mode into a uniform ActionResult. Only
// fatal session faults escape as errors.

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/mcp"
)

// Remote capability names exposed by chrome-devtools-mcp.
const (
	toolNavigate   = "navigate_page"
	toolSnapshot   = "take_snapshot"
	toolEvaluate   = "evaluate_script"
	toolClick      = "click"
	toolFill       = "fill"
	toolPressKey   = "press_key"
	toolWaitFor    = "wait_for"
	toolConsole    = "list_console_messages"
	toolScreenshot = "take_screenshot"
	toolListPages  = "list_pages"
	toolClosePage  = "close_page"
)

const (
	defaultSleepMS    = 1500
	defaultWaitMS     = 5000
	transientMissText = "no clickable element found"
)

// Facade executes plan steps against a ToolCaller. It is stateless between
// steps; every invocation stands alone.
type Facade struct {
	caller schemas.ToolCaller
	logger *zap.Logger

	// Tunables with production defaults; tests shorten them.
	readyTimeout time.Duration
	clickWindow  time.Duration
	pollInterval time.Duration
}

func NewFacade(caller schemas.ToolCaller, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		caller:       caller,
		logger:       logger,
		readyTimeout: 6 * time.Second,
		clickWindow:  6 * time.Second,
		pollInterval: 250 * time.Millisecond,
	}
}

// toolTracker records which capabilities one step invocation touched, in
// first-use order.
type toolTracker struct {
	names []string
}

func (t *toolTracker) call(ctx context.Context, caller schemas.ToolCaller, name string, args map[string]interface{}) (json.RawMessage, error) {
	// Record before calling so failed invocations still show up.
	seen := false
	for _, n := range t.names {
		if n == name {
			seen = true
			break
		}
	}
	if !seen {
		t.names = append(t.names, name)
	}
	return caller.CallTool(ctx, name, args)
}

// Execute performs one step. The returned error is non-nil only when the
// session itself is gone; everything else, including timeouts and remote
// errors, is folded into the ActionResult so the retry policy can see it.
func (f *Facade) Execute(ctx context.Context, step schemas.Step) (schemas.ActionResult, error) {
	tools := &toolTracker{}
	raw, err := f.dispatch(ctx, step, tools)

	res := f.shape(raw, err)
	res.ToolsUsed = tools.names

	if err != nil && mcp.IsFatal(err) {
		return res, err
	}
	return res, nil
}

func (f *Facade) dispatch(ctx context.Context, step schemas.Step, tools *toolTracker) (json.RawMessage, error) {
	switch step.Kind {
	case schemas.StepNavigate:
		return f.navigate(ctx, step, tools)
	case schemas.StepClick:
		return f.click(ctx, step, tools)
	case schemas.StepType:
		return f.typeText(ctx, step, tools)
	case schemas.StepPress:
		key := step.Value
		if key == "" {
			key = "Enter"
		}
		return tools.call(ctx, f.caller, toolPressKey, map[string]interface{}{"key": key})
	case schemas.StepWait:
		return f.wait(ctx, step, tools)
	case schemas.StepQuery:
		return tools.call(ctx, f.caller, toolSnapshot, map[string]interface{}{})
	case schemas.StepCustom:
		if strings.TrimSpace(step.Name) == "" {
			return nil, &InvalidParametersError{Reason: "custom step requires a capability name"}
		}
		return tools.call(ctx, f.caller, step.Name, step.Args)
	default:
		return nil, &UnsupportedActionError{Kind: step.Kind}
	}
}

// navigate opens the URL and then polls the document until it reports ready.
// A page that never settles is a step failure, not a session fault.
func (f *Facade) navigate(ctx context.Context, step schemas.Step, tools *toolTracker) (json.RawMessage, error) {
	if strings.TrimSpace(step.URL) == "" {
		return nil, &InvalidParametersError{Reason: "navigate step requires a url"}
	}
	raw, err := tools.call(ctx, f.caller, toolNavigate, map[string]interface{}{"url": step.URL})
	if err != nil {
		return nil, err
	}
	if parseToolResult(raw).IsError {
		return raw, nil
	}

	deadline := time.Now().Add(f.readyTimeout)
	for time.Now().Before(deadline) {
		stateRaw, err := tools.call(ctx, f.caller, toolEvaluate, map[string]interface{}{"function": readinessScript})
		if err != nil {
			return nil, err
		}
		state := parseToolResult(stateRaw)
		if !state.IsError && scriptResultOK(state.text()) {
			return raw, nil
		}
		if err := sleepCtx(ctx, f.pollInterval); err != nil {
			return nil, err
		}
	}
	return syntheticResult(fmt.Sprintf("timeout waiting for %s to become ready", step.URL), true), nil
}

// click tries the scripted path first and falls back to snapshot uid
// resolution. Transient misses are re-polled briefly; pages often render the
// target a beat after the previous action.
func (f *Facade) click(ctx context.Context, step schemas.Step, tools *toolTracker) (json.RawMessage, error) {
	if strings.TrimSpace(step.Selector) == "" {
		return nil, &InvalidParametersError{Reason: "click step requires a selector"}
	}
	script := buildClickScript(step.Selector)

	deadline := time.Now().Add(f.clickWindow)
	for {
		raw, err := tools.call(ctx, f.caller, toolEvaluate, map[string]interface{}{"function": script})
		if err != nil {
			return nil, err
		}
		res := parseToolResult(raw)
		text := res.text()
		if !res.IsError && scriptResultOK(text) {
			return raw, nil
		}
		if !strings.Contains(strings.ToLower(text), transientMissText) || !time.Now().Before(deadline) {
			break
		}
		if err := sleepCtx(ctx, f.pollInterval); err != nil {
			return nil, err
		}
	}

	uid, err := f.resolveFromSnapshot(ctx, tools, step.Selector, []string{"button", "link"})
	if err != nil {
		return nil, err
	}
	return tools.call(ctx, f.caller, toolClick, map[string]interface{}{"uid": uid})
}

func (f *Facade) typeText(ctx context.Context, step schemas.Step, tools *toolTracker) (json.RawMessage, error) {
	if strings.TrimSpace(step.Selector) == "" {
		return nil, &InvalidParametersError{Reason: "type step requires a selector"}
	}
	script := buildTypeScript(step.Selector, step.Value)
	raw, err := tools.call(ctx, f.caller, toolEvaluate, map[string]interface{}{"function": script})
	if err != nil {
		return nil, err
	}
	res := parseToolResult(raw)
	if !res.IsError && scriptResultOK(res.text()) {
		return raw, nil
	}

	uid, err := f.resolveFromSnapshot(ctx, tools, step.Selector, []string{"searchbox", "textbox", "textarea", "input"})
	if err != nil {
		return nil, err
	}
	return tools.call(ctx, f.caller, toolFill, map[string]interface{}{"uid": uid, "value": step.Value})
}

// wait blocks on page text when the step names an event, otherwise sleeps.
// A wait_for timeout gets one snapshot-based second opinion: the text may
// already be on the page even though the tool missed its render.
func (f *Facade) wait(ctx context.Context, step schemas.Step, tools *toolTracker) (json.RawMessage, error) {
	if step.WaitEvent == "" {
		ms := defaultSleepMS
		if step.Value != "" {
			if parsed, err := strconv.Atoi(strings.TrimSpace(step.Value)); err == nil && parsed >= 0 {
				ms = parsed
			}
		}
		if err := sleepCtx(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return nil, err
		}
		return syntheticResult(fmt.Sprintf("slept %dms", ms), false), nil
	}

	raw, err := tools.call(ctx, f.caller, toolWaitFor, map[string]interface{}{
		"text":    step.WaitEvent,
		"timeout": defaultWaitMS,
	})
	timedOut := false
	if err != nil {
		var timeoutErr *mcp.TimeoutError
		if !errors.As(err, &timeoutErr) {
			return nil, err
		}
		timedOut = true
	} else {
		res := parseToolResult(raw)
		timedOut = res.IsError && looksLikeTimeoutText(res.text())
	}
	if !timedOut {
		return raw, nil
	}

	snapRaw, snapErr := tools.call(ctx, f.caller, toolSnapshot, map[string]interface{}{})
	if snapErr != nil {
		return nil, snapErr
	}
	snapText := parseToolResult(snapRaw).text()
	if strings.Contains(strings.ToLower(snapText), strings.ToLower(step.WaitEvent)) {
		return syntheticResult(fmt.Sprintf("wait text %q found in page snapshot", step.WaitEvent), false), nil
	}
	return syntheticResult(fmt.Sprintf("timeout waiting for page text %q", step.WaitEvent), true), nil
}

func (f *Facade) resolveFromSnapshot(ctx context.Context, tools *toolTracker, selector string, roles []string) (string, error) {
	snapRaw, err := tools.call(ctx, f.caller, toolSnapshot, map[string]interface{}{})
	if err != nil {
		return "", err
	}
	return resolveUID(parseToolResult(snapRaw).text(), selector, roles)
}

// pageIDPattern matches the "N: <url>" lines of a list_pages result.
var pageIDPattern = regexp.MustCompile(`(?m)^\s*(\d+)\s*:`)

// ClosePages closes every open page, newest first, and reports the first
// failure after attempting all of them. Used during shutdown so a wedged tab
// cannot leak a browser process.
func (f *Facade) ClosePages(ctx context.Context) error {
	raw, err := f.caller.CallTool(ctx, toolListPages, map[string]interface{}{})
	if err != nil {
		return err
	}

	var ids []int
	for _, m := range pageIDPattern.FindAllStringSubmatch(parseToolResult(raw).text(), -1) {
		if id, err := strconv.Atoi(m[1]); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	var firstErr error
	for _, id := range ids {
		res, err := f.caller.CallTool(ctx, toolClosePage, map[string]interface{}{"pageId": id})
		if err != nil {
			f.logger.Debug("Failed to close page.", zap.Int("page_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if parseToolResult(res).IsError {
			f.logger.Debug("Page refused to close.", zap.Int("page_id", id))
		}
	}
	return firstErr
}

// shape renders a raw invocation outcome as an ActionResult.
func (f *Facade) shape(raw json.RawMessage, err error) schemas.ActionResult {
	if err != nil {
		return schemas.ActionResult{
			Success: false,
			Message: err.Error(),
			Code:    classify(err),
		}
	}

	res := parseToolResult(raw)
	text := res.text()

	if res.IsError {
		msg := strings.TrimSpace(text)
		if msg == "" {
			msg = "tool returned an error"
		}
		code := schemas.ErrCodeExecutionFailure
		if looksLikeTimeoutText(text) {
			code = schemas.ErrCodeTimeout
		}
		return schemas.ActionResult{Success: false, Message: msg, Code: code, Raw: raw}
	}

	if reason := firstFailureLine(text); reason != "" {
		return schemas.ActionResult{Success: false, Message: reason, Code: schemas.ErrCodeExecutionFailure, Raw: raw}
	}
	if hasNegativeSignal(text) {
		return schemas.ActionResult{
			Success: false,
			Message: "action failed based on tool result",
			Code:    schemas.ErrCodeExecutionFailure,
			Raw:     raw,
		}
	}
	// Surface the tool's own text so synthetic outcomes (wait recovery,
	// sleep durations) stay visible to the reporter.
	msg := strings.TrimSpace(text)
	if msg == "" {
		msg = "ok"
	}
	return schemas.ActionResult{Success: true, Message: msg, Raw: raw}
}

func classify(err error) schemas.ErrorCode {
	var (
		timeoutErr  *mcp.TimeoutError
		remoteErr   *mcp.RemoteError
		unsupported *UnsupportedActionError
		invalid     *InvalidParametersError
	)
	switch {
	case mcp.IsFatal(err):
		return schemas.ErrCodeSessionClosed
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrCodeTimeout
	case errors.As(err, &remoteErr):
		return schemas.ErrCodeRemoteError
	case errors.As(err, &unsupported):
		return schemas.ErrCodeUnsupportedAction
	case errors.As(err, &invalid):
		return schemas.ErrCodeInvalidParameters
	default:
		return schemas.ErrCodeExecutionFailure
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

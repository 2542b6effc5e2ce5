// File: internal/browser/observe.go
package browser

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// ScreenshotPaths names the file a given attempt's screenshot should land in.
// A nil provider disables screenshots (and with them OCR).
type ScreenshotPaths interface {
	ScreenshotPath(stepIndex, attempt int) string
}

// Observer captures page state after an attempt. Every capture degrades
// independently; Observe never fails, it returns whatever it could get.
type Observer struct {
	caller  schemas.ToolCaller
	paths   ScreenshotPaths
	ocr     schemas.OCRProvider
	timeout time.Duration
	logger  *zap.Logger
}

func NewObserver(caller schemas.ToolCaller, paths ScreenshotPaths, ocr schemas.OCRProvider, timeout time.Duration, logger *zap.Logger) *Observer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{caller: caller, paths: paths, ocr: ocr, timeout: timeout, logger: logger}
}

// Observe captures the page snapshot, console log, and a screenshot in
// parallel, then runs OCR over the screenshot when enabled. A failed console
// capture is surfaced as an error entry so the loop treats blindness as a
// reason to retry rather than silently passing the step.
func (o *Observer) Observe(ctx context.Context, stepIndex, attempt int) schemas.Observation {
	var obs schemas.Observation

	shotPath := ""
	if o.paths != nil {
		shotPath = o.paths.ScreenshotPath(stepIndex, attempt)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		raw, err := o.capture(gctx, toolSnapshot, map[string]interface{}{})
		if err != nil {
			o.logger.Debug("Snapshot capture failed.", zap.Error(err))
			return nil
		}
		text := parseToolResult(raw).text()
		obs.DOM = text
		// The snapshot is the rendered accessibility tree.
		obs.Accessibility = text
		return nil
	})

	g.Go(func() error {
		raw, err := o.capture(gctx, toolConsole, map[string]interface{}{})
		if err != nil {
			obs.Console = []schemas.ConsoleEntry{{Level: "error", Text: "console capture failed: " + err.Error()}}
			return nil
		}
		obs.Console = parseConsole(parseToolResult(raw).text())
		return nil
	})

	g.Go(func() error {
		if shotPath == "" {
			return nil
		}
		raw, err := o.capture(gctx, toolScreenshot, map[string]interface{}{
			"filePath": shotPath,
			"format":   "png",
		})
		if err != nil || parseToolResult(raw).IsError {
			o.logger.Debug("Screenshot capture failed.",
				zap.String("path", shotPath), zap.Error(err))
			return nil
		}
		obs.ScreenshotPath = shotPath
		return nil
	})

	_ = g.Wait()

	if o.ocr != nil && obs.ScreenshotPath != "" {
		text, err := o.ocr.ExtractText(ctx, obs.ScreenshotPath)
		if err != nil {
			o.logger.Debug("OCR extraction failed.", zap.Error(err))
		} else {
			obs.OCRText = text
		}
	}

	o.logger.Debug("Observation captured.",
		zap.Int("step", stepIndex),
		zap.Int("attempt", attempt),
		zap.Int("console_entries", len(obs.Console)),
		zap.Bool("has_screenshot", obs.ScreenshotPath != ""))
	return obs
}

func (o *Observer) capture(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	captureCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.caller.CallTool(captureCtx, tool, args)
}

var (
	consoleLinePattern = regexp.MustCompile(`(?i)^\s*(error|warning|warn|info|log|debug)\s*[:>]\s*(.*)$`)
	noMessagesPattern  = regexp.MustCompile(`(?i)no console messages`)
)

// parseConsole splits a console listing into leveled entries. Lines without a
// recognizable level prefix are kept as plain log entries.
func parseConsole(text string) []schemas.ConsoleEntry {
	if noMessagesPattern.MatchString(text) {
		return nil
	}
	var entries []schemas.ConsoleEntry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := consoleLinePattern.FindStringSubmatch(line); m != nil {
			level := strings.ToLower(m[1])
			if level == "warning" {
				level = "warn"
			}
			entries = append(entries, schemas.ConsoleEntry{Level: level, Text: m[2]})
			continue
		}
		entries = append(entries, schemas.ConsoleEntry{Level: "log", Text: line})
	}
	return entries
}

// Browser bundles acting and observing behind the control loop's driver
// contract.
type Browser struct {
	*Facade
	*Observer
}

func NewBrowser(facade *Facade, observer *Observer) *Browser {
	return &Browser{Facade: facade, Observer: observer}
}

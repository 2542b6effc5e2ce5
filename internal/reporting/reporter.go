// File: internal/reporting/reporter.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter writes a finished run to an output and releases the underlying
// resources on Close.
type Reporter interface {
	schemas.Reporter
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format writing to outputPath, where
// an empty path or "stdout" means standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "text":
		return &TextReporter{w: writer}, nil
	case "json":
		return &JSONReporter{w: writer}, nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONReporter emits the full run memory as indented JSON.
type JSONReporter struct {
	w io.WriteCloser
}

func (r *JSONReporter) Report(_ context.Context, mem *schemas.RunMemory) error {
	raw, err := codec.MarshalIndent(mem, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if _, err := r.w.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error { return r.w.Close() }

// TextReporter emits a human-readable run summary.
type TextReporter struct {
	w io.WriteCloser
}

func (r *TextReporter) Report(_ context.Context, mem *schemas.RunMemory) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s: %s\n", mem.RunID, strings.ToUpper(string(mem.Status)))
	fmt.Fprintf(&b, "Objective: %s\n", mem.Plan.Objective)
	if !mem.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", mem.FinishedAt.Sub(mem.StartedAt).Round(10*time.Millisecond))
	}

	fmt.Fprintf(&b, "Steps (%d planned, %d attempts executed):\n", len(mem.Plan.Steps), len(mem.Records))
	for _, step := range mem.Plan.Steps {
		attempts, last := stepOutcome(mem.Records, step.Index)
		switch {
		case attempts == 0:
			fmt.Fprintf(&b, "  [%d] %s %s: not attempted\n", step.Index, step.Kind, stepTarget(step))
		case last.Result.Success && !last.Observation.HasErrors():
			fmt.Fprintf(&b, "  [%d] %s %s: ok (%d attempt%s)\n",
				step.Index, step.Kind, stepTarget(step), attempts, plural(attempts))
		default:
			fmt.Fprintf(&b, "  [%d] %s %s: failed after %d attempt%s: %s\n",
				step.Index, step.Kind, stepTarget(step), attempts, plural(attempts), last.Result.Message)
		}
	}

	if mem.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", mem.LastError)
	}
	for _, rec := range mem.Records {
		if rec.Observation.ScreenshotPath != "" {
			fmt.Fprintf(&b, "First screenshot: %s\n", rec.Observation.ScreenshotPath)
			break
		}
	}

	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error { return r.w.Close() }

func stepOutcome(records []schemas.AttemptRecord, stepIndex int) (int, schemas.AttemptRecord) {
	attempts := 0
	var last schemas.AttemptRecord
	for _, rec := range records {
		if rec.StepIndex == stepIndex {
			attempts++
			last = rec
		}
	}
	return attempts, last
}

func stepTarget(step schemas.Step) string {
	switch {
	case step.URL != "":
		return step.URL
	case step.Selector != "":
		return fmt.Sprintf("%q", step.Selector)
	case step.WaitEvent != "":
		return fmt.Sprintf("%q", step.WaitEvent)
	case step.Name != "":
		return step.Name
	default:
		return ""
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

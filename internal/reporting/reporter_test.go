// File: internal/reporting/reporter_test.go
//go:build !integration

package reporting

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

func sampleMemory() *schemas.RunMemory {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &schemas.RunMemory{
		RunID:  "run-42",
		Prompt: "search for socks",
		Plan: schemas.Plan{
			Objective: "search for socks",
			Steps: []schemas.Step{
				{Index: 0, Kind: schemas.StepNavigate, URL: "https://shop.example"},
				{Index: 1, Kind: schemas.StepClick, Selector: "Search"},
				{Index: 2, Kind: schemas.StepPress, Value: "Enter"},
			},
		},
		Records: []schemas.AttemptRecord{
			{StepIndex: 0, Attempt: 1, Result: schemas.ActionResult{Success: true},
				Observation: schemas.Observation{ScreenshotPath: "/tmp/run-42/step_00_attempt_1.png"}},
			{StepIndex: 1, Attempt: 1, Result: schemas.ActionResult{Success: false, Message: "element not found"}},
			{StepIndex: 1, Attempt: 2, Result: schemas.ActionResult{Success: false, Message: "element not found"}},
			{StepIndex: 1, Attempt: 3, Result: schemas.ActionResult{Success: false, Message: "element not found"}},
		},
		Status:     schemas.RunFailed,
		LastError:  "step 1 failed after 3 attempts: element not found",
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
}

func TestTextReport(t *testing.T) {
	var buf bytes.Buffer
	r := &TextReporter{w: &nopWriteCloser{&buf}}

	require.NoError(t, r.Report(context.Background(), sampleMemory()))
	out := buf.String()

	assert.Contains(t, out, "Run run-42: FAILED")
	assert.Contains(t, out, "Objective: search for socks")
	assert.Contains(t, out, "Duration: 42s")
	assert.Contains(t, out, "[0] navigate https://shop.example: ok (1 attempt)")
	assert.Contains(t, out, `[1] click "Search": failed after 3 attempts: element not found`)
	assert.Contains(t, out, "[2] press : not attempted")
	assert.Contains(t, out, "Last error: step 1 failed")
	assert.Contains(t, out, "First screenshot: /tmp/run-42/step_00_attempt_1.png")
}

func TestJSONReportRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONReporter{w: &nopWriteCloser{&buf}}

	require.NoError(t, r.Report(context.Background(), sampleMemory()))

	mem := sampleMemory()
	var decoded schemas.RunMemory
	require.NoError(t, codec.Unmarshal(buf.Bytes(), &decoded))
	if diff := cmp.Diff(*mem, decoded); diff != "" {
		t.Errorf("run memory changed across JSON round trip (-want +got):\n%s", diff)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")

	r, err := New("text", path)
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), sampleMemory()))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Run run-42: FAILED")
}

func TestNewUnsupportedFormat(t *testing.T) {
	_, err := New("sarif", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sarif")
}

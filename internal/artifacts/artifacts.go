// File: internal/artifacts/artifacts.go
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Run owns one run's artifact directory: screenshots land in it while the
// run executes and the final report is written next to them.
type Run struct {
	id     string
	dir    string
	logger *zap.Logger
}

// NewRun creates a fresh artifact directory under baseDir, keyed by a new
// run id.
func NewRun(baseDir string, logger *zap.Logger) (*Run, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: failed to create run directory %s: %w", dir, err)
	}
	logger.Debug("Artifact directory created.", zap.String("run_id", id), zap.String("dir", dir))
	return &Run{id: id, dir: dir, logger: logger}, nil
}

func (r *Run) ID() string { return r.id }

func (r *Run) Dir() string { return r.dir }

// ScreenshotPath names the screenshot file for one attempt. Zero-padded step
// indices keep directory listings in execution order.
func (r *Run) ScreenshotPath(stepIndex, attempt int) string {
	return filepath.Join(r.dir, fmt.Sprintf("step_%02d_attempt_%d.png", stepIndex, attempt))
}

// WriteReport serializes the finished run into report.json and returns its
// path.
func (r *Run) WriteReport(mem *schemas.RunMemory) (string, error) {
	raw, err := codec.MarshalIndent(mem, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifacts: failed to marshal report: %w", err)
	}
	path := filepath.Join(r.dir, "report.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: failed to write report: %w", err)
	}
	return path, nil
}

// File: internal/ocr/tesseract.go
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// TesseractEngine extracts text from screenshots by shelling out to the
// tesseract binary. Extraction is best-effort by contract; callers map any
// error to empty text.
type TesseractEngine struct {
	binary    string
	languages []string
	timeout   time.Duration
	logger    *zap.Logger
}

func NewTesseractEngine(cfg config.OCRConfig, logger *zap.Logger) *TesseractEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "tesseract"
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TesseractEngine{
		binary:    binary,
		languages: languages,
		timeout:   timeout,
		logger:    logger.Named("ocr"),
	}
}

// ExtractText runs tesseract over the image and returns the recognized text.
func (e *TesseractEngine) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("ocr: image not readable: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.binary, imagePath, "stdout", "-l", strings.Join(e.languages, "+"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("ocr: %s timed out after %s", e.binary, e.timeout)
		}
		return "", fmt.Errorf("ocr: %s failed: %w (%s)", e.binary, err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	e.logger.Debug("OCR extraction complete.",
		zap.String("image", imagePath),
		zap.Duration("duration", time.Since(start)),
		zap.Int("chars", len(text)))
	return text, nil
}

// File: internal/browser/result.go
package browser

import (
	"encoding/json"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// toolResult is the payload shape of a tools/call response: ordered content
// chunks plus a server-side error marker.
type toolResult struct {
	Content []contentChunk `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentChunk struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func parseToolResult(raw json.RawMessage) toolResult {
	var res toolResult
	if err := codec.Unmarshal(raw, &res); err != nil {
		return toolResult{}
	}
	return res
}

// text flattens the result's text chunks into one newline-joined string.
func (r toolResult) text() string {
	var parts []string
	for _, chunk := range r.Content {
		if chunk.Type == "text" && chunk.Text != "" {
			parts = append(parts, chunk.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// syntheticResult builds a tool-result payload for outcomes produced locally
// (sleeps, snapshot fallbacks) so that shaping stays uniform.
func syntheticResult(text string, isError bool) json.RawMessage {
	raw, _ := codec.Marshal(toolResult{
		Content: []contentChunk{{Type: "text", Text: text}},
		IsError: isError,
	})
	return raw
}

var (
	failureTextPattern = regexp.MustCompile(
		`(?i)\b(error|failed|failure|timeout|no\s+clickable|no\s+editable|could\s+not\s+resolve|not\s+found)\b`)
	timeoutTextPattern = regexp.MustCompile(`(?i)\b(timed?\s*out|timeout)\b`)

	// Script results come back embedded in the text chunks, so the ok/success
	// markers are matched against the serialized form.
	negativeSignalPattern = regexp.MustCompile(`"(ok|success|status)"\s*:\s*false`)
)

func looksLikeFailureText(text string) bool { return failureTextPattern.MatchString(text) }

func looksLikeTimeoutText(text string) bool { return timeoutTextPattern.MatchString(text) }

func hasNegativeSignal(text string) bool { return negativeSignalPattern.MatchString(text) }

// scriptResultOK interprets the outcome of an evaluated script. Only an
// explicit negative marker fails it; positive and unmarked results pass.
func scriptResultOK(text string) bool {
	return !negativeSignalPattern.MatchString(text)
}

// firstFailureLine returns the first text line that reads like a failure, or
// the empty string when nothing does.
func firstFailureLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && looksLikeFailureText(line) {
			return line
		}
	}
	return ""
}

// File: internal/browser/result_test.go
//go:build !integration

package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptResultOK(t *testing.T) {
	testCases := []struct {
		name string
		text string
		ok   bool
	}{
		{"explicit positive", `{"ok":true,"tag":"a"}`, true},
		{"explicit negative", `{"ok":false,"reason":"no clickable element found"}`, false},
		{"negative success marker", `{"success": false}`, false},
		{"unmarked result", `{"tag":"button","text":"Submit"}`, true},
		{"empty", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, scriptResultOK(tc.text))
		})
	}
}

func TestFirstFailureLine(t *testing.T) {
	text := "Navigated to page\nelement not found on page\nerror: boom"
	assert.Equal(t, "element not found on page", firstFailureLine(text))
	assert.Empty(t, firstFailureLine("all good\nClicked element"))
}

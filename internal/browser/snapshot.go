// File: internal/browser/snapshot.go
package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// Page snapshots are rendered as indented text where interactive elements
// carry a uid marker, e.g.:
//
//	uid=1_23 button "Sign in"
//
// The uid is what the click and fill tools address elements by, so selectors
// that the scripted path cannot satisfy are resolved against the snapshot.
var (
	uidPattern      = regexp.MustCompile(`uid=(\d+_\d+)`)
	uidTokenPattern = regexp.MustCompile(`^\d+_\d+$`)
	roleSelector    = regexp.MustCompile(`(?i)^role\s*[:=]\s*([a-z0-9_-]+)$`)
	cssLikePattern  = regexp.MustCompile(`[#.\[\]>:+~]`)
)

func looksLikeCSSSelector(token string) bool {
	return cssLikePattern.MatchString(token)
}

func extractUID(line string) string {
	m := uidPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// resolveUID maps a plan selector onto a snapshot uid. Resolution order:
// a literal uid token, an explicit role selector, a preferred-role element
// whose line mentions the selector text, any preferred-role element, any
// line mentioning the text, then the first uid at all. CSS selectors are
// rejected; they carry structure a flattened snapshot cannot honor.
func resolveUID(snapshotText, selector string, preferredRoles []string) (string, error) {
	token := strings.TrimSpace(selector)
	if uidTokenPattern.MatchString(token) {
		return token, nil
	}

	var lines []string
	for _, line := range strings.Split(snapshotText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if m := roleSelector.FindStringSubmatch(token); m != nil {
		if uid := findUIDByRole(lines, strings.ToLower(m[1]), ""); uid != "" {
			return uid, nil
		}
		return "", fmt.Errorf("browser: no %q element in page snapshot", m[1])
	}

	isCSS := looksLikeCSSSelector(token)
	text := strings.Trim(token, `"'`)

	if !isCSS && text != "" {
		for _, role := range preferredRoles {
			if uid := findUIDByRole(lines, role, text); uid != "" {
				return uid, nil
			}
		}
	}
	if !isCSS {
		for _, role := range preferredRoles {
			if uid := findUIDByRole(lines, role, ""); uid != "" {
				return uid, nil
			}
		}
	}
	if !isCSS && text != "" {
		needle := strings.ToLower(text)
		for _, line := range lines {
			if uid := extractUID(line); uid != "" && strings.Contains(strings.ToLower(line), needle) {
				return uid, nil
			}
		}
	}

	if isCSS {
		return "", fmt.Errorf("browser: could not resolve element uid from CSS selector %q", selector)
	}
	for _, line := range lines {
		if uid := extractUID(line); uid != "" {
			return uid, nil
		}
	}
	return "", fmt.Errorf("browser: could not resolve element uid for selector %q", selector)
}

func findUIDByRole(lines []string, role, textMatch string) string {
	roleToken := " " + role + " "
	needle := strings.ToLower(textMatch)
	for _, line := range lines {
		uid := extractUID(line)
		if uid == "" {
			continue
		}
		lowered := " " + strings.ToLower(line) + " "
		if !strings.Contains(lowered, roleToken) {
			continue
		}
		if needle != "" && !strings.Contains(lowered, needle) {
			continue
		}
		return uid
	}
	return ""
}

// File: internal/agent/retry.go
package agent

// ShouldRetry is the entire retry policy. A step is re-attempted only when
// the current attempt surfaced an error and the per-step attempt ceiling
// has not been reached. Clean attempts never retry regardless of remaining
// headroom.
func ShouldRetry(attempt, maxAttempts int, hasError bool) bool {
	if !hasError {
		return false
	}
	return attempt < maxAttempts
}

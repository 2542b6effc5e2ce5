// File: internal/mcp/errors.go
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionClosed is returned for any call issued against, or still in
	// flight on, a closed session. It also signals an unexpected subprocess
	// exit, which is fatal to the run.
	ErrSessionClosed = errors.New("mcp: session closed")

	// ErrShutdownTimeout indicates the subprocess survived both the graceful
	// stop and the forced kill within their grace periods.
	ErrShutdownTimeout = errors.New("mcp: subprocess did not exit within the shutdown grace period")

	// ErrNotStarted is returned when the transport is used before Start.
	ErrNotStarted = errors.New("mcp: transport not started")

	// ErrAlreadyInitialized guards the one-initialize-per-session rule.
	ErrAlreadyInitialized = errors.New("mcp: session already initialized")

	// ErrNotReady is returned when a capability is invoked before the
	// initialize handshake completed.
	ErrNotReady = errors.New("mcp: session not ready, initialize first")
)

// SpawnError reports a failure to launch the capability subprocess. It is
// fatal to the run.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("mcp: failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError reports a failed write to the subprocess channel. Unrecoverable
// writes are fatal to the run.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("mcp: transport write failed: %v", e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// FrameError reports a single inbound frame that could not be decoded. The
// frame is dropped; the session only gives up after a bounded run of
// consecutive frame errors.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string { return fmt.Sprintf("mcp: malformed frame: %v", e.Err) }

func (e *FrameError) Unwrap() error { return e.Err }

// RemoteError is a JSON-RPC error object returned by the server for one
// specific call. It is recoverable: the retry policy decides what happens.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mcp: remote error %d: %s", e.Code, e.Message)
}

// TimeoutError indicates one call's deadline elapsed before its response
// arrived. Only that call is cancelled; the session stays usable.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp: call %q timed out after %s", e.Method, e.Timeout)
}

// IsFatal reports whether err must abort the whole run rather than feed the
// per-step retry signal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotStarted) {
		return true
	}
	var spawnErr *SpawnError
	var writeErr *WriteError
	return errors.As(err, &spawnErr) || errors.As(err, &writeErr)
}

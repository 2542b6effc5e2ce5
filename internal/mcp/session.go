// File: internal/mcp/session.go
// Description: The protocol session layer. Correlates requests with responses
// over the transport, demultiplexes notifications, and exposes a synchronous
// call interface. A single reader goroutine is the sole decoder of inbound
// frames and the single writer to pending-call resolution, so only the
// pending registry itself needs a lock.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// SessionState tracks the protocol handshake. Transitions are strictly
// uninitialized -> initializing -> ready -> closed; closed is terminal.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxConsecutiveFrameErrors bounds how long the reader tolerates an
// unparseable inbound stream before giving up. Individual malformed frames
// are dropped; a persistent run of them indicates the channel is garbage and
// must not hang the session forever.
const maxConsecutiveFrameErrors = 8

// NotificationHandler receives inbound frames that carry no correlation id.
type NotificationHandler func(method string, params json.RawMessage)

// ToolInfo describes one capability the server exposes.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InitializeResult is the server's half of the protocol handshake.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// callOutcome is the single-resolution slot of one pending call.
type callOutcome struct {
	result json.RawMessage
	err    error
}

// Session implements the MCP client session over a Transport.
type Session struct {
	tr     Transport
	logger *zap.Logger

	callTimeout     time.Duration
	protocolVersion string
	clientVersion   string

	state atomic.Int32

	mu      sync.Mutex
	pending map[int64]chan callOutcome
	nextID  atomic.Int64

	notifyMu sync.RWMutex
	notify   []NotificationHandler

	started    atomic.Bool
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// NewSession wraps a transport. The session owns the transport from Start
// through Close.
func NewSession(tr Transport, cfg config.MCPConfig, logger *zap.Logger) *Session {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	version := cfg.ProtocolVersion
	if version == "" {
		version = "2025-06-18"
	}
	return &Session{
		tr:              tr,
		logger:          logger.Named("session"),
		callTimeout:     timeout,
		protocolVersion: version,
		clientVersion:   "0.1.0",
		pending:         make(map[int64]chan callOutcome),
		readerDone:      make(chan struct{}),
	}
}

// Start launches the transport and the background reader.
func (s *Session) Start(ctx context.Context) error {
	if err := s.tr.Start(ctx); err != nil {
		return err
	}
	s.started.Store(true)
	go s.readLoop()
	return nil
}

// OnNotification registers a sink for unsolicited inbound messages.
// Registration is optional; without a sink notifications are discarded.
func (s *Session) OnNotification(h NotificationHandler) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notify = append(s.notify, h)
}

// State returns the current handshake state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Initialize performs the protocol handshake. It may be called exactly once
// per session and must precede any capability invocation.
func (s *Session) Initialize(ctx context.Context) (*InitializeResult, error) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if s.State() == StateClosed {
			return nil, ErrSessionClosed
		}
		return nil, ErrAlreadyInitialized
	}

	params := map[string]interface{}{
		"protocolVersion": s.protocolVersion,
		"clientInfo": map[string]string{
			"name":    "webpilot",
			"version": s.clientVersion,
		},
		"capabilities": map[string]interface{}{},
	}

	raw, err := s.call(ctx, "initialize", params)
	if err != nil {
		// The handshake never succeeded; allow a fresh session to be built
		// but do not let this one proceed to ready.
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return nil, err
	}

	var result InitializeResult
	if err := codec.Unmarshal(raw, &result); err != nil {
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return nil, &FrameError{Frame: raw, Err: err}
	}

	// Per the handshake, the client acknowledges with a notification before
	// issuing capability calls.
	frame, err := encodeRequest(nil, "notifications/initialized", map[string]interface{}{})
	if err == nil {
		err = s.tr.Send(frame)
	}
	if err != nil {
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return nil, err
	}

	s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
	s.logger.Info("Session ready",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion))
	return &result, nil
}

// ListTools returns the capabilities the server exposes.
func (s *Session) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	raw, err := s.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := codec.Unmarshal(raw, &payload); err != nil {
		return nil, &FrameError{Frame: raw, Err: err}
	}
	return payload.Tools, nil
}

// CallTool invokes one named capability and returns its raw result payload.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return s.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
}

func (s *Session) requireReady() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotReady
	}
}

// call registers a pending call, writes the request, and blocks until the
// matching response arrives, the deadline elapses, or the session closes.
// Multiple calls may be outstanding concurrently; each has its own
// correlation id and resolution slot.
func (s *Session) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}

	id := s.nextID.Add(1)
	ch := make(chan callOutcome, 1)

	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	frame, err := encodeRequest(&id, method, params)
	if err != nil {
		s.unregister(id)
		return nil, err
	}
	if err := s.tr.Send(frame); err != nil {
		s.unregister(id)
		return nil, err
	}

	// A caller-supplied deadline wins; otherwise the session default applies.
	// The effective wait is what a TimeoutError reports.
	timeout := s.callTimeout
	callCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline).Round(time.Millisecond)
	} else {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-callCtx.Done():
		s.unregister(id)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, Timeout: timeout}
		}
		return nil, callCtx.Err()
	}
}

func (s *Session) unregister(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop is the single continuously-running decoder of inbound frames. It
// resolves responses by correlation id, dispatches notifications, and fails
// every pending call with ErrSessionClosed once the channel ends.
func (s *Session) readLoop() {
	defer close(s.readerDone)

	frameErrors := 0
	for {
		frame, err := s.tr.Receive()
		if err != nil {
			if s.State() != StateClosed {
				s.logger.Warn("Inbound channel closed", zap.Error(err))
			}
			s.shutdownPending()
			return
		}

		msg, derr := decodeMessage(frame)
		if derr != nil {
			frameErrors++
			s.logger.Warn("Dropping malformed frame",
				zap.Error(derr),
				zap.Int("consecutive", frameErrors))
			if frameErrors >= maxConsecutiveFrameErrors {
				s.logger.Error("Inbound stream persistently unparseable, closing session")
				s.shutdownPending()
				return
			}
			continue
		}
		frameErrors = 0

		switch {
		case msg.ID != nil:
			s.resolve(*msg.ID, msg)
		case msg.isNotification():
			s.dispatchNotification(msg)
		}
	}
}

// shutdownPending marks the session closed and resolves every outstanding
// call so no caller is left blocked.
func (s *Session) shutdownPending() {
	s.state.Store(int32(StateClosed))
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		ch <- callOutcome{err: ErrSessionClosed}
		delete(s.pending, id)
	}
}

// resolve delivers a response to its pending call. A response with no match
// is a protocol anomaly, logged and dropped rather than treated as fatal.
func (s *Session) resolve(id int64, msg *message) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("Response with unknown correlation id dropped", zap.Int64("id", id))
		return
	}

	if msg.Error != nil {
		ch <- callOutcome{err: &RemoteError{
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    msg.Error.Data,
		}}
		return
	}
	ch <- callOutcome{result: msg.Result}
}

func (s *Session) dispatchNotification(msg *message) {
	s.notifyMu.RLock()
	handlers := s.notify
	s.notifyMu.RUnlock()

	if len(handlers) == 0 {
		s.logger.Debug("Discarding notification without sink", zap.String("method", msg.Method))
		return
	}
	for _, h := range handlers {
		h(msg.Method, msg.Params)
	}
}

// Close tears the session down: every outstanding call resolves with
// ErrSessionClosed, the reader stops, and the transport is stopped.
// Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.shutdownPending()
		s.closeErr = s.tr.Stop(ctx)
		if s.started.Load() {
			select {
			case <-s.readerDone:
			case <-time.After(5 * time.Second):
				s.logger.Warn("Reader did not exit promptly after transport stop")
			case <-ctx.Done():
			}
		}
	})
	return s.closeErr
}

// File: internal/mcp/transport.go
// Description: Owns the capability subprocess and its line-framed stdio
// channel. The transport has no protocol knowledge; it moves raw frames and
// guarantees the child process is reaped on Stop.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// Transport abstracts the framed byte channel to the capability subprocess.
// Receive yields a single forward-only sequence of frames that ends when the
// channel closes; only one goroutine may call Receive.
type Transport interface {
	Start(ctx context.Context) error
	Send(frame []byte) error
	Receive() ([]byte, error)
	Stop(ctx context.Context) error
}

// StdioTransport runs an external command and frames messages as one JSON
// value per line over its stdin/stdout. No other component may touch the
// child's streams.
type StdioTransport struct {
	command string
	args    []string
	dir     string
	grace   time.Duration
	logger  *zap.Logger

	mu      sync.Mutex // guards stdin writes and lifecycle state
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	started bool
	stopped bool
}

// NewStdioTransport builds a transport for the configured server command.
// Nothing is spawned until Start.
func NewStdioTransport(cfg config.MCPConfig, logger *zap.Logger) *StdioTransport {
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &StdioTransport{
		command: cfg.Command,
		args:    cfg.Args,
		dir:     cfg.WorkDir,
		grace:   grace,
		logger:  logger.Named("transport"),
	}
}

// Start spawns the subprocess and wires up its streams. It fails with a
// SpawnError if the command cannot be launched.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = t.dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Command: t.command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Command: t.command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Command: t.command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Command: t.command, Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 64*1024)
	t.started = true

	// Wait is deliberately deferred to Stop: calling it while the reader
	// still drains stdout would close the pipe under the reader's feet.
	go t.drainStderr(stderr)

	t.logger.Debug("Capability subprocess started",
		zap.String("command", t.command),
		zap.Strings("args", t.args),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// drainStderr keeps the child's stderr pipe from filling up and surfaces its
// diagnostics at debug level.
func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.Debug("Subprocess stderr", zap.String("line", scanner.Text()))
	}
}

// Send writes one frame followed by the line delimiter. Writes are
// serialized; a failed or post-Stop write surfaces as a WriteError.
func (t *StdioTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return &WriteError{Err: ErrNotStarted}
	}
	if t.stopped {
		return &WriteError{Err: ErrSessionClosed}
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := t.stdin.Write(buf); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Receive blocks for the next complete frame. It returns io.EOF once the
// channel closes. Empty lines are skipped; a frame larger than the buffer is
// accumulated until its newline arrives.
func (t *StdioTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	started := t.started
	t.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	for {
		line, err := reader.ReadBytes('\n')
		frame := bytes.TrimSpace(line)
		if len(frame) > 0 {
			// A final unterminated frame is still a frame.
			return frame, nil
		}
		if err != nil {
			// Reads against a pipe reaped by Stop surface as fs.ErrClosed;
			// either way the forward-only sequence has ended.
			if errors.Is(err, fs.ErrClosed) {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// Stop performs a scoped shutdown: close stdin so the child sees EOF, wait
// out the grace period, then kill. After Stop returns (or fails with
// ErrShutdownTimeout) the child is guaranteed not to be left running, short
// of an unkillable process.
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if err := stdin.Close(); err != nil {
		t.logger.Debug("Closing subprocess stdin failed", zap.Error(err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		t.logExit(err)
		return nil
	case <-time.After(t.grace):
	case <-ctx.Done():
	}

	t.logger.Warn("Subprocess did not exit gracefully, killing",
		zap.Duration("grace", t.grace))
	if err := cmd.Process.Kill(); err != nil {
		t.logger.Debug("Kill failed", zap.Error(err))
	}

	select {
	case err := <-waitCh:
		t.logExit(err)
		return nil
	case <-time.After(t.grace):
		return ErrShutdownTimeout
	}
}

func (t *StdioTransport) logExit(err error) {
	if err != nil {
		t.logger.Debug("Subprocess exited", zap.Error(err))
		return
	}
	t.logger.Debug("Subprocess exited cleanly")
}

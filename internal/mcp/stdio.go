package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nugget/relay/internal/config"
)

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the current environment.
	Env []string

	// Dir is the working directory of the subprocess. Empty means
	// relay's own working directory.
	Dir string

	// Logger receives transport diagnostics and the server's stderr.
	Logger *slog.Logger
}

// stopTimeout is how long Close waits for the subprocess to exit after
// its stdin is closed before killing it.
const stopTimeout = 5 * time.Second

// StdioTransport owns one MCP server subprocess and implements
// LineTransport over its stdin and stdout.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	closed bool
}

// NewStdioTransport creates a stdio transport for the given config.
// The subprocess is not started until Start is called.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
	}
}

// Start launches the subprocess with its own stdin, stdout and stderr
// pipes. The subprocess lifetime is independent of ctx; only Close or
// a failed read ends it.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return nil
	}
	if t.closed {
		return fmt.Errorf("%w: transport already closed", ErrProcessStart)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessStart, err)
	}

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Dir = t.config.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdin pipe: %v", ErrProcessStart, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: create stdout pipe: %v", ErrProcessStart, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("%w: create stderr pipe: %v", ErrProcessStart, err)
	}

	if err := cmd.Start(); err != nil {
		stderr.Close()
		stdout.Close()
		stdin.Close()
		return fmt.Errorf("%w: %s: %v", ErrProcessStart, t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20) // tool results can be large

	go t.drainStderr(stderr)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// drainStderr forwards stderr to the logger one line at a time until
// the pipe closes. Lines that look like errors are logged at Warn.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if _, _, isErr := DetectError(line); isErr {
			t.logger.Warn("MCP subprocess stderr", "line", line)
			continue
		}
		t.logger.Debug("MCP subprocess stderr", "line", line)
	}
}

// SendLine writes line and a newline to the subprocess stdin in a single
// write. The pipe is unbuffered, so the data is flushed on return.
func (t *StdioTransport) SendLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}

	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("%w: subprocess not running", ErrTransportWrite)
	}

	t.logger.Log(ctx, config.LevelTrace, "MCP send", "line", string(line))

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWrite, err)
	}
	return nil
}

// readResult is the outcome of a single line read from stdout.
type readResult struct {
	line []byte
	err  error
}

// ReadLine blocks until the subprocess writes a full line to stdout.
// The read runs in a goroutine so that ctx can interrupt it; when ctx
// ends first the subprocess is killed, because a reply arriving later
// could no longer be matched to its request.
func (t *StdioTransport) ReadLine(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return nil, fmt.Errorf("%w: subprocess not running", ErrTransportClosed)
	}

	ch := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		t.logger.Warn("MCP read interrupted, terminating subprocess", "error", ctx.Err())
		t.kill()
		return nil, fmt.Errorf("%w: %w", ErrTransportClosed, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil, fmt.Errorf("%w: subprocess stdout reached end of stream", ErrTransportClosed)
			}
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, res.err)
		}
		line := bytes.TrimRight(res.line, "\r\n")
		t.logger.Log(ctx, config.LevelTrace, "MCP recv", "line", string(line))
		return line, nil
	}
}

// Close closes stdin so the subprocess can exit on its own, waits up to
// five seconds and then kills it. Close is safe to call more than once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	cmd := t.cmd
	t.logger.Info("stopping MCP subprocess", "pid", cmd.Process.Pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopTimeout):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing",
			"pid", cmd.Process.Pid,
		)
		_ = cmd.Process.Kill()
		<-done
	}

	t.cmd = nil
	t.stdin = nil
	t.reader = nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A server that dies on stdin EOF is not an error worth surfacing.
		t.logger.Debug("MCP subprocess exited", "status", exitErr.ExitCode())
		return nil
	}
	return err
}

// kill terminates the subprocess without waiting for a graceful exit.
// Later reads and writes fail; Close still reaps the process.
func (t *StdioTransport) kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil {
		t.stdin.Close()
		t.stdin = nil
	}
	t.reader = nil
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Pid returns the subprocess ID, or 0 when it is not running.
func (t *StdioTransport) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

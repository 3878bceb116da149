// Package process manages provider CLI subprocesses.
//
// Every provider integration speaks a different wire dialect, but they all
// share the same plumbing: a spawned command, a line-oriented stdout stream,
// a stderr stream worth keeping for diagnostics, and a lifecycle that ends in
// exactly one terminal status. Handle owns that plumbing; the provider
// packages own the protocol.
//
// Example usage:
//
//	h, err := process.NewBuilder(ctx).
//	    WithExecutable("cursor-agent", args).
//	    WithWorkDir(workDir).
//	    WithName("cursor").
//	    WithStderrCapture(true).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	for line := range h.Lines() {
//	    // parse provider JSON
//	}
//	h.Wait()
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/zjrosen/chorus/internal/log"
)

// ErrTimeout is returned when a process exceeds its configured timeout.
var ErrTimeout = fmt.Errorf("process timed out")

// stderrTailLimit bounds captured stderr. Long-lived agent processes can be
// chatty on stderr for hours; only the most recent lines matter for error
// messages.
const stderrTailLimit = 20

// StderrFilterFunc decides whether a stderr line is worth keeping.
// Return false to drop the line from both the log and the captured tail.
type StderrFilterFunc func(line string) bool

// Option is a functional option for configuring a Handle.
type Option func(*Handle)

// WithStderrCapture enables stderr tail capture for error messages.
func WithStderrCapture(capture bool) Option {
	return func(h *Handle) {
		h.captureStderr = capture
	}
}

// WithStderrFilter sets a filter applied to every stderr line before it is
// logged or captured.
func WithStderrFilter(fn StderrFilterFunc) Option {
	return func(h *Handle) {
		h.stderrFilter = fn
	}
}

// WithName sets the provider name for logging.
func WithName(name string) Option {
	return func(h *Handle) {
		h.name = name
	}
}

// Handle provides common lifecycle management for a provider subprocess.
// Stdout is delivered line by line on Lines(); protocol parsing is the
// caller's job.
type Handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	workDir string
	name    string

	lines  chan string
	errs   chan error
	done   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	mu     sync.RWMutex
	wg     sync.WaitGroup

	status     Status
	stderrTail []string

	captureStderr bool
	stderrFilter  StderrFilterFunc
}

// NewHandle creates a Handle around an already-piped command.
// The cmd must have its stdout and stderr pipes created (and stdin, if needed)
// but not yet be started.
func NewHandle(
	ctx context.Context,
	cancel context.CancelFunc,
	cmd *exec.Cmd,
	stdout io.ReadCloser,
	stderr io.ReadCloser,
	workDir string,
	opts ...Option,
) *Handle {
	h := &Handle{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		workDir: workDir,
		status:  StatusPending,
		lines:   make(chan string, 100),
		errs:    make(chan error, 10),
		done:    make(chan struct{}),
		cancel:  cancel,
		ctx:     ctx,
		name:    "unknown",
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// SetStdin sets the stdin writer for providers that drive the process
// interactively (codex, the ACP agents).
func (h *Handle) SetStdin(stdin io.WriteCloser) {
	h.stdin = stdin
}

// Lines returns the channel of stdout lines. Empty lines are skipped.
// The channel is closed when stdout is exhausted or the context ends.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Errors returns the channel of process errors.
// Sends are non-blocking; errors are dropped if the channel is full.
// The channel is closed after the process exits.
func (h *Handle) Errors() <-chan error {
	return h.errs
}

// Done returns a channel closed once the process has exited and its final
// status is recorded. Unlike Errors, Done can be observed by any number of
// goroutines.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the current process status. Thread-safe.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsRunning returns true if the process is actively running.
func (h *Handle) IsRunning() bool {
	return h.Status() == StatusRunning
}

// WorkDir returns the working directory of the process.
func (h *Handle) WorkDir() string {
	return h.workDir
}

// Name returns the provider name used for logging.
func (h *Handle) Name() string {
	return h.name
}

// PID returns the OS process ID, or -1 if not running.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Stdin returns the stdin writer, or nil if not configured.
func (h *Handle) Stdin() io.WriteCloser {
	return h.stdin
}

// Context returns the process context.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Cmd returns the underlying exec.Cmd.
func (h *Handle) Cmd() *exec.Cmd {
	return h.cmd
}

// StderrTail returns the most recent captured stderr lines. Thread-safe.
func (h *Handle) StderrTail() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]string, len(h.stderrTail))
	copy(result, h.stderrTail)
	return result
}

// CaptureStderr returns whether stderr capture is enabled.
func (h *Handle) CaptureStderr() bool {
	return h.captureStderr
}

// SetStatus updates the process status. Thread-safe.
func (h *Handle) SetStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// SendError attempts to send an error to the errors channel.
// If the channel is full, the error is logged but not sent to avoid blocking.
func (h *Handle) SendError(err error) {
	select {
	case h.errs <- err:
	default:
		log.Debug(log.CatProcess, "error channel full, dropping error",
			"provider", h.name, "error", err)
	}
}

// Cancel cancels the process. It sets the status to Cancelled before calling
// the cancel function to prevent races with the exit waiter.
// Cancel is a no-op if the process is already in a terminal status.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	if h.status.IsTerminal() {
		h.mu.Unlock()
		return nil
	}
	h.status = StatusCancelled
	h.mu.Unlock()
	h.cancel()
	return nil
}

// Wait blocks until all process goroutines complete.
func (h *Handle) Wait() error {
	h.wg.Wait()
	return nil
}

// StartGoroutines launches the three goroutines that stream stdout lines,
// drain stderr, and wait for process exit. Call this after the process is
// started.
func (h *Handle) StartGoroutines() {
	h.wg.Add(3)
	go h.scanStdout()
	go h.scanStderr()
	go h.waitForExit()
}

// scanStdout reads stdout line by line and forwards non-empty lines.
func (h *Handle) scanStdout() {
	defer h.wg.Done()
	defer close(h.lines)

	scanner := bufio.NewScanner(h.stdout)
	// Increase buffer size for large outputs (64KB initial, 1MB max)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		select {
		case h.lines <- line:
		case <-h.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatProcess, "scanner error",
			"provider", h.name, "error", err)
		h.SendError(fmt.Errorf("stdout scanner error: %w", err))
	}
}

// scanStderr reads and logs stderr output.
// If captureStderr is enabled, a bounded tail is kept for error messages.
func (h *Handle) scanStderr() {
	defer h.wg.Done()

	scanner := bufio.NewScanner(h.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if h.stderrFilter != nil && !h.stderrFilter(line) {
			continue
		}
		log.Debug(log.CatProcess, "STDERR", "provider", h.name, "line", line)

		if h.captureStderr {
			h.mu.Lock()
			h.stderrTail = append(h.stderrTail, line)
			if len(h.stderrTail) > stderrTailLimit {
				h.stderrTail = h.stderrTail[len(h.stderrTail)-stderrTailLimit:]
			}
			h.mu.Unlock()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug(log.CatProcess, "stderr scanner error",
			"provider", h.name, "error", err)
	}
}

// waitForExit waits for the process to exit and records the final status.
// It closes the errors channel and the done channel to signal completion.
func (h *Handle) waitForExit() {
	defer h.wg.Done()
	defer close(h.done)
	defer close(h.errs)

	err := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	// If already cancelled, don't override status
	if h.status == StatusCancelled {
		log.Debug(log.CatProcess, "process was cancelled", "provider", h.name)
		return
	}

	if errors.Is(h.ctx.Err(), context.DeadlineExceeded) {
		h.status = StatusFailed
		log.Debug(log.CatProcess, "process timed out", "provider", h.name)
		h.SendError(ErrTimeout)
		return
	}

	if err != nil {
		h.status = StatusFailed
		// Include the stderr tail in the error message if captured
		if h.captureStderr && len(h.stderrTail) > 0 {
			stderrMsg := strings.Join(h.stderrTail, "\n")
			h.SendError(fmt.Errorf("%s process failed: %s (exit: %w)", h.name, stderrMsg, err))
		} else {
			h.SendError(fmt.Errorf("%s process exited: %w", h.name, err))
		}
	} else {
		h.status = StatusCompleted
	}
}

package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/zjrosen/chorus/internal/log"
)

// termGrace is how long a process gets to exit after SIGTERM before it is
// killed.
const termGrace = 2 * time.Second

// CommandFactoryFunc creates an exec.Cmd for testing purposes.
// It receives the context, executable path, and arguments.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Builder provides a fluent API for spawning provider processes.
// It consolidates the common spawn boilerplate (context setup, pipe creation,
// process start) while preserving per-provider flexibility.
type Builder struct {
	ctx            context.Context
	timeout        time.Duration
	execPath       string
	args           []string
	workDir        string
	env            []string
	name           string
	captureStderr  bool
	stderrFilter   StderrFilterFunc
	needsStdin     bool
	commandFactory CommandFactoryFunc
}

// NewBuilder creates a new Builder with the given context.
func NewBuilder(ctx context.Context) *Builder {
	return &Builder{
		ctx:  ctx,
		name: "unknown",
	}
}

// WithExecutable sets the executable path and arguments.
func (b *Builder) WithExecutable(path string, args []string) *Builder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the working directory for the process.
func (b *Builder) WithWorkDir(dir string) *Builder {
	b.workDir = dir
	return b
}

// WithTimeout sets the process timeout. If d is 0 or negative,
// a cancel-only context is created instead of a timeout context.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// WithEnv sets additional environment variables to append to os.Environ().
// Variables are in the format "KEY=VALUE".
func (b *Builder) WithEnv(env []string) *Builder {
	b.env = env
	return b
}

// WithName sets the provider name for logging and error messages.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithStderrCapture enables stderr tail capture for error messages.
func (b *Builder) WithStderrCapture(capture bool) *Builder {
	b.captureStderr = capture
	return b
}

// WithStderrFilter sets a filter applied to stderr lines before logging
// and capture.
func (b *Builder) WithStderrFilter(fn StderrFilterFunc) *Builder {
	b.stderrFilter = fn
	return b
}

// WithStdin enables stdin pipe creation.
// After Build(), use Handle.Stdin() to access the pipe.
func (b *Builder) WithStdin(enabled bool) *Builder {
	b.needsStdin = enabled
	return b
}

// WithCommandFactory sets a custom command factory for testing.
// This allows unit tests to mock exec.Command without spawning real processes.
func (b *Builder) WithCommandFactory(fn CommandFactoryFunc) *Builder {
	b.commandFactory = fn
	return b
}

// Build validates the configuration, creates the process, and starts it.
// Returns the configured Handle or an error.
//
// Build performs the following steps:
//  1. Validates required fields (execPath)
//  2. Creates context with timeout (if configured) or cancel-only
//  3. Creates exec.Cmd (using commandFactory if set)
//  4. Creates pipes (stdin if needsStdin, stdout, stderr)
//  5. Starts the process and its reader goroutines
//
// On error, all created resources are cleaned up.
func (b *Builder) Build() (*Handle, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("process builder: executable path is required")
	}

	// Create context with timeout or cancel-only
	var procCtx context.Context
	var cancel context.CancelFunc
	if b.timeout > 0 {
		procCtx, cancel = context.WithTimeout(b.ctx, b.timeout)
	} else {
		procCtx, cancel = context.WithCancel(b.ctx)
	}

	// Track resources for cleanup on error
	var cmd *exec.Cmd
	var stdin io.WriteCloser
	var stdout io.ReadCloser
	var stderr io.ReadCloser

	cleanup := func() {
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
		if stdout != nil {
			_ = stdout.Close()
		}
		if stderr != nil {
			_ = stderr.Close()
		}
	}

	// Create command
	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, b.execPath, b.args...)
	} else {
		// #nosec G204 -- args are assembled by the provider adapters, not user input
		cmd = exec.CommandContext(procCtx, b.execPath, b.args...)
	}
	cmd.Dir = b.workDir

	// On cancellation, ask nicely first and kill after the grace period.
	// Cancel can only be set on context-created commands.
	if cmd.Cancel != nil {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = termGrace
	}

	// Set environment variables (append to os.Environ())
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	// Create stdin pipe if needed
	if b.needsStdin {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("process builder: failed to create stdin pipe: %w", err)
		}
	}

	// Create stdout pipe
	var err error
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("process builder: failed to create stdout pipe: %w", err)
	}

	// Create stderr pipe
	stderr, err = cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("process builder: failed to create stderr pipe: %w", err)
	}

	opts := []Option{
		WithName(b.name),
		WithStderrCapture(b.captureStderr),
	}
	if b.stderrFilter != nil {
		opts = append(opts, WithStderrFilter(b.stderrFilter))
	}

	h := NewHandle(
		procCtx,
		cancel,
		cmd,
		stdout,
		stderr,
		b.workDir,
		opts...,
	)

	if stdin != nil {
		h.SetStdin(stdin)
	}

	log.Debug(log.CatProcess, "Spawning process",
		"provider", b.name,
		"execPath", b.execPath,
		"workDir", b.workDir)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("process builder: failed to start %s process: %w", b.name, err)
	}

	log.Debug(log.CatProcess, "Process started",
		"provider", b.name,
		"pid", cmd.Process.Pid)

	h.SetStatus(StatusRunning)

	h.StartGoroutines()

	return h, nil
}

package provider

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/zjrosen/chorus/internal/provider/process"
)

// probeTimeout bounds availability probes. A CLI that cannot print its help
// text in ten seconds is not going to run a turn either.
const probeTimeout = 10 * time.Second

// Probe runs a CLI availability command and returns its combined output.
// The factory seam lets tests intercept the command; a nil factory uses
// exec.CommandContext directly.
func Probe(ctx context.Context, factory process.CommandFactoryFunc, bin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if factory != nil {
		cmd = factory(ctx, bin, args...)
	} else {
		// #nosec G204 -- bin and args are fixed per adapter, not user input
		cmd = exec.CommandContext(ctx, bin, args...)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// IsNotFound reports whether a probe error means the binary is missing from
// PATH, as opposed to present but failing.
func IsNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound)
}

// Package gh wraps the GitHub CLI for run listing and artifact download.
package gh

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and captures its combined output.
// Tests inject a fake implementation to avoid depending on the gh binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (exitCode int, combined string)
}

// ExecRunner runs commands via os/exec. A non-zero Timeout bounds each
// invocation; zero means the command blocks until completion.
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes the command and returns its exit code with combined
// stdout/stderr. A command that cannot be started (e.g. binary missing)
// reports exit code -1 with the error text as output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimRight(buf.String(), "\n")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), out
		}
		if out == "" {
			out = err.Error()
		}
		return -1, out
	}
	return 0, out
}

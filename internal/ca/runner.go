package ca

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned by a ProcessRunner when the command outlives its timeout
var ErrTimeout = errors.New("process timed out")

// Command describes one subprocess invocation
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Result is the outcome of a subprocess that ran to completion
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProcessRunner runs external commands. A non-zero exit is reported in the
// Result; the error is reserved for spawn failures and timeouts.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run executes the command, killing it when the timeout or ctx expires
func (ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = 2 * time.Second

	err := c.Run()
	res := &Result{
		ExitCode: c.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%s: %w", cmd.Path, ErrTimeout)
		}
		return res, fmt.Errorf("%s: %w", cmd.Path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, nil
	}

	return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
}

// Package process runs external tools (the renderer, the image converter) and
// reports how they exited.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/3cpo-dev/framefarm/internal/telemetry"
)

type Command struct {
	Path string
	Args []string
	Dir  string
	// Env replaces the process environment when non-nil.
	Env []string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output joins stderr and stdout for logging.
func (r Result) Output() string {
	out := strings.TrimSpace(r.Stderr + "\n" + r.Stdout)
	if out == "" {
		return "No program output"
	}
	return out
}

// Error reports a process that could not be started or exited non-zero.
// ExitCode is -1 when the process never ran.
type Error struct {
	Path     string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.Path, e.ExitCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes a command to completion. Cancelling ctx kills the process.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	labels := map[string]string{"component": "process", "tool": filepath.Base(c.Path)}
	telemetry.TimerGlobal("framefarm_process_duration", res.Duration, labels)

	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			res.ExitCode = exit.ExitCode()
		} else {
			res.ExitCode = -1
		}
		telemetry.CounterGlobal("framefarm_process_failed", 1, labels)
		return res, &Error{Path: c.Path, ExitCode: res.ExitCode, Err: err}
	}
	return res, nil
}

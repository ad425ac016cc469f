// Package executor runs one shell command line to completion and reports its outcome.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

var (
	// ErrLaunch is returned when the child process could not be started.
	ErrLaunch = errors.New("command launch failed")
	// ErrTimeout is returned when an explicit per-command timeout fired.
	ErrTimeout = errors.New("command timed out")
)

const (
	// maxStderr caps how much stderr is kept for diagnostics.
	maxStderr = 4 << 10
	waitDelay = time.Second
)

// Result is the outcome of one command execution.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Executor runs command lines through the host shell.
type Executor interface {
	Run(ctx context.Context, command string) (Result, error)
}

// Shell runs commands with `sh -c` (or `cmd /C` on Windows).
//
// Timeout bounds a single Run. Zero means no timeout: a hung command holds its caller
// until it exits.
type Shell struct {
	Timeout time.Duration
}

func (s Shell) Run(ctx context.Context, command string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	name, args := shellArgs(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	// Grandchildren may keep the output pipes open after the shell is killed.
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	stderr := &capWriter{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Duration: time.Since(start), ExitCode: -1}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	err := cmd.Wait()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		// ExitCode is -1 when the process was terminated by a signal.
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if s.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("%w after %s", ErrTimeout, s.Timeout)
	}
	// A killed child also reports an ExitError; its partial stdout must not be interpreted.
	if err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is a normal outcome; stdout is still interpreted.
			return res, nil
		}
		return res, fmt.Errorf("wait: %w", err)
	}
	return res, nil
}

// shellArgs is a variable so tests can point it at a missing binary.
var shellArgs = hostShell

func hostShell(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// capWriter keeps the first max bytes written and silently discards the rest.
type capWriter struct {
	buf bytes.Buffer
	max int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

func (w *capWriter) Bytes() []byte { return w.buf.Bytes() }

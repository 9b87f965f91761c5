package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Runner launches the benchmark binary, one invocation at a time.
type Runner struct {
	Name   string
	Env    []string
	Dir    string
	Logger *slog.Logger

	// WaitDelay bounds how long Run waits for output pipes after the
	// process was killed on timeout.
	WaitDelay time.Duration
}

// NewRunner creates a Runner. Env is appended to the inherited environment.
func NewRunner(name string, env []string, logger *slog.Logger) *Runner {
	return &Runner{
		Name:      name,
		Env:       env,
		Logger:    logger.With(slog.String("runner", name)),
		WaitDelay: 5 * time.Second,
	}
}

// Run executes inv and waits for it to exit. Standard output and standard
// error are captured together. A positive timeout bounds the invocation.
// The returned Result is non-nil even when err is non-nil.
func (r *Runner) Run(
	ctx context.Context,
	inv Invocation,
	timeout time.Duration,
) (*Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Binary, inv.Args...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = r.WaitDelay

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.Logger.DebugContext(ctx, "starting benchmark",
		slog.String("binary", inv.Binary),
		slog.Any("args", inv.Args),
	)

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Outcome:  OutcomeSuccess,
		Output:   out.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Wall:     time.Since(start),
	}

	if err == nil {
		r.Logger.DebugContext(ctx, "benchmark finished",
			slog.Duration("wall_time", res.Wall),
		)

		return res, nil
	}

	res.Outcome = OutcomeError

	// The caller gave up; that is not an outcome of the benchmark.
	if ctx.Err() != nil {
		return res, fmt.Errorf("benchmark %s: %w", r.Name, ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.Outcome = OutcomeTimeout

		return res, fmt.Errorf(
			"benchmark %s after %s: %w", r.Name, timeout, ErrTimeout,
		)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{
			Name:   r.Name,
			Code:   exitErr.ExitCode(),
			Output: res.Output,
			Err:    err,
		}
	}

	return res, fmt.Errorf("start benchmark %s: %w", r.Name, err)
}

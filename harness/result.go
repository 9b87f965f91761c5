// Package harness runs the external benchmark binary and classifies the
// outcome of each invocation.
package harness

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an invocation exceeds its time limit.
var ErrTimeout = errors.New("benchmark timed out")

// Outcome classifies one invocation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Invocation is one command line of the benchmark binary.
type Invocation struct {
	Binary string
	Args   []string
}

// Result holds the captured output of one invocation.
type Result struct {
	Outcome  Outcome
	Output   string
	ExitCode int
	Wall     time.Duration
}

// ExitError reports a benchmark that exited with a non-zero status.
type ExitError struct {
	Name   string
	Code   int
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf(
		"benchmark %s exited with code %d: %v\noutput: %s",
		e.Name, e.Code, e.Err, tail(e.Output, maxErrorOutput),
	)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

const maxErrorOutput = 2048

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return "..." + s[len(s)-n:]
}

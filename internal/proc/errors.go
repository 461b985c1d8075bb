package proc

import (
	"errors"
	"fmt"
	"time"
)

// ErrBinaryNotFound indicates the agent binary could not be resolved on
// PATH. Callers match it with errors.Is and print install guidance.
var ErrBinaryNotFound = errors.New("binary not found")

// TimeoutError indicates the subprocess exceeded its configured timeout
// and was terminated by the runner.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Timeout)
}

// CancelledError indicates the caller's context was cancelled while the
// subprocess was running. It wraps the context error so errors.Is
// matching against context.Canceled keeps working.
type CancelledError struct {
	Command string
	Err     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Command, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

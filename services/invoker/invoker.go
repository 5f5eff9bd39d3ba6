package invoker

import (
	"context"
	"time"
)

// Outcome is the result of a single invocation attempt against one backend.
// A timed-out attempt is distinguishable from an ordinary failure so the
// caller can tell "ran out of time" apart from "backend returned an error".
type Outcome struct {
	// Success is true when the backend returned a usable result.
	Success bool `json:"success"`

	// BackendID is the backend that handled (or failed) the attempt.
	BackendID string `json:"backend_id"`

	// Output is the raw output text on success.
	Output string `json:"output,omitempty"`

	// ErrorText is the raw error text on failure.
	ErrorText string `json:"error,omitempty"`

	// StatusCode is the process exit code, -1 when the process never
	// completed (timeout, spawn failure).
	StatusCode int `json:"status_code"`

	// TimedOut is true when the attempt could not complete within its deadline.
	TimedOut bool `json:"timed_out"`
}

// Invoker performs one synchronous invocation against a backend. Implementations
// must return promptly once the deadline expires, reporting a timed-out Outcome
// rather than blocking indefinitely.
type Invoker interface {
	Invoke(ctx context.Context, backendID, prompt string, deadline time.Duration) Outcome
}

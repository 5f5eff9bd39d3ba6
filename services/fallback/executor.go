package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ueno-ryu/fallback-gateway/services/invoker"
	"go.uber.org/zap"
)

// Status is the terminal state of one Execute call.
type Status string

const (
	// StatusSucceeded means a backend returned a usable result.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means a non-recoverable error (timeout or non-quota
	// backend error) aborted the run.
	StatusFailed Status = "failed"

	// StatusExhausted means the full retry/rotate/cycle budget was spent
	// without success; the caller is expected to take over by other means.
	StatusExhausted Status = "exhausted"
)

const (
	// DefaultMaxRetriesPerBackend bounds attempts against one backend
	// before rotating to the next.
	DefaultMaxRetriesPerBackend = 3

	// DefaultMaxCycles bounds full passes through the backend list.
	DefaultMaxCycles = 3

	// DefaultAttemptTimeout bounds a single invocation, not the whole run.
	DefaultAttemptTimeout = 60 * time.Second

	// DefaultRetryBackoff is the pause before re-attempting the same backend.
	DefaultRetryBackoff = 5 * time.Second

	// DefaultCycleBackoff is the pause before restarting from the first backend.
	DefaultCycleBackoff = 2 * time.Second
)

// Options tune one Execute call. The zero value selects all defaults.
type Options struct {
	// MaxRetriesPerBackend bounds attempts against one backend (default 3).
	MaxRetriesPerBackend int

	// MaxCycles bounds full passes through the backend list (default 3).
	MaxCycles int

	// AttemptTimeout bounds a single invocation (default 60s). It does not
	// bound the whole Execute call.
	AttemptTimeout time.Duration

	// Verbose emits per-attempt progress lines at info level. It has no
	// effect on the returned Result.
	Verbose bool
}

// normalized fills in defaults for unset fields.
func (o Options) normalized() Options {
	if o.MaxRetriesPerBackend <= 0 {
		o.MaxRetriesPerBackend = DefaultMaxRetriesPerBackend
	}
	if o.MaxCycles <= 0 {
		o.MaxCycles = DefaultMaxCycles
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	return o
}

// Result is the terminal outcome of one Execute call.
type Result struct {
	// Status is the terminal state.
	Status Status `json:"status"`

	// BackendID is the backend that succeeded, or the last one attempted
	// on failure.
	BackendID string `json:"backend_id"`

	// Output is the raw backend output on success.
	Output string `json:"output,omitempty"`

	// FallbackUsed is true iff success came from anywhere but the first
	// backend's first retry window.
	FallbackUsed bool `json:"fallback_used"`

	// Reason is the human-readable terminal-failure explanation; empty on success.
	Reason string `json:"reason,omitempty"`

	// Kind categorizes the failure; empty on success and on exhaustion.
	Kind ErrorKind `json:"kind,omitempty"`

	// LastError is the raw error text from the final failed attempt.
	LastError string `json:"last_error,omitempty"`

	// Attempts is the total number of invocation attempts made.
	Attempts int `json:"attempts"`

	// Cycles is the number of completed passes through the backend list.
	Cycles int `json:"cycles"`

	// EscalationNotice is the handoff message rendered on exhaustion.
	EscalationNotice string `json:"escalation_notice,omitempty"`
}

// Succeeded reports whether the run ended in success.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// fallbackState is the run-local retry/rotation state. It is owned
// exclusively by one Execute call and never shared, so independent calls
// can run concurrently without interference.
type fallbackState struct {
	currentIndex int
	retryCount   int
	cycleCount   int
}

// Executor owns the retry/rotation state machine over a fixed, prioritized
// backend list. It is safe for concurrent use; each Execute call carries
// its own state.
type Executor struct {
	backends     []string
	invoker      invoker.Invoker
	classify     Classifier
	logger       *zap.Logger
	retryBackoff time.Duration
	cycleBackoff time.Duration
}

// ExecutorConfig holds construction-time configuration for the Executor.
type ExecutorConfig struct {
	// Backends lists backend identifiers in priority order, highest first.
	Backends []string

	// Classifier overrides the default quota heuristic when set.
	Classifier Classifier

	// RetryBackoff is the pause before retrying the same backend (default 5s).
	RetryBackoff time.Duration

	// CycleBackoff is the pause before restarting the list (default 2s).
	CycleBackoff time.Duration
}

// NewExecutor creates a new fallback executor
func NewExecutor(cfg ExecutorConfig, inv invoker.Invoker, logger *zap.Logger) (*Executor, error) {
	if len(cfg.Backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	if inv == nil {
		return nil, errors.New("invoker is required")
	}

	classify := cfg.Classifier
	if classify == nil {
		classify = ClassifyError
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = DefaultRetryBackoff
	}
	cycleBackoff := cfg.CycleBackoff
	if cycleBackoff == 0 {
		cycleBackoff = DefaultCycleBackoff
	}

	// Private copy keeps the priority order immutable for the executor's lifetime.
	backends := make([]string, len(cfg.Backends))
	copy(backends, cfg.Backends)

	return &Executor{
		backends:     backends,
		invoker:      inv,
		classify:     classify,
		logger:       logger,
		retryBackoff: retryBackoff,
		cycleBackoff: cycleBackoff,
	}, nil
}

// Backends returns the backend priority list.
func (e *Executor) Backends() []string {
	out := make([]string, len(e.backends))
	copy(out, e.backends)
	return out
}

// Execute runs the prompt against the backend list until one backend
// succeeds, a non-recoverable error occurs, or the full retry/rotate/cycle
// budget is exhausted. It blocks; each attempt fully completes before the
// next decision. The returned error is non-nil only when ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, prompt string, opts Options) (*Result, error) {
	opts = opts.normalized()

	var state fallbackState
	attempts := 0

	for {
		// Attempt boundary: honor cancellation between invocations.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		backend := e.backends[state.currentIndex]

		e.progress(opts.Verbose, "attempting backend",
			zap.String("backend", backend),
			zap.Int("cycle", state.cycleCount+1),
			zap.Int("max_cycles", opts.MaxCycles),
			zap.Int("retry", state.retryCount+1),
			zap.Int("max_retries", opts.MaxRetriesPerBackend),
			zap.Int("backend_index", state.currentIndex+1),
			zap.Int("backend_count", len(e.backends)))

		outcome := e.invoker.Invoke(ctx, backend, prompt, opts.AttemptTimeout)
		attempts++

		if outcome.Success {
			e.progress(opts.Verbose, "backend succeeded", zap.String("backend", backend))
			return &Result{
				Status:       StatusSucceeded,
				BackendID:    backend,
				Output:       outcome.Output,
				FallbackUsed: state.cycleCount > 0 || state.currentIndex > 0,
				Attempts:     attempts,
				Cycles:       state.cycleCount,
			}, nil
		}

		// A single slow attempt aborts the whole chain; timeouts are
		// never retried or rotated past. See DESIGN.md before changing
		// the policy.
		if outcome.TimedOut {
			e.logger.Warn("attempt timed out, aborting fallback chain",
				zap.String("backend", backend))
			return &Result{
				Status:    StatusFailed,
				BackendID: backend,
				Reason:    "timeout",
				Kind:      KindTimeout,
				LastError: outcome.ErrorText,
				Attempts:  attempts,
				Cycles:    state.cycleCount,
			}, nil
		}

		if kind := e.classify(outcome.ErrorText); kind != KindQuota {
			e.logger.Warn("non-quota error, aborting fallback chain",
				zap.String("backend", backend),
				zap.Int("status_code", outcome.StatusCode))
			return &Result{
				Status:    StatusFailed,
				BackendID: backend,
				Reason:    fmt.Sprintf("non-quota error on backend %s: %s", backend, outcome.ErrorText),
				Kind:      kind,
				LastError: outcome.ErrorText,
				Attempts:  attempts,
				Cycles:    state.cycleCount,
			}, nil
		}

		e.progress(opts.Verbose, "quota error", zap.String("backend", backend))

		state.retryCount++
		if state.retryCount < opts.MaxRetriesPerBackend {
			e.progress(opts.Verbose, "retrying backend",
				zap.String("backend", backend),
				zap.Duration("backoff", e.retryBackoff))
			if err := sleepCtx(ctx, e.retryBackoff); err != nil {
				return nil, err
			}
			continue
		}

		// Current backend exhausted: rotate forward, no backoff.
		if state.currentIndex < len(e.backends)-1 {
			state.currentIndex++
			state.retryCount = 0
			e.progress(opts.Verbose, "rotating to next backend",
				zap.String("backend", e.backends[state.currentIndex]))
			continue
		}

		// Last backend exhausted: the cycle is complete.
		state.cycleCount++
		if state.cycleCount >= opts.MaxCycles {
			reason := fmt.Sprintf("all backends exhausted after %d cycles; escalate to caller", opts.MaxCycles)
			e.logger.Warn("fallback budget exhausted",
				zap.Int("cycles", state.cycleCount),
				zap.Int("attempts", attempts))
			return &Result{
				Status:    StatusExhausted,
				BackendID: backend,
				Reason:    reason,
				LastError: outcome.ErrorText,
				Attempts:  attempts,
				Cycles:    state.cycleCount,
				EscalationNotice: BuildEscalationNotice(EscalationInfo{
					LastBackend:       backend,
					BackendCount:      len(e.backends),
					RetriesPerBackend: opts.MaxRetriesPerBackend,
					Cycles:            state.cycleCount,
					LastError:         outcome.ErrorText,
					Now:               time.Now(),
				}),
			}, nil
		}

		state.currentIndex = 0
		state.retryCount = 0
		e.progress(opts.Verbose, "cycling back to first backend",
			zap.Int("cycle", state.cycleCount+1),
			zap.Duration("backoff", e.cycleBackoff))
		if err := sleepCtx(ctx, e.cycleBackoff); err != nil {
			return nil, err
		}
	}
}

// progress logs at info level when verbose, debug otherwise.
func (e *Executor) progress(verbose bool, msg string, fields ...zap.Field) {
	if verbose {
		e.logger.Info(msg, fields...)
		return
	}
	e.logger.Debug(msg, fields...)
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

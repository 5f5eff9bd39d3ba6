package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// CLIInvoker invokes backends through the gemini CLI binary
// (`gemini --model <backend> -p <prompt>`). The per-attempt deadline is
// enforced with a context so a hung process is killed instead of blocking
// the fallback chain.
type CLIInvoker struct {
	binary string
	logger *zap.Logger
}

// NewCLIInvoker creates a new CLI invoker
func NewCLIInvoker(binary string, logger *zap.Logger) *CLIInvoker {
	if binary == "" {
		binary = "gemini"
	}
	return &CLIInvoker{
		binary: binary,
		logger: logger,
	}
}

// Invoke runs one CLI invocation against the given backend
func (i *CLIInvoker) Invoke(ctx context.Context, backendID, prompt string, deadline time.Duration) Outcome {
	attemptCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(attemptCtx, i.binary, "--model", backendID, "-p", prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't let orphaned grandchildren holding the output pipes stall Wait
	// past the deadline.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// Deadline expiry beats whatever error the killed process produced.
	if attemptCtx.Err() == context.DeadlineExceeded {
		i.logger.Warn("invocation timed out",
			zap.String("backend", backendID),
			zap.Duration("deadline", deadline))
		return Outcome{
			Success:    false,
			BackendID:  backendID,
			ErrorText:  fmt.Sprintf("Timeout after %s", deadline),
			StatusCode: -1,
			TimedOut:   true,
		}
	}

	if err != nil {
		statusCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			statusCode = exitErr.ExitCode()
		}

		errorText := stderr.String()
		if errorText == "" {
			errorText = err.Error()
		}

		i.logger.Debug("invocation failed",
			zap.String("backend", backendID),
			zap.Int("status_code", statusCode),
			zap.Duration("elapsed", elapsed))

		return Outcome{
			Success:    false,
			BackendID:  backendID,
			Output:     stdout.String(),
			ErrorText:  errorText,
			StatusCode: statusCode,
		}
	}

	i.logger.Debug("invocation succeeded",
		zap.String("backend", backendID),
		zap.Duration("elapsed", elapsed))

	return Outcome{
		Success:   true,
		BackendID: backendID,
		Output:    stdout.String(),
		ErrorText: stderr.String(),
	}
}

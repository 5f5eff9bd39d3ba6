package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus mirrors the executor's terminal states.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionExhausted ExecutionStatus = "exhausted"
)

// maxStoredPromptLen bounds the prompt text persisted per execution.
const maxStoredPromptLen = 2000

// Execution represents one recorded fallback run
type Execution struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Prompt       string          `json:"prompt" db:"prompt"`
	Status       ExecutionStatus `json:"status" db:"status"`
	BackendID    string          `json:"backend_id" db:"backend_id"`
	FallbackUsed bool            `json:"fallback_used" db:"fallback_used"`
	Attempts     int             `json:"attempts" db:"attempts"`
	Cycles       int             `json:"cycles" db:"cycles"`
	DurationMs   int64           `json:"duration_ms" db:"duration_ms"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	RequestedBy  string          `json:"requested_by" db:"requested_by"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Execution model
func (Execution) TableName() string {
	return "executions"
}

// NewExecution creates a new Execution record, truncating oversized prompts.
func NewExecution(prompt string, status ExecutionStatus) *Execution {
	if len(prompt) > maxStoredPromptLen {
		prompt = prompt[:maxStoredPromptLen]
	}
	return &Execution{
		ID:        uuid.New(),
		Prompt:    prompt,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// WithError sets the error message
func (e *Execution) WithError(msg string) *Execution {
	if msg != "" {
		e.ErrorMessage = &msg
	}
	return e
}

// WithRequestedBy sets the requesting principal
func (e *Execution) WithRequestedBy(sub string) *Execution {
	e.RequestedBy = sub
	return e
}

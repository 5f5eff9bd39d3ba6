package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/ueno-ryu/fallback-gateway/models"
)

// ExecutionRepository persists fallback execution records
type ExecutionRepository interface {
	// Insert stores a new execution record
	Insert(ctx context.Context, execution *models.Execution) error

	// GetByID retrieves an execution by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error)

	// List retrieves the most recent executions, newest first
	List(ctx context.Context, limit, offset int) ([]*models.Execution, error)
}

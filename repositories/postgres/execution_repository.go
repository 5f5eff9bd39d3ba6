package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ueno-ryu/fallback-gateway/models"
	"github.com/ueno-ryu/fallback-gateway/repositories"
	"github.com/ueno-ryu/fallback-gateway/services"
	"go.uber.org/zap"
)

// ExecutionRepository implements repositories.ExecutionRepository on PostgreSQL
type ExecutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB, logger *zap.Logger) repositories.ExecutionRepository {
	return &ExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a new execution record
func (r *ExecutionRepository) Insert(ctx context.Context, execution *models.Execution) error {
	query := `
		INSERT INTO executions (
			id, prompt, status, backend_id, fallback_used,
			attempts, cycles, duration_ms, error_message, requested_by, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Prompt,
		execution.Status,
		execution.BackendID,
		execution.FallbackUsed,
		execution.Attempts,
		execution.Cycles,
		execution.DurationMs,
		execution.ErrorMessage,
		execution.RequestedBy,
		execution.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	r.logger.Debug("execution inserted",
		zap.String("id", execution.ID.String()),
		zap.String("status", string(execution.Status)))
	return nil
}

// GetByID retrieves an execution by ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `
		SELECT id, prompt, status, backend_id, fallback_used,
		       attempts, cycles, duration_ms, error_message, requested_by, created_at
		FROM executions
		WHERE id = $1
	`

	execution := &models.Execution{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID,
		&execution.Prompt,
		&execution.Status,
		&execution.BackendID,
		&execution.FallbackUsed,
		&execution.Attempts,
		&execution.Cycles,
		&execution.DurationMs,
		&execution.ErrorMessage,
		&execution.RequestedBy,
		&execution.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// List retrieves the most recent executions, newest first
func (r *ExecutionRepository) List(ctx context.Context, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, prompt, status, backend_id, fallback_used,
		       attempts, cycles, duration_ms, error_message, requested_by, created_at
		FROM executions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		execution := &models.Execution{}
		if err := rows.Scan(
			&execution.ID,
			&execution.Prompt,
			&execution.Status,
			&execution.BackendID,
			&execution.FallbackUsed,
			&execution.Attempts,
			&execution.Cycles,
			&execution.DurationMs,
			&execution.ErrorMessage,
			&execution.RequestedBy,
			&execution.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

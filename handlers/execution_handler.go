package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ueno-ryu/fallback-gateway/middleware"
	"github.com/ueno-ryu/fallback-gateway/models"
	"github.com/ueno-ryu/fallback-gateway/repositories"
	"github.com/ueno-ryu/fallback-gateway/services"
	"github.com/ueno-ryu/fallback-gateway/services/fallback"
	"github.com/ueno-ryu/fallback-gateway/utils"
	"go.uber.org/zap"
)

// ExecutionRequest represents a prompt execution request
type ExecutionRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1"`

	// Optional per-request overrides; zero means use the configured default.
	MaxRetries         int  `json:"max_retries,omitempty" validate:"omitempty,gte=1,lte=10"`
	MaxCycles          int  `json:"max_cycles,omitempty" validate:"omitempty,gte=1,lte=10"`
	AttemptTimeoutSecs int  `json:"attempt_timeout_secs,omitempty" validate:"omitempty,gte=1,lte=600"`
	Verbose            bool `json:"verbose,omitempty"`
}

// ExecutionResponse represents a successful prompt execution
type ExecutionResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	BackendID    string `json:"backend_id"`
	Output       string `json:"output"`
	FallbackUsed bool   `json:"fallback_used"`
	Attempts     int    `json:"attempts"`
	Cycles       int    `json:"cycles"`
	DurationMs   int64  `json:"duration_ms"`
}

// ExecutionListResponse wraps a page of stored executions
type ExecutionListResponse struct {
	Executions []*models.Execution `json:"executions"`
	Count      int                 `json:"count"`
}

// FallbackRunner defines the interface for running a prompt through the
// backend fallback chain
type FallbackRunner interface {
	Execute(ctx context.Context, prompt string, opts fallback.Options) (*fallback.Result, error)
}

// ExecutionRecorder defines the interface for persisting execution records
type ExecutionRecorder interface {
	Record(execution *models.Execution) error
}

// ExecutionHandler handles execution-related HTTP requests
type ExecutionHandler struct {
	runner   FallbackRunner
	recorder ExecutionRecorder               // nil when recording is disabled
	store    repositories.ExecutionRepository // nil when no database is configured
	defaults fallback.Options
	logger   *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler
func NewExecutionHandler(runner FallbackRunner, recorder ExecutionRecorder, store repositories.ExecutionRepository, defaults fallback.Options, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		runner:   runner,
		recorder: recorder,
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// HandleExecute handles POST /api/v1/executions
func (h *ExecutionHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimiddleware.GetReqID(ctx)

	var req ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	opts := h.defaults
	if req.MaxRetries > 0 {
		opts.MaxRetriesPerBackend = req.MaxRetries
	}
	if req.MaxCycles > 0 {
		opts.MaxCycles = req.MaxCycles
	}
	if req.AttemptTimeoutSecs > 0 {
		opts.AttemptTimeout = time.Duration(req.AttemptTimeoutSecs) * time.Second
	}
	opts.Verbose = opts.Verbose || req.Verbose

	h.logger.Debug("running execution",
		zap.String("request_id", requestID),
		zap.Int("prompt_len", len(req.Prompt)))

	start := time.Now()
	result, err := h.runner.Execute(ctx, req.Prompt, opts)
	if err != nil {
		// Only context cancellation reaches here; the client is likely gone.
		h.logger.Warn("execution aborted",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeInternal, "Execution aborted", err), h.logger)
		return
	}
	durationMs := time.Since(start).Milliseconds()

	execution := h.buildExecution(ctx, req.Prompt, result, durationMs)
	if h.recorder != nil {
		if err := h.recorder.Record(execution); err != nil {
			h.logger.Warn("failed to record execution",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}

	if !result.Succeeded() {
		h.logger.Warn("execution did not succeed",
			zap.String("request_id", requestID),
			zap.String("status", string(result.Status)),
			zap.String("backend_id", result.BackendID),
			zap.Int("attempts", result.Attempts),
			zap.String("reason", result.Reason))
		HandleServiceError(w, resultError(execution.ID, result), h.logger)
		return
	}

	h.logger.Info("execution succeeded",
		zap.String("request_id", requestID),
		zap.String("execution_id", execution.ID.String()),
		zap.String("backend_id", result.BackendID),
		zap.Bool("fallback_used", result.FallbackUsed),
		zap.Int("attempts", result.Attempts),
		zap.Int64("duration_ms", durationMs))

	response := ExecutionResponse{
		ID:           execution.ID.String(),
		Status:       string(result.Status),
		BackendID:    result.BackendID,
		Output:       result.Output,
		FallbackUsed: result.FallbackUsed,
		Attempts:     result.Attempts,
		Cycles:       result.Cycles,
		DurationMs:   durationMs,
	}
	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleGetExecution handles GET /api/v1/executions/{id}
func (h *ExecutionHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		_ = utils.WriteServiceUnavailable(w, services.ErrStoreUnavailable.Message, nil)
		return
	}

	idParam := chi.URLParam(r, "id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid execution ID", map[string]interface{}{"id": idParam})
		return
	}

	execution, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, execution); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleListExecutions handles GET /api/v1/executions
func (h *ExecutionHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		_ = utils.WriteServiceUnavailable(w, services.ErrStoreUnavailable.Message, nil)
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	executions, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := ExecutionListResponse{
		Executions: executions,
		Count:      len(executions),
	}
	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// buildExecution converts a fallback result into a persistable record.
func (h *ExecutionHandler) buildExecution(ctx context.Context, prompt string, result *fallback.Result, durationMs int64) *models.Execution {
	execution := models.NewExecution(prompt, models.ExecutionStatus(result.Status))
	execution.BackendID = result.BackendID
	execution.FallbackUsed = result.FallbackUsed
	execution.Attempts = result.Attempts
	execution.Cycles = result.Cycles
	execution.DurationMs = durationMs
	if result.Reason != "" {
		execution.WithError(result.Reason)
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		execution.WithRequestedBy(claims.Sub)
	}
	return execution
}

// resultError maps a terminal failure result onto the domain error taxonomy.
func resultError(id uuid.UUID, result *fallback.Result) error {
	details := map[string]interface{}{
		"execution_id": id.String(),
		"backend_id":   result.BackendID,
		"attempts":     result.Attempts,
		"cycles":       result.Cycles,
	}

	if result.Status == fallback.StatusExhausted {
		err := services.NewDomainError(services.ErrorTypeExhausted, result.Reason, nil)
		for k, v := range details {
			err.WithDetail(k, v)
		}
		if result.EscalationNotice != "" {
			err.WithDetail("escalation_notice", result.EscalationNotice)
		}
		return err
	}

	err := services.NewDomainError(services.ErrorTypeExternal, result.Reason, nil)
	for k, v := range details {
		err.WithDetail(k, v)
	}
	if result.Kind != "" {
		err.WithDetail("kind", string(result.Kind))
	}
	return err
}

func parseIntQuery(r *http.Request, key string, fallbackValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallbackValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallbackValue
	}
	return n
}

package handlers

import (
	"net/http"

	"github.com/ueno-ryu/fallback-gateway/app"
	"github.com/ueno-ryu/fallback-gateway/services/fallback"
)

// newExecutionHandler wires an ExecutionHandler from app dependencies.
func newExecutionHandler(deps *app.Dependencies) *ExecutionHandler {
	defaults := fallback.Options{
		MaxRetriesPerBackend: deps.Config.Fallback.MaxRetriesPerBackend,
		MaxCycles:            deps.Config.Fallback.MaxCycles,
		AttemptTimeout:       deps.Config.Fallback.AttemptTimeout,
	}

	// Typed-nil pointers must not leak into the interface fields.
	var recorder ExecutionRecorder
	if deps.Recorder != nil {
		recorder = deps.Recorder
	}

	return NewExecutionHandler(deps.Executor, recorder, deps.Executions, defaults, deps.Logger)
}

// ExecuteHandler handles POST /api/v1/executions
func ExecuteHandler(deps *app.Dependencies) http.HandlerFunc {
	return newExecutionHandler(deps).HandleExecute
}

// GetExecutionHandler handles GET /api/v1/executions/{id}
func GetExecutionHandler(deps *app.Dependencies) http.HandlerFunc {
	return newExecutionHandler(deps).HandleGetExecution
}

// ListExecutionsHandler handles GET /api/v1/executions
func ListExecutionsHandler(deps *app.Dependencies) http.HandlerFunc {
	return newExecutionHandler(deps).HandleListExecutions
}

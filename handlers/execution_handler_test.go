package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ueno-ryu/fallback-gateway/middleware"
	"github.com/ueno-ryu/fallback-gateway/models"
	"github.com/ueno-ryu/fallback-gateway/services"
	"github.com/ueno-ryu/fallback-gateway/services/fallback"
	"go.uber.org/zap"
)

// MockFallbackRunner is a mock implementation of FallbackRunner
type MockFallbackRunner struct {
	mock.Mock
}

func (m *MockFallbackRunner) Execute(ctx context.Context, prompt string, opts fallback.Options) (*fallback.Result, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fallback.Result), args.Error(1)
}

// captureRecorder collects recorded executions for assertions
type captureRecorder struct {
	mu       sync.Mutex
	recorded []*models.Execution
}

func (r *captureRecorder) Record(execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, execution)
	return nil
}

func (r *captureRecorder) all() []*models.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Execution(nil), r.recorded...)
}

// MockExecutionStore is a mock implementation of repositories.ExecutionRepository
type MockExecutionStore struct {
	mock.Mock
}

func (m *MockExecutionStore) Insert(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)
	return args.Error(0)
}

func (m *MockExecutionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) List(ctx context.Context, limit, offset int) ([]*models.Execution, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Execution), args.Error(1)
}

func defaultOptions() fallback.Options {
	return fallback.Options{
		MaxRetriesPerBackend: 3,
		MaxCycles:            3,
		AttemptTimeout:       60 * time.Second,
	}
}

func postExecution(t *testing.T, handler *ExecutionHandler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.HandleExecute(w, req)
	return w
}

func TestHandleExecute(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful execution", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		recorder := &captureRecorder{}
		handler := NewExecutionHandler(runner, recorder, nil, defaultOptions(), logger)

		result := &fallback.Result{
			Status:       fallback.StatusSucceeded,
			BackendID:    "gemini-2.5-pro",
			Output:       "hello from the model",
			FallbackUsed: false,
			Attempts:     1,
		}
		runner.On("Execute", mock.Anything, "say hello", defaultOptions()).Return(result, nil)

		w := postExecution(t, handler, ExecutionRequest{Prompt: "say hello"})

		assert.Equal(t, http.StatusOK, w.Code)

		var response ExecutionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "succeeded", response.Status)
		assert.Equal(t, "gemini-2.5-pro", response.BackendID)
		assert.Equal(t, "hello from the model", response.Output)
		assert.False(t, response.FallbackUsed)
		assert.NotEmpty(t, response.ID)

		recorded := recorder.all()
		require.Len(t, recorded, 1)
		assert.Equal(t, models.ExecutionSucceeded, recorded[0].Status)
		assert.Equal(t, "say hello", recorded[0].Prompt)
		assert.Nil(t, recorded[0].ErrorMessage)
		runner.AssertExpectations(t)
	})

	t.Run("per-request overrides reach the runner", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		handler := NewExecutionHandler(runner, nil, nil, defaultOptions(), logger)

		want := fallback.Options{
			MaxRetriesPerBackend: 2,
			MaxCycles:            1,
			AttemptTimeout:       10 * time.Second,
			Verbose:              true,
		}
		runner.On("Execute", mock.Anything, "p", want).
			Return(&fallback.Result{Status: fallback.StatusSucceeded, BackendID: "b", Attempts: 1}, nil)

		w := postExecution(t, handler, ExecutionRequest{
			Prompt:             "p",
			MaxRetries:         2,
			MaxCycles:          1,
			AttemptTimeoutSecs: 10,
			Verbose:            true,
		})

		assert.Equal(t, http.StatusOK, w.Code)
		runner.AssertExpectations(t)
	})

	t.Run("missing prompt fails validation", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		handler := NewExecutionHandler(runner, nil, nil, defaultOptions(), logger)

		w := postExecution(t, handler, ExecutionRequest{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		runner.AssertNotCalled(t, "Execute")
	})

	t.Run("malformed body", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		handler := NewExecutionHandler(runner, nil, nil, defaultOptions(), logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		handler.HandleExecute(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		runner.AssertNotCalled(t, "Execute")
	})

	t.Run("terminal backend failure maps to 502", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		recorder := &captureRecorder{}
		handler := NewExecutionHandler(runner, recorder, nil, defaultOptions(), logger)

		result := &fallback.Result{
			Status:    fallback.StatusFailed,
			BackendID: "gemini-2.5-pro",
			Reason:    "non-quota error on backend gemini-2.5-pro: permission denied",
			Kind:      fallback.KindBackend,
			Attempts:  1,
		}
		runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(result, nil)

		w := postExecution(t, handler, ExecutionRequest{Prompt: "p"})

		assert.Equal(t, http.StatusBadGateway, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		details := response["details"].(map[string]interface{})
		assert.Equal(t, "gemini-2.5-pro", details["backend_id"])
		assert.Equal(t, "backend", details["kind"])

		recorded := recorder.all()
		require.Len(t, recorded, 1)
		assert.Equal(t, models.ExecutionFailed, recorded[0].Status)
		require.NotNil(t, recorded[0].ErrorMessage)
		assert.Contains(t, *recorded[0].ErrorMessage, "permission denied")
	})

	t.Run("exhaustion maps to 503 with escalation notice", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		handler := NewExecutionHandler(runner, nil, nil, defaultOptions(), logger)

		result := &fallback.Result{
			Status:           fallback.StatusExhausted,
			BackendID:        "gemini-1.5-flash",
			Reason:           "all backends exhausted after 3 cycles; escalate to caller",
			Attempts:         54,
			Cycles:           3,
			EscalationNotice: "ALL BACKENDS EXHAUSTED - ESCALATION REQUIRED",
		}
		runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(result, nil)

		w := postExecution(t, handler, ExecutionRequest{Prompt: "p"})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		details := response["details"].(map[string]interface{})
		assert.Contains(t, details["escalation_notice"], "ESCALATION REQUIRED")
		assert.Equal(t, float64(54), details["attempts"])
	})

	t.Run("authenticated caller is attributed", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		recorder := &captureRecorder{}
		handler := NewExecutionHandler(runner, recorder, nil, defaultOptions(), logger)

		runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).
			Return(&fallback.Result{Status: fallback.StatusSucceeded, BackendID: "b", Attempts: 1}, nil)

		raw, err := json.Marshal(ExecutionRequest{Prompt: "p"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", bytes.NewReader(raw))
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "user-42"}))
		w := httptest.NewRecorder()
		handler.HandleExecute(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		recorded := recorder.all()
		require.Len(t, recorded, 1)
		assert.Equal(t, "user-42", recorded[0].RequestedBy)
	})

	t.Run("context cancellation maps to 500", func(t *testing.T) {
		runner := new(MockFallbackRunner)
		handler := NewExecutionHandler(runner, nil, nil, defaultOptions(), logger)

		runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled)

		w := postExecution(t, handler, ExecutionRequest{Prompt: "p"})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func getWithURLParam(t *testing.T, handler http.HandlerFunc, target, key, value string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleGetExecution(t *testing.T) {
	logger := zap.NewNop()

	t.Run("found", func(t *testing.T) {
		store := new(MockExecutionStore)
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, store, defaultOptions(), logger)

		execution := models.NewExecution("p", models.ExecutionSucceeded)
		store.On("GetByID", mock.Anything, execution.ID).Return(execution, nil)

		w := getWithURLParam(t, handler.HandleGetExecution, "/api/v1/executions/"+execution.ID.String(), "id", execution.ID.String())

		assert.Equal(t, http.StatusOK, w.Code)

		var got models.Execution
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, execution.ID, got.ID)
	})

	t.Run("not found", func(t *testing.T) {
		store := new(MockExecutionStore)
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, store, defaultOptions(), logger)

		id := uuid.New()
		store.On("GetByID", mock.Anything, id).Return(nil, services.ErrExecutionNotFound)

		w := getWithURLParam(t, handler.HandleGetExecution, "/api/v1/executions/"+id.String(), "id", id.String())

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		store := new(MockExecutionStore)
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, store, defaultOptions(), logger)

		w := getWithURLParam(t, handler.HandleGetExecution, "/api/v1/executions/nope", "id", "nope")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		store.AssertNotCalled(t, "GetByID")
	})

	t.Run("store not configured", func(t *testing.T) {
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, nil, defaultOptions(), logger)

		w := getWithURLParam(t, handler.HandleGetExecution, "/api/v1/executions/"+uuid.NewString(), "id", uuid.NewString())

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleListExecutions(t *testing.T) {
	logger := zap.NewNop()

	t.Run("defaults and custom paging", func(t *testing.T) {
		store := new(MockExecutionStore)
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, store, defaultOptions(), logger)

		executions := []*models.Execution{
			models.NewExecution("a", models.ExecutionSucceeded),
			models.NewExecution("b", models.ExecutionExhausted),
		}
		store.On("List", mock.Anything, 50, 0).Return(executions, nil)
		store.On("List", mock.Anything, 10, 20).Return(executions[:1], nil)

		w := httptest.NewRecorder()
		handler.HandleListExecutions(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var response ExecutionListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, 2, response.Count)

		w = httptest.NewRecorder()
		handler.HandleListExecutions(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions?limit=10&offset=20", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		store.AssertExpectations(t)
	})

	t.Run("store error maps to 500", func(t *testing.T) {
		store := new(MockExecutionStore)
		handler := NewExecutionHandler(new(MockFallbackRunner), nil, store, defaultOptions(), logger)

		store.On("List", mock.Anything, 50, 0).Return(nil, services.ErrDatabaseError)

		w := httptest.NewRecorder()
		handler.HandleListExecutions(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

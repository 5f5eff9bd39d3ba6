package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ueno-ryu/fallback-gateway/models"
	"go.uber.org/zap"
)

// memoryRepo collects inserted executions in memory.
type memoryRepo struct {
	mu        sync.Mutex
	inserted  []*models.Execution
	insertErr error
}

func (m *memoryRepo) Insert(_ context.Context, execution *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, execution)
	return nil
}

func (m *memoryRepo) GetByID(context.Context, uuid.UUID) (*models.Execution, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryRepo) List(context.Context, int, int) ([]*models.Execution, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

func TestService_RecordAndDrain(t *testing.T) {
	repo := &memoryRepo{}
	svc := New(repo, zap.NewNop(), DefaultConfig())
	require.NoError(t, svc.Start())

	for i := 0; i < 10; i++ {
		execution := models.NewExecution("prompt", models.ExecutionSucceeded)
		require.NoError(t, svc.Record(execution))
	}

	require.NoError(t, svc.Stop(5*time.Second))
	assert.Equal(t, 10, repo.count())
}

func TestService_RecordBeforeStart(t *testing.T) {
	svc := New(&memoryRepo{}, zap.NewNop(), DefaultConfig())

	err := svc.Record(models.NewExecution("p", models.ExecutionFailed))
	assert.Error(t, err)
}

func TestService_DoubleStart(t *testing.T) {
	svc := New(&memoryRepo{}, zap.NewNop(), DefaultConfig())
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	require.NoError(t, svc.Stop(time.Second))
}

func TestService_StopWithoutStart(t *testing.T) {
	svc := New(&memoryRepo{}, zap.NewNop(), DefaultConfig())
	assert.Error(t, svc.Stop(time.Second))
}

func TestService_DropsWhenBufferFull(t *testing.T) {
	repo := &memoryRepo{}
	svc := New(repo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, svc.Start())
	defer func() { _ = svc.Stop(time.Second) }()

	// Flooding a single-slot buffer may drop records, but Record must
	// never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = svc.Record(models.NewExecution("p", models.ExecutionSucceeded))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record must not block")
	}
}

func TestService_ContinuesPastInsertFailures(t *testing.T) {
	repo := &memoryRepo{insertErr: errors.New("db down")}
	svc := New(repo, zap.NewNop(), DefaultConfig())
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Record(models.NewExecution("p", models.ExecutionFailed)))
	require.NoError(t, svc.Stop(5*time.Second))

	assert.Equal(t, 0, repo.count())
}

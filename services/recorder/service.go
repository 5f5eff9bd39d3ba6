package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ueno-ryu/fallback-gateway/models"
	"github.com/ueno-ryu/fallback-gateway/repositories"
	"go.uber.org/zap"
)

// Service persists finished executions asynchronously so recording never
// blocks or fails a fallback run.
type Service struct {
	repo        repositories.ExecutionRepository
	logger      *zap.Logger
	eventChan   chan *models.Execution
	workerCount int
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the recorder Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// New creates a new recorder Service
func New(repo repositories.ExecutionRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.Execution, config.BufferSize),
		workerCount: config.WorkerCount,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("recorder already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started execution recorder",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", cap(s.eventChan)))

	return nil
}

// Stop gracefully stops the recorder, waiting for pending records to drain
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("recorder not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping execution recorder",
		zap.Int("pending_records", len(s.eventChan)))

	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("execution recorder stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("recorder stop timeout after %v", timeout)
	}
}

// Record queues an execution for persistence (non-blocking). Drops the
// record with a warning when the buffer is full.
func (s *Service) Record(execution *models.Execution) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("recorder not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- execution:
		return nil
	default:
		s.logger.Warn("execution record buffer full, dropping record",
			zap.String("id", execution.ID.String()),
			zap.String("status", string(execution.Status)))
		return fmt.Errorf("execution record buffer full")
	}
}

// worker processes queued records until the channel closes
func (s *Service) worker(id int) {
	defer s.wg.Done()

	for execution := range s.eventChan {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.repo.Insert(ctx, execution); err != nil {
			s.logger.Error("failed to persist execution record",
				zap.Int("worker", id),
				zap.String("id", execution.ID.String()),
				zap.Error(err))
		}
		cancel()
	}
}

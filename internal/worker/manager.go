package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Worker is a long running background component.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager starts workers in registration order and stops them in reverse.
type Manager struct {
	mu      sync.RWMutex
	workers []Worker
	started []Worker
	logger  *zap.Logger
}

// NewManager creates an empty worker manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Register adds a worker. Nil workers are ignored.
func (m *Manager) Register(w Worker) {
	if w == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

// StartAll starts every registered worker. On failure the workers already
// started are stopped again and the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			m.logger.Error("failed to start worker", zap.String("worker", w.Name()), zap.Error(err))
			m.stopStarted()
			return err
		}
		m.started = append(m.started, w)
		m.logger.Info("worker started", zap.String("worker", w.Name()))
	}
	return nil
}

// StopAll stops started workers in reverse order.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopStarted()
}

func (m *Manager) stopStarted() {
	for i := len(m.started) - 1; i >= 0; i-- {
		w := m.started[i]
		if err := w.Stop(); err != nil {
			m.logger.Warn("worker stop failed", zap.String("worker", w.Name()), zap.Error(err))
			continue
		}
		m.logger.Info("worker stopped", zap.String("worker", w.Name()))
	}
	m.started = nil
}

// Count returns the number of registered workers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

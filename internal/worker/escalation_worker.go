package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// Evaluator runs one escalation pass.
type Evaluator interface {
	Evaluate(ctx context.Context, now time.Time) ([]domain.EscalationAction, error)
}

// EscalationWorker triggers escalation passes on a fixed interval.
type EscalationWorker struct {
	evaluator Evaluator
	interval  time.Duration
	clock     func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEscalationWorker builds the worker. A nil clock means time.Now in UTC.
func NewEscalationWorker(evaluator Evaluator, interval time.Duration, clock func() time.Time, logger *zap.Logger) *EscalationWorker {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationWorker{
		evaluator: evaluator,
		interval:  interval,
		clock:     clock,
		logger:    logger,
	}
}

func (w *EscalationWorker) Name() string { return "escalation" }

// Start launches the polling loop.
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("escalation worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	w.logger.Info("escalation worker started", zap.Duration("interval", w.interval))
	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (w *EscalationWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and logs its outcome.
func (w *EscalationWorker) RunOnce(ctx context.Context) []domain.EscalationAction {
	actions, err := w.evaluator.Evaluate(ctx, w.clock())
	if err != nil {
		if ctx.Err() != nil {
			return actions
		}
		w.logger.Error("escalation pass failed", zap.Int("applied", len(actions)), zap.Error(err))
		return actions
	}
	if len(actions) > 0 {
		w.logger.Info("escalation pass applied", zap.Int("count", len(actions)))
	}
	return actions
}

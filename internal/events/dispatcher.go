package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the delivery queue cannot take another event.
var ErrQueueFull = errors.New("event queue full")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	logger    *zap.Logger
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		logger:    logger,
	}
}

// Publish synchronously invokes handlers for the given event.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			// continue processing other handlers despite errors
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// QueuedDispatcher decouples publishers from handlers: Publish only enqueues, and a single
// goroutine delivers events in publish order through the wrapped dispatcher.
type QueuedDispatcher struct {
	inner  Dispatcher
	queue  chan Event
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewQueuedDispatcher wraps inner with a buffered queue of the given size.
func NewQueuedDispatcher(inner Dispatcher, size int, logger *zap.Logger) *QueuedDispatcher {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuedDispatcher{
		inner:  inner,
		queue:  make(chan Event, size),
		logger: logger,
	}
}

// Publish enqueues without blocking.
func (q *QueuedDispatcher) Publish(_ context.Context, event Event) error {
	select {
	case q.queue <- event:
		return nil
	default:
		q.logger.Error("dropping event, queue full",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
		return ErrQueueFull
	}
}

func (q *QueuedDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	q.inner.Subscribe(eventType, handler)
}

func (q *QueuedDispatcher) Name() string {
	return "EventDispatcher"
}

// Start begins delivery in the background.
func (q *QueuedDispatcher) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("event dispatcher already running")
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.running = true
	go q.loop(ctx, q.done)
	return nil
}

// Stop halts delivery after draining what is already queued.
func (q *QueuedDispatcher) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (q *QueuedDispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case event := <-q.queue:
			q.deliver(event)
		}
	}
}

func (q *QueuedDispatcher) drain() {
	for {
		select {
		case event := <-q.queue:
			q.deliver(event)
		default:
			return
		}
	}
}

func (q *QueuedDispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("event handler panicked", zap.String("event_type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	// handlers get a fresh context; the publisher's request is long gone
	_ = q.inner.Publish(context.Background(), event)
}

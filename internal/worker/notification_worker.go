package worker

import (
	"context"
	"sync"
)

// HandlerRegistrar subscribes notification handlers to the event dispatcher.
type HandlerRegistrar interface {
	RegisterHandlers()
}

// NotificationWorker attaches notification handlers when the workers start. Handlers are
// registered once even if the worker is restarted.
type NotificationWorker struct {
	registrar HandlerRegistrar
	once      sync.Once
}

// NewNotificationWorker wraps the notification service.
func NewNotificationWorker(registrar HandlerRegistrar) *NotificationWorker {
	return &NotificationWorker{registrar: registrar}
}

func (w *NotificationWorker) Name() string { return "notifications" }

func (w *NotificationWorker) Start(context.Context) error {
	if w.registrar == nil {
		return nil
	}
	w.once.Do(w.registrar.RegisterHandlers)
	return nil
}

func (w *NotificationWorker) Stop() error { return nil }

package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/config"
	"github.com/spec-kit/itsm-engine/internal/events"
)

// NotificationService handles emitting notifications for domain events. Delivery channels
// are stubs; the Redis stream sink hands events to downstream consumers.
type NotificationService struct {
	dispatcher events.Dispatcher
	stream     redis.UniversalClient
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. stream may be nil to disable the stream sink.
func NewNotificationService(dispatcher events.Dispatcher, stream redis.UniversalClient, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		stream:     stream,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventMajorIncidentDeclared, n.handleUrgent)
	n.dispatcher.Subscribe(events.EventApprovalLevelResolved, n.handleApproval)
	n.dispatcher.Subscribe(events.EventApprovalChainCompleted, n.handleApproval)
	n.dispatcher.Subscribe(events.EventApprovalDelegated, n.handleApproval)
	n.dispatcher.Subscribe(events.EventChainCustomRejection, n.handleCustomRejection)
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleTicketEscalated)
	n.dispatcher.Subscribe(events.EventAutomationRuleApplied, n.handleAutomation)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketAssigned", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleUrgent(ctx context.Context, event events.Event) error {
	n.logger.Warn("MajorIncidentDeclared", zap.String("ticket_id", event.TicketID))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleApproval(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleCustomRejection(ctx context.Context, event events.Event) error {
	n.logger.Info("ChainCustomRejection", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleTicketEscalated(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketEscalatedPayload)
	n.logger.Info("TicketEscalated",
		zap.String("ticket_id", event.TicketID),
		zap.Int("level", payload.Action.Level),
		zap.String("escalate_to", payload.Action.EscalateTo))
	if payload.Action.Notify {
		n.sendEmailNotificationStub(ctx, event)
		n.sendWebhookNotificationStub(ctx, event)
	}
	return n.appendToStream(ctx, event)
}

func (n *NotificationService) handleAutomation(ctx context.Context, event events.Event) error {
	n.logger.Debug("AutomationRuleApplied", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

// appendToStream writes the event to the configured Redis stream, trimmed approximately to
// StreamMaxLen entries.
func (n *NotificationService) appendToStream(ctx context.Context, event events.Event) error {
	if n.stream == nil || strings.TrimSpace(n.cfg.StreamKey) == "" {
		return nil
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	actorID := ""
	if event.Actor.ID != nil {
		actorID = *event.Actor.ID
	}
	return n.stream.XAdd(ctx, &redis.XAddArgs{
		Stream: n.cfg.StreamKey,
		MaxLen: n.cfg.StreamMaxLen,
		Approx: n.cfg.StreamMaxLen > 0,
		Values: map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"ticket_id":  event.TicketID,
			"actor_type": string(event.Actor.Type),
			"actor_id":   actorID,
			"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":    string(payload),
		},
	}).Err()
}

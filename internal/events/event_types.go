package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "ticket_created"
	EventTicketStatusChanged    EventType = "ticket_status_changed"
	EventTicketAssigned         EventType = "ticket_assigned"
	EventMajorIncidentDeclared  EventType = "major_incident_declared"
	EventApprovalLevelResolved  EventType = "approval_level_resolved"
	EventApprovalChainCompleted EventType = "approval_chain_completed"
	EventChainCustomRejection   EventType = "approval_chain_custom_rejection"
	EventApprovalDelegated      EventType = "approval_delegated"
	EventTicketEscalated        EventType = "ticket_escalated"
	EventAutomationRuleApplied  EventType = "automation_rule_applied"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   *string          `json:"id,omitempty"`
}

// PrincipalActor is an authenticated caller.
func PrincipalActor(id string) Actor {
	return Actor{Type: domain.ActorTypePrincipal, ID: &id}
}

// SystemActor is the engine itself (escalation scans, automation).
func SystemActor() Actor {
	return Actor{Type: domain.ActorTypeSystem}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID string, actor Actor, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Type     domain.TicketType     `json:"type"`
	Status   domain.TicketStatus   `json:"status"`
	Priority domain.TicketPriority `json:"priority"`
	Title    string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID    *string                   `json:"assignee_id,omitempty"`
	AssigneeGroup *string                   `json:"assignee_group,omitempty"`
	Strategy      domain.AssignmentStrategy `json:"strategy,omitempty"`
	RuleID        string                    `json:"rule_id,omitempty"`
}

// ApprovalLevelResolvedPayload payload.
type ApprovalLevelResolvedPayload struct {
	ChainID string              `json:"chain_id"`
	Level   int                 `json:"level"`
	Outcome domain.LevelOutcome `json:"outcome"`
	Cycle   int                 `json:"cycle"`
}

// ApprovalChainCompletedPayload is sent when a chain stops running for good or returns.
type ApprovalChainCompletedPayload struct {
	ChainID string             `json:"chain_id"`
	Status  domain.ChainStatus `json:"status"`
}

// ChainCustomRejectionPayload hands a CUSTOM rejection to an external handler.
type ChainCustomRejectionPayload struct {
	ChainID      string `json:"chain_id"`
	DefinitionID string `json:"definition_id"`
	Level        int    `json:"level"`
	RejectedBy   string `json:"rejected_by"`
	Comment      string `json:"comment,omitempty"`
}

// ApprovalDelegatedPayload payload.
type ApprovalDelegatedPayload struct {
	ChainID string `json:"chain_id"`
	Level   int    `json:"level"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// TicketEscalatedPayload carries the escalation action.
type TicketEscalatedPayload struct {
	Action domain.EscalationAction `json:"action"`
}

// AutomationRuleAppliedPayload payload.
type AutomationRuleAppliedPayload struct {
	RuleID   string                    `json:"rule_id"`
	RuleType domain.AutomationRuleType `json:"rule_type"`
}

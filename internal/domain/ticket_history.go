package domain

import "time"

// ActorType indicates who caused a change.
type ActorType string

const (
	ActorTypePrincipal ActorType = "PRINCIPAL"
	ActorTypeSystem    ActorType = "SYSTEM"
)

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus        TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee      TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypeEscalation    TicketChangeType = "ESCALATION"
	ChangeTypeMajorIncident TicketChangeType = "MAJOR_INCIDENT"
	ChangeTypeChain         TicketChangeType = "CHAIN_CHANGE"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType ActorType
	ChangedByID   *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}

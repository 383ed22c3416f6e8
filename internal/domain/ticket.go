package domain

import "time"

// TicketType tags the ticket variant; each type owns its own status vocabulary.
type TicketType string

const (
	TicketTypeIncident       TicketType = "INCIDENT"
	TicketTypeChange         TicketType = "CHANGE"
	TicketTypeServiceRequest TicketType = "SERVICE_REQUEST"
)

// TicketStatus enumerates lifecycle states for tickets. Legality is scoped by TicketType.
type TicketStatus string

const (
	// shared
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusApproved   TicketStatus = "APPROVED"
	TicketStatusRejected   TicketStatus = "REJECTED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"

	// change
	TicketStatusDraft      TicketStatus = "DRAFT"
	TicketStatusRolledBack TicketStatus = "ROLLED_BACK"

	// incident
	TicketStatusNew      TicketStatus = "NEW"
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusClosed   TicketStatus = "CLOSED"

	// service request
	TicketStatusSubmitted TicketStatus = "SUBMITTED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

// IsValid reports whether p is a known priority.
func (p TicketPriority) IsValid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// Ticket is the aggregate governed by the lifecycle engine.
type Ticket struct {
	ID              string
	ExternalKey     string
	Type            TicketType
	Title           string
	Category        string
	Status          TicketStatus
	Priority        TicketPriority
	Severity        string
	Risk            string
	RequesterID     string
	AssigneeID      *string
	AssigneeGroup   *string
	CustomFields    map[string]string
	ChainID         *string
	EscalationLevel int
	MajorIncident   bool
	StateEnteredAt  time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// Clone returns a deep copy so engine evaluations never alias caller state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.CustomFields != nil {
		cp.CustomFields = make(map[string]string, len(t.CustomFields))
		for k, v := range t.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	cp.AssigneeID = cloneString(t.AssigneeID)
	cp.AssigneeGroup = cloneString(t.AssigneeGroup)
	cp.ChainID = cloneString(t.ChainID)
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

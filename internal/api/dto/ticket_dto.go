package dto

import (
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Type          domain.TicketType     `json:"type"`
	Title         string                `json:"title"`
	Category      string                `json:"category"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	Severity      string                `json:"severity"`
	Risk          string                `json:"risk"`
	AssigneeID    *string               `json:"assignee_id"`
	AssigneeGroup *string               `json:"assignee_group"`
	CustomFields  map[string]string     `json:"custom_fields"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	TargetStatus domain.TicketStatus `json:"target_status"`
	Comment      string              `json:"comment"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID              string                `json:"id"`
	ExternalKey     string                `json:"external_key"`
	Type            domain.TicketType     `json:"type"`
	Title           string                `json:"title"`
	Category        string                `json:"category,omitempty"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	Severity        string                `json:"severity,omitempty"`
	Risk            string                `json:"risk,omitempty"`
	RequesterID     string                `json:"requester_id"`
	AssigneeID      *string               `json:"assignee_id"`
	AssigneeGroup   *string               `json:"assignee_group"`
	CustomFields    map[string]string     `json:"custom_fields,omitempty"`
	ChainID         *string               `json:"chain_id"`
	EscalationLevel int                   `json:"escalation_level"`
	MajorIncident   bool                  `json:"major_incident"`
	StateEnteredAt  time.Time             `json:"state_entered_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID            string                  `json:"id"`
	ChangedByType domain.ActorType        `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	CreatedAt     time.Time               `json:"created_at"`
}

// NewTicketResponse maps the domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:              t.ID,
		ExternalKey:     t.ExternalKey,
		Type:            t.Type,
		Title:           t.Title,
		Category:        t.Category,
		Status:          t.Status,
		Priority:        t.Priority,
		Severity:        t.Severity,
		Risk:            t.Risk,
		RequesterID:     t.RequesterID,
		AssigneeID:      t.AssigneeID,
		AssigneeGroup:   t.AssigneeGroup,
		CustomFields:    t.CustomFields,
		ChainID:         t.ChainID,
		EscalationLevel: t.EscalationLevel,
		MajorIncident:   t.MajorIncident,
		StateEnteredAt:  t.StateEnteredAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		ClosedAt:        t.ClosedAt,
	}
}

// NewTicketHistoryResponse maps an audit entry.
func NewTicketHistoryResponse(h domain.TicketHistory) TicketHistoryResponse {
	return TicketHistoryResponse{
		ID:            h.ID,
		ChangedByType: h.ChangedByType,
		ChangedByID:   h.ChangedByID,
		ChangeType:    h.ChangeType,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		CreatedAt:     h.CreatedAt,
	}
}

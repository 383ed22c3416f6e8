package dto

import (
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// AttachChainRequest payload.
type AttachChainRequest struct {
	DefinitionID string `json:"definition_id"`
}

// DecisionRequest payload. The approver is the authenticated principal.
type DecisionRequest struct {
	Level    int             `json:"level"`
	Decision domain.Decision `json:"decision"`
	Comment  string          `json:"comment"`
}

// DelegateRequest payload. The delegating approver is the authenticated principal.
type DelegateRequest struct {
	Level int    `json:"level"`
	To    string `json:"to"`
}

// ChainResponse describes the runtime chain.
type ChainResponse struct {
	ID             string                      `json:"id"`
	DefinitionID   string                      `json:"definition_id"`
	TicketID       string                      `json:"ticket_id"`
	Status         domain.ChainStatus          `json:"status"`
	ActiveLevel    int                         `json:"active_level"`
	LevelStartedAt *time.Time                  `json:"level_started_at,omitempty"`
	Outcomes       map[int]domain.LevelOutcome `json:"outcomes"`
	Cycles         map[int]int                 `json:"cycles"`
	Delegations    []domain.Delegation         `json:"delegations"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// ApprovalRecordResponse is one decision with its supersession flag.
type ApprovalRecordResponse struct {
	ID         string          `json:"id"`
	Level      int             `json:"level"`
	Cycle      int             `json:"cycle"`
	Approver   string          `json:"approver"`
	Decision   domain.Decision `json:"decision"`
	Comment    string          `json:"comment,omitempty"`
	Superseded bool            `json:"superseded"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DecisionResponse reports the effect of a submitted decision.
type DecisionResponse struct {
	Duplicate    bool                    `json:"duplicate"`
	Effect       string                  `json:"effect"`
	LevelOutcome domain.LevelOutcome     `json:"level_outcome"`
	Record       *ApprovalRecordResponse `json:"record"`
	Chain        ChainResponse           `json:"chain"`
	Ticket       TicketResponse          `json:"ticket"`
}

// NewChainResponse maps a chain.
func NewChainResponse(c *domain.ApprovalChain) ChainResponse {
	delegations := c.Delegations
	if delegations == nil {
		delegations = []domain.Delegation{}
	}
	var started *time.Time
	if !c.LevelStartedAt.IsZero() {
		at := c.LevelStartedAt
		started = &at
	}
	return ChainResponse{
		ID:             c.ID,
		DefinitionID:   c.DefinitionID,
		TicketID:       c.TicketID,
		Status:         c.Status,
		ActiveLevel:    c.ActiveLevel,
		LevelStartedAt: started,
		Outcomes:       c.Outcomes,
		Cycles:         c.Cycles,
		Delegations:    delegations,
		UpdatedAt:      c.UpdatedAt,
	}
}

// NewApprovalRecordResponse maps a record.
func NewApprovalRecordResponse(r domain.ApprovalRecord, superseded bool) ApprovalRecordResponse {
	return ApprovalRecordResponse{
		ID:         r.ID,
		Level:      r.Level,
		Cycle:      r.Cycle,
		Approver:   r.Approver,
		Decision:   r.Decision,
		Comment:    r.Comment,
		Superseded: superseded,
		CreatedAt:  r.CreatedAt,
	}
}

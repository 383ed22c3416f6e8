package dto

import (
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// EscalationRuleRequest carries the time limit as a Go duration string such as "4h".
type EscalationRuleRequest struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	TicketType domain.TicketType  `json:"ticket_type"`
	Conditions []domain.Condition `json:"conditions"`
	TimeLimit  string             `json:"time_limit"`
	EscalateTo string             `json:"escalate_to"`
	Notify     bool               `json:"notify"`
	MaxLevel   int                `json:"max_level"`
}

// EscalationRuleResponse mirrors the request plus the evaluation position.
type EscalationRuleResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	TicketType domain.TicketType  `json:"ticket_type,omitempty"`
	Conditions []domain.Condition `json:"conditions"`
	TimeLimit  string             `json:"time_limit"`
	EscalateTo string             `json:"escalate_to"`
	Notify     bool               `json:"notify"`
	MaxLevel   int                `json:"max_level,omitempty"`
	Position   int                `json:"position"`
}

// ToDomain parses the request.
func (r EscalationRuleRequest) ToDomain() (domain.EscalationRule, error) {
	limit, err := time.ParseDuration(r.TimeLimit)
	if err != nil {
		return domain.EscalationRule{}, apperrors.NewValidationError("time_limit must be a duration such as 4h", map[string]any{"time_limit": r.TimeLimit})
	}
	return domain.EscalationRule{
		ID:         r.ID,
		Name:       r.Name,
		TicketType: r.TicketType,
		Conditions: r.Conditions,
		TimeLimit:  limit,
		EscalateTo: r.EscalateTo,
		Notify:     r.Notify,
		MaxLevel:   r.MaxLevel,
	}, nil
}

// NewEscalationRuleResponse maps a rule.
func NewEscalationRuleResponse(rule domain.EscalationRule) EscalationRuleResponse {
	return EscalationRuleResponse{
		ID:         rule.ID,
		Name:       rule.Name,
		TicketType: rule.TicketType,
		Conditions: rule.Conditions,
		TimeLimit:  rule.TimeLimit.String(),
		EscalateTo: rule.EscalateTo,
		Notify:     rule.Notify,
		MaxLevel:   rule.MaxLevel,
		Position:   rule.Position,
	}
}

// AutomationRequest names a ticket and rule family.
type AutomationRequest struct {
	TicketID string                    `json:"ticket_id"`
	Type     domain.AutomationRuleType `json:"type"`
}

// AutomationSelectResponse is the dry-run result.
type AutomationSelectResponse struct {
	Matched bool                   `json:"matched"`
	Rule    *domain.AutomationRule `json:"rule"`
}

// AutomationApplyResponse reports what an applied rule changed.
type AutomationApplyResponse struct {
	Applied bool                   `json:"applied"`
	Rule    *domain.AutomationRule `json:"rule"`
	Ticket  TicketResponse         `json:"ticket"`
}

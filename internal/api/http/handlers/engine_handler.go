package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-engine/internal/api/dto"
	"github.com/spec-kit/itsm-engine/internal/auth"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/service"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// EngineHandler exposes on-demand escalation passes and automation.
type EngineHandler struct {
	escalation *service.EscalationService
	automation *service.AutomationService
	clock      func() time.Time
}

// NewEngineHandler constructs handler.
func NewEngineHandler(escalation *service.EscalationService, automation *service.AutomationService, clock func() time.Time) *EngineHandler {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &EngineHandler{escalation: escalation, automation: automation, clock: clock}
}

// EvaluateEscalations POST /escalations/evaluate.
func (h *EngineHandler) EvaluateEscalations(c *fiber.Ctx) error {
	actions, err := h.escalation.Evaluate(c.UserContext(), h.clock())
	if err != nil {
		return err
	}
	if actions == nil {
		actions = []domain.EscalationAction{}
	}
	return c.JSON(fiber.Map{"data": actions})
}

// SelectAutomation POST /automation/select. Dry run.
func (h *EngineHandler) SelectAutomation(c *fiber.Ctx) error {
	req, err := parseAutomationRequest(c)
	if err != nil {
		return err
	}
	rule, matched, err := h.automation.Select(c.UserContext(), req.TicketID, req.Type)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AutomationSelectResponse{Matched: matched, Rule: rule}})
}

// ApplyAutomation POST /automation/apply.
func (h *EngineHandler) ApplyAutomation(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	req, err := parseAutomationRequest(c)
	if err != nil {
		return err
	}
	res, err := h.automation.Apply(c.UserContext(), principal.ID, req.TicketID, req.Type)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AutomationApplyResponse{
		Applied: res.Applied,
		Rule:    res.Rule,
		Ticket:  dto.NewTicketResponse(res.Ticket),
	}})
}

func parseAutomationRequest(c *fiber.Ctx) (dto.AutomationRequest, error) {
	var req dto.AutomationRequest
	if err := c.BodyParser(&req); err != nil {
		return req, apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TicketID == "" {
		return req, apperrors.NewValidationError("ticket_id required", nil)
	}
	switch req.Type {
	case domain.AutomationAssignment, domain.AutomationRouting, domain.AutomationEscalation:
		return req, nil
	default:
		return req, apperrors.NewValidationError("unknown automation rule type", map[string]any{"type": req.Type})
	}
}

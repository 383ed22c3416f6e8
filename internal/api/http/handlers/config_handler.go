package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-engine/internal/api/dto"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/service"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// ConfigHandler manages chain definitions and rule sets.
type ConfigHandler struct {
	service *service.ConfigService
}

// NewConfigHandler constructs handler.
func NewConfigHandler(cfg *service.ConfigService) *ConfigHandler {
	return &ConfigHandler{service: cfg}
}

func (h *ConfigHandler) ListChainDefinitions(c *fiber.Ctx) error {
	defs, err := h.service.ListChainDefinitions(c.UserContext())
	if err != nil {
		return err
	}
	if defs == nil {
		defs = []domain.ApprovalChainDefinition{}
	}
	return c.JSON(fiber.Map{"data": defs})
}

func (h *ConfigHandler) SaveChainDefinition(c *fiber.Ctx) error {
	var req domain.ApprovalChainDefinition
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	saved, err := h.service.SaveChainDefinition(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": saved})
}

func (h *ConfigHandler) ListEscalationRules(c *fiber.Ctx) error {
	ruleSet, err := h.service.ListEscalationRules(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.EscalationRuleResponse, 0, len(ruleSet))
	for _, rule := range ruleSet {
		items = append(items, dto.NewEscalationRuleResponse(rule))
	}
	return c.JSON(fiber.Map{"data": items})
}

func (h *ConfigHandler) SaveEscalationRule(c *fiber.Ctx) error {
	var req dto.EscalationRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rule, err := req.ToDomain()
	if err != nil {
		return err
	}
	saved, err := h.service.SaveEscalationRule(c.UserContext(), rule)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewEscalationRuleResponse(*saved)})
}

func (h *ConfigHandler) ListAutomationRules(c *fiber.Ctx) error {
	ruleSet, err := h.service.ListAutomationRules(c.UserContext())
	if err != nil {
		return err
	}
	if ruleSet == nil {
		ruleSet = []domain.AutomationRule{}
	}
	return c.JSON(fiber.Map{"data": ruleSet})
}

func (h *ConfigHandler) SaveAutomationRule(c *fiber.Ctx) error {
	var req domain.AutomationRule
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	saved, err := h.service.SaveAutomationRule(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": saved})
}

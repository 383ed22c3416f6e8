package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-engine/internal/api/dto"
	"github.com/spec-kit/itsm-engine/internal/auth"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/service"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// TicketsHandler exposes ticket intake and lifecycle endpoints.
type TicketsHandler struct {
	service *service.LifecycleService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService) *TicketsHandler {
	return &TicketsHandler{service: lifecycle}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal.ID, service.TicketCreateInput{
		Type:          req.Type,
		Title:         req.Title,
		Category:      req.Category,
		Status:        req.Status,
		Priority:      req.Priority,
		Severity:      req.Severity,
		Risk:          req.Risk,
		AssigneeID:    req.AssigneeID,
		AssigneeGroup: req.AssigneeGroup,
		CustomFields:  req.CustomFields,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	pageSize := parseInt(c.Query("page_size"), 50)
	filter := service.TicketFilter{
		Limit:  pageSize,
		Offset: (parseInt(c.Query("page"), 1) - 1) * pageSize,
	}
	for _, part := range splitQuery(c.Query("type")) {
		filter.Types = append(filter.Types, domain.TicketType(part))
	}
	for _, part := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(part))
	}
	if group := strings.TrimSpace(c.Query("group")); group != "" {
		filter.AssigneeGroup = &group
	}

	tickets, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	history, err := h.service.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketHistoryResponse, 0, len(history))
	for _, entry := range history {
		items = append(items, dto.NewTicketHistoryResponse(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Transition POST /tickets/:id/transitions.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TargetStatus == "" {
		return apperrors.NewValidationError("target_status required", nil)
	}
	ticket, err := h.service.Transition(c.UserContext(), principal.ID, c.Params("id"), req.TargetStatus, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// MarkMajorIncident POST /tickets/:id/major-incident.
func (h *TicketsHandler) MarkMajorIncident(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.MarkMajorIncident(c.UserContext(), principal.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

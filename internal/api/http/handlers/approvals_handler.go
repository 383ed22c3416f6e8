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

// ApprovalsHandler exposes approval chain endpoints.
type ApprovalsHandler struct {
	service *service.ApprovalService
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(approvals *service.ApprovalService) *ApprovalsHandler {
	return &ApprovalsHandler{service: approvals}
}

// AttachChain POST /tickets/:id/chain.
func (h *ApprovalsHandler) AttachChain(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.AttachChainRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.DefinitionID) == "" {
		return apperrors.NewValidationError("definition_id required", nil)
	}
	chain, err := h.service.AttachChain(c.UserContext(), principal.ID, c.Params("id"), req.DefinitionID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewChainResponse(chain)})
}

// ListRecords GET /tickets/:id/approvals.
func (h *ApprovalsHandler) ListRecords(c *fiber.Ctx) error {
	chain, views, err := h.service.ListRecords(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	records := make([]dto.ApprovalRecordResponse, 0, len(views))
	for _, v := range views {
		records = append(records, dto.NewApprovalRecordResponse(v.ApprovalRecord, v.Superseded))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"chain":   dto.NewChainResponse(chain),
		"records": records,
	}})
}

// SubmitDecision POST /tickets/:id/approvals. The approver is the token principal.
func (h *ApprovalsHandler) SubmitDecision(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Decision != domain.DecisionApproved && req.Decision != domain.DecisionRejected {
		return apperrors.NewValidationError("decision must be APPROVED or REJECTED", map[string]any{"decision": req.Decision})
	}

	res, err := h.service.SubmitDecision(c.UserContext(), c.Params("id"), principal.ID, req.Level, req.Decision, req.Comment)
	if err != nil {
		return err
	}
	resp := dto.DecisionResponse{
		Duplicate:    res.Duplicate,
		Effect:       string(res.Effect),
		LevelOutcome: res.LevelOutcome,
		Chain:        dto.NewChainResponse(res.Chain),
		Ticket:       dto.NewTicketResponse(res.Ticket),
	}
	status := http.StatusOK
	if res.Record != nil {
		record := dto.NewApprovalRecordResponse(*res.Record, false)
		resp.Record = &record
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": resp})
}

// Delegate POST /tickets/:id/approvals/delegate.
func (h *ApprovalsHandler) Delegate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.DelegateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.To) == "" {
		return apperrors.NewValidationError("to required", nil)
	}
	chain, err := h.service.Delegate(c.UserContext(), c.Params("id"), req.Level, principal.ID, req.To)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewChainResponse(chain)})
}

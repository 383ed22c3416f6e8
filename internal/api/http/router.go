package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/itsm-engine/internal/api/http/handlers"
	"github.com/spec-kit/itsm-engine/internal/auth"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Approvals      *handlers.ApprovalsHandler
	Engine         *handlers.EngineHandler
	Config         *handlers.ConfigHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
	MetricsPath    string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireRole())

	approver := auth.RequireRole(domain.RoleApprover)
	agent := auth.RequireRole(domain.RoleAgent, domain.RoleAdmin)
	admin := auth.RequireRole(domain.RoleAdmin)

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/transitions", cfg.Tickets.Transition)
	tickets.Post("/:id/major-incident", agent, cfg.Tickets.MarkMajorIncident)
	tickets.Post("/:id/chain", cfg.Approvals.AttachChain)
	tickets.Get("/:id/approvals", cfg.Approvals.ListRecords)
	tickets.Post("/:id/approvals", approver, cfg.Approvals.SubmitDecision)
	tickets.Post("/:id/approvals/delegate", approver, cfg.Approvals.Delegate)

	api.Post("/escalations/evaluate", agent, cfg.Engine.EvaluateEscalations)
	api.Post("/automation/select", agent, cfg.Engine.SelectAutomation)
	api.Post("/automation/apply", agent, cfg.Engine.ApplyAutomation)

	api.Get("/chain-definitions", admin, cfg.Config.ListChainDefinitions)
	api.Post("/chain-definitions", admin, cfg.Config.SaveChainDefinition)
	api.Get("/escalation-rules", admin, cfg.Config.ListEscalationRules)
	api.Post("/escalation-rules", admin, cfg.Config.SaveEscalationRule)
	api.Get("/automation-rules", admin, cfg.Config.ListAutomationRules)
	api.Post("/automation-rules", admin, cfg.Config.SaveAutomationRule)
}

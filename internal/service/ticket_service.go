package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	"github.com/spec-kit/itsm-engine/internal/repository"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// LifecycleService coordinates ticket intake and status transitions.
type LifecycleService struct {
	engine
	automation *AutomationService
}

// TicketCreateInput describes ticket intake payload.
type TicketCreateInput struct {
	Type          domain.TicketType
	Title         string
	Category      string
	Status        domain.TicketStatus
	Priority      domain.TicketPriority
	Severity      string
	Risk          string
	AssigneeID    *string
	AssigneeGroup *string
	CustomFields  map[string]string
}

// TicketFilter describes listing filters.
type TicketFilter struct {
	Types         []domain.TicketType
	Statuses      []domain.TicketStatus
	AssigneeGroup *string
	Limit         int
	Offset        int
}

// NewLifecycleService constructs the service. automation may be nil, in which case intake
// does not auto-assign.
func NewLifecycleService(deps Dependencies, automation *AutomationService) *LifecycleService {
	return &LifecycleService{engine: newEngine(deps), automation: automation}
}

// CreateTicket validates and stores a new ticket, then runs routing and assignment rules.
func (s *LifecycleService) CreateTicket(ctx context.Context, requesterID string, input TicketCreateInput) (*domain.Ticket, error) {
	now := s.clock()
	ticket := &domain.Ticket{
		ID:             uuid.NewString(),
		ExternalKey:    generateTicketKey(input.Type),
		Type:           input.Type,
		Title:          strings.TrimSpace(input.Title),
		Category:       strings.TrimSpace(input.Category),
		Status:         input.Status,
		Priority:       input.Priority,
		Severity:       input.Severity,
		Risk:           input.Risk,
		RequesterID:    requesterID,
		AssigneeID:     input.AssigneeID,
		AssigneeGroup:  input.AssigneeGroup,
		CustomFields:   input.CustomFields,
		StateEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if err := validateIntake(ticket); err != nil {
		return nil, s.fail("create", ticket.ID, err)
	}

	err := s.mutate(ctx, "create", ticket.ID, func(repos repository.Repositories, out *outbox) error {
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			return err
		}
		out.add(events.New(events.EventTicketCreated, ticket.ID, actorOf(requesterID), now, events.TicketCreatedPayload{
			Type:     ticket.Type,
			Status:   ticket.Status,
			Priority: ticket.Priority,
			Title:    ticket.Title,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.automation != nil {
		for _, ruleType := range []domain.AutomationRuleType{domain.AutomationRouting, domain.AutomationAssignment} {
			if _, err := s.automation.Apply(ctx, "", ticket.ID, ruleType); err != nil {
				// Intake succeeded; an unusable rule leaves the ticket unassigned.
				s.logger.Warn("automation skipped on intake",
					zap.String("ticket_id", ticket.ID),
					zap.String("rule_type", string(ruleType)),
					zap.Error(err))
			}
		}
	}
	return s.Get(ctx, ticket.ID)
}

func validateIntake(ticket *domain.Ticket) error {
	if ticket.Title == "" {
		return apperrors.NewValidationError("title required", nil)
	}
	if !ticket.Priority.IsValid() {
		return apperrors.NewValidationError("invalid priority", map[string]any{"priority": ticket.Priority})
	}
	if ticket.MajorIncident && ticket.Type != domain.TicketTypeIncident {
		return apperrors.NewValidationError("major incident flag applies to incidents only", nil)
	}
	return lifecycle.ValidateInitial(ticket)
}

// Transition moves a ticket to target through the state machine. Entering an attached chain's
// pending status (re)starts the chain; leaving it by other means parks the chain.
func (s *LifecycleService) Transition(ctx context.Context, actorID, ticketID string, target domain.TicketStatus, comment string) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := s.mutate(ctx, "transition", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		chain, def, err := attachedChain(ctx, repos, ticket)
		if err != nil {
			return err
		}
		if chain != nil && chain.Status == domain.ChainStatusActive &&
			(target == def.SuccessStatus || target == def.FailureStatus) {
			return apperrors.NewInvalidTransition("approval chain is still running", map[string]any{
				"reason":   "InvalidTransition",
				"chain_id": chain.ID,
				"from":     ticket.Status,
				"to":       target,
			})
		}

		next, transition, err := lifecycle.Attempt(ticket, target, now)
		if err != nil {
			return err
		}

		if chain != nil {
			var nextChain *domain.ApprovalChain
			switch {
			case target == def.PendingStatus:
				if nextChain, err = approval.Activate(def, chain, now); err != nil {
					return err
				}
			case chain.Status == domain.ChainStatusActive:
				nextChain = approval.Deactivate(chain, now)
			}
			if nextChain != nil {
				if err := repos.Chains.Update(ctx, nextChain); err != nil {
					return err
				}
			}
		}

		if err := repos.Tickets.Update(ctx, next); err != nil {
			return err
		}
		actor := actorOf(actorID)
		if err := recordStatusChange(ctx, repos, actor, transition, comment); err != nil {
			return err
		}
		s.metrics.RecordTransition(string(transition.Type), string(transition.From), string(transition.To))
		out.add(statusChangedEvent(actor, transition, comment))
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkMajorIncident sets the incident's major-incident flag.
func (s *LifecycleService) MarkMajorIncident(ctx context.Context, actorID, ticketID string) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := s.mutate(ctx, "major_incident", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		next, err := lifecycle.MarkMajorIncident(ticket, now)
		if err != nil {
			return err
		}
		if err := repos.Tickets.Update(ctx, next); err != nil {
			return err
		}
		actor := actorOf(actorID)
		if err := recordHistory(ctx, repos, actor, ticketID, domain.ChangeTypeMajorIncident,
			map[string]any{"major_incident": false}, map[string]any{"major_incident": true}, now); err != nil {
			return err
		}
		out.add(events.New(events.EventMajorIncidentDeclared, ticketID, actor, now, nil))
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns a ticket snapshot.
func (s *LifecycleService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, s.store.Repos(), ticketID)
	if err != nil {
		return nil, normalize(err)
	}
	return ticket, nil
}

// List returns tickets matching filter.
func (s *LifecycleService) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.store.Repos().Tickets.List(ctx, repository.TicketFilter{
		Types:         filter.Types,
		Statuses:      filter.Statuses,
		AssigneeGroup: filter.AssigneeGroup,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, normalize(err)
	}
	return tickets, nil
}

// History returns the audit trail of a ticket, oldest first.
func (s *LifecycleService) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	repos := s.store.Repos()
	if _, err := loadTicket(ctx, repos, ticketID); err != nil {
		return nil, normalize(err)
	}
	entries, err := repos.History.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, normalize(err)
	}
	return entries, nil
}

func recordStatusChange(ctx context.Context, repos repository.Repositories, actor events.Actor, t lifecycle.Transition, comment string) error {
	newValue := map[string]any{"status": t.To}
	if comment != "" {
		newValue["comment"] = comment
	}
	return recordHistory(ctx, repos, actor, t.TicketID, domain.ChangeTypeStatus,
		map[string]any{"status": t.From}, newValue, t.At)
}

func statusChangedEvent(actor events.Actor, t lifecycle.Transition, comment string) events.Event {
	return events.New(events.EventTicketStatusChanged, t.TicketID, actor, t.At, events.TicketStatusChangedPayload{
		OldStatus: t.From,
		NewStatus: t.To,
		Comment:   comment,
	})
}

// normalize maps read-path failures that are not already domain errors.
func normalize(err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewInfrastructureError(err)
}

func generateTicketKey(t domain.TicketType) string {
	prefix := "TCK"
	switch t {
	case domain.TicketTypeIncident:
		prefix = "INC"
	case domain.TicketTypeChange:
		prefix = "CHG"
	case domain.TicketTypeServiceRequest:
		prefix = "REQ"
	}
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

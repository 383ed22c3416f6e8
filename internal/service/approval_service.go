package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	"github.com/spec-kit/itsm-engine/internal/repository"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// ApprovalService attaches approval chains to tickets and records decisions against them.
type ApprovalService struct {
	engine
}

// DecisionResult reports what a submitted decision did.
type DecisionResult struct {
	Ticket       *domain.Ticket
	Chain        *domain.ApprovalChain
	Record       *domain.ApprovalRecord
	Duplicate    bool
	LevelOutcome domain.LevelOutcome
	Effect       approval.Effect
}

// RecordView is an approval record with its supersession state.
type RecordView struct {
	domain.ApprovalRecord
	Superseded bool
}

// NewApprovalService constructs the service.
func NewApprovalService(deps Dependencies) *ApprovalService {
	return &ApprovalService{engine: newEngine(deps)}
}

// AttachChain instantiates definitionID for the ticket. A ticket already sitting in the
// definition's pending status starts the chain right away. Running and frozen chains cannot
// be replaced.
func (s *ApprovalService) AttachChain(ctx context.Context, actorID, ticketID, definitionID string) (*domain.ApprovalChain, error) {
	var attached *domain.ApprovalChain
	err := s.mutate(ctx, "attach_chain", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if lifecycle.IsTerminal(ticket) {
			return apperrors.NewInvalidTransition("ticket is in a terminal status",
				map[string]any{"reason": "InvalidTransition", "status": ticket.Status})
		}
		def, err := loadDefinition(ctx, repos, definitionID)
		if err != nil {
			return err
		}
		if err := approval.Validate(def); err != nil {
			return err
		}
		if def.TicketType != ticket.Type {
			return apperrors.NewValidationError("definition does not apply to this ticket type",
				map[string]any{"definition_id": def.ID, "ticket_type": ticket.Type})
		}

		existing, _, err := attachedChain(ctx, repos, ticket)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == domain.ChainStatusActive {
			return apperrors.NewConflict("ticket already has a running approval chain",
				map[string]any{"chain_id": existing.ID})
		}
		if existing != nil && existing.Status.IsFrozen() {
			return apperrors.NewChainFrozen(existing.ID)
		}

		chain := approval.NewChain(def, ticket.ID, now)
		if ticket.Status == def.PendingStatus {
			if chain, err = approval.Activate(def, chain, now); err != nil {
				return err
			}
		}
		if err := repos.Chains.Create(ctx, chain); err != nil {
			return err
		}

		var previous *string
		if existing != nil {
			previous = &existing.ID
		}
		next := ticket.Clone()
		next.ChainID = &chain.ID
		next.UpdatedAt = now
		if err := repos.Tickets.Update(ctx, next); err != nil {
			return err
		}
		if err := recordHistory(ctx, repos, actorOf(actorID), ticket.ID, domain.ChangeTypeChain,
			map[string]any{"chain_id": previous},
			map[string]any{"chain_id": chain.ID, "definition_id": def.ID}, now); err != nil {
			return err
		}
		attached = chain
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

// SubmitDecision records approverID's decision for level and drives the chain and, when the
// chain resolves, the ticket status.
func (s *ApprovalService) SubmitDecision(ctx context.Context, ticketID, approverID string, level int, decision domain.Decision, comment string) (DecisionResult, error) {
	if err := s.requireActive(ctx, approverID, func() error {
		return apperrors.NewUnauthorizedApprover(approverID, level)
	}); err != nil {
		return DecisionResult{}, s.fail("decision", ticketID, err)
	}

	var result DecisionResult
	err := s.mutate(ctx, "decision", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		ticket, chain, def, records, err := s.loadForDecision(ctx, repos, ticketID)
		if err != nil {
			return err
		}

		outcome, err := approval.Submit(def, chain, records, approval.DecisionInput{
			Level:    level,
			Approver: approverID,
			Decision: decision,
			Comment:  strings.TrimSpace(comment),
			At:       now,
		})
		if err != nil {
			return err
		}
		result = DecisionResult{
			Ticket:       ticket,
			Chain:        outcome.Chain,
			Duplicate:    outcome.Duplicate,
			LevelOutcome: outcome.LevelOutcome,
			Effect:       outcome.Effect,
		}
		if outcome.Duplicate {
			s.logger.Info("duplicate approval decision ignored",
				zap.String("ticket_id", ticketID),
				zap.String("approver", approverID),
				zap.Int("level", level))
			return nil
		}

		if err := repos.Records.Create(ctx, outcome.Record); err != nil {
			return err
		}
		if err := repos.Chains.Update(ctx, outcome.Chain); err != nil {
			return err
		}
		result.Record = outcome.Record
		s.metrics.RecordDecision(string(decision), string(outcome.LevelOutcome))

		actor := events.PrincipalActor(approverID)
		if outcome.TargetStatus != "" {
			next, transition, err := lifecycle.Attempt(ticket, outcome.TargetStatus, now)
			if err != nil {
				return err
			}
			if err := repos.Tickets.Update(ctx, next); err != nil {
				return err
			}
			if err := recordStatusChange(ctx, repos, actor, transition, comment); err != nil {
				return err
			}
			s.metrics.RecordTransition(string(transition.Type), string(transition.From), string(transition.To))
			out.add(statusChangedEvent(actor, transition, comment))
			result.Ticket = next
		}

		collectDecisionEvents(out, actor, def, outcome, comment, now)
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}
	return result, nil
}

func collectDecisionEvents(out *outbox, actor events.Actor, def *domain.ApprovalChainDefinition, outcome approval.ChainOutcome, comment string, now time.Time) {
	chain := outcome.Chain
	if outcome.LevelOutcome != domain.LevelPending {
		out.add(events.New(events.EventApprovalLevelResolved, chain.TicketID, actor, now, events.ApprovalLevelResolvedPayload{
			ChainID: chain.ID,
			Level:   outcome.Level,
			Outcome: outcome.LevelOutcome,
			Cycle:   outcome.Record.Cycle,
		}))
	}
	switch outcome.Effect {
	case approval.EffectApproved, approval.EffectRejected, approval.EffectReturned:
		if chain.Status == domain.ChainStatusActive {
			// returned to the previous level; the chain keeps running
			return
		}
		out.add(events.New(events.EventApprovalChainCompleted, chain.TicketID, actor, now, events.ApprovalChainCompletedPayload{
			ChainID: chain.ID,
			Status:  chain.Status,
		}))
	case approval.EffectCustomRejected:
		out.add(events.New(events.EventChainCustomRejection, chain.TicketID, actor, now, events.ChainCustomRejectionPayload{
			ChainID:      chain.ID,
			DefinitionID: def.ID,
			Level:        outcome.Level,
			RejectedBy:   outcome.Record.Approver,
			Comment:      comment,
		}))
	}
}

// Delegate moves from's pending obligation on level to another active principal.
func (s *ApprovalService) Delegate(ctx context.Context, ticketID string, level int, from, to string) (*domain.ApprovalChain, error) {
	if err := s.requireActive(ctx, to, func() error {
		return apperrors.NewDelegationNotAllowed("delegate is not an active principal",
			map[string]any{"to": to, "level": level})
	}); err != nil {
		return nil, s.fail("delegate", ticketID, err)
	}

	var updated *domain.ApprovalChain
	err := s.mutate(ctx, "delegate", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		_, chain, def, records, err := s.loadForDecision(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		next, delegation, err := approval.Delegate(def, chain, records, level, from, to, now)
		if err != nil {
			return err
		}
		if err := repos.Chains.Update(ctx, next); err != nil {
			return err
		}
		out.add(events.New(events.EventApprovalDelegated, ticketID, events.PrincipalActor(from), now, events.ApprovalDelegatedPayload{
			ChainID: next.ID,
			Level:   delegation.Level,
			From:    delegation.From,
			To:      delegation.To,
		}))
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Chain returns the ticket's attached chain.
func (s *ApprovalService) Chain(ctx context.Context, ticketID string) (*domain.ApprovalChain, error) {
	repos := s.store.Repos()
	ticket, err := loadTicket(ctx, repos, ticketID)
	if err != nil {
		return nil, normalize(err)
	}
	chain, _, err := attachedChain(ctx, repos, ticket)
	if err != nil {
		return nil, normalize(err)
	}
	if chain == nil {
		return nil, apperrors.NewNotFound("approval chain", map[string]any{"ticket_id": ticketID})
	}
	return chain, nil
}

// ListRecords returns every decision on the ticket's chain, superseded ones included.
func (s *ApprovalService) ListRecords(ctx context.Context, ticketID string) (*domain.ApprovalChain, []RecordView, error) {
	chain, err := s.Chain(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.store.Repos().Records.ListByChain(ctx, chain.ID)
	if err != nil {
		return nil, nil, normalize(err)
	}
	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, RecordView{ApprovalRecord: rec, Superseded: rec.Superseded(chain)})
	}
	return chain, views, nil
}

func (s *ApprovalService) loadForDecision(ctx context.Context, repos repository.Repositories, ticketID string) (*domain.Ticket, *domain.ApprovalChain, *domain.ApprovalChainDefinition, []domain.ApprovalRecord, error) {
	ticket, err := loadTicket(ctx, repos, ticketID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	chain, def, err := attachedChain(ctx, repos, ticket)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if chain == nil {
		return nil, nil, nil, nil, apperrors.NewNotFound("approval chain", map[string]any{"ticket_id": ticketID})
	}
	if lifecycle.IsTerminal(ticket) {
		return nil, nil, nil, nil, apperrors.NewChainFrozen(chain.ID)
	}
	records, err := repos.Records.ListByChain(ctx, chain.ID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return ticket, chain, def, records, nil
}

// requireActive asks the directory whether principalID may act; rejected builds the error
// returned for unknown or inactive principals.
func (s *ApprovalService) requireActive(ctx context.Context, principalID string, rejected func() error) error {
	if s.directory == nil || principalID == "" {
		return nil
	}
	active, err := s.directory.IsActive(ctx, principalID)
	if err != nil {
		return apperrors.NewInfrastructureError(err)
	}
	if !active {
		return rejected()
	}
	return nil
}

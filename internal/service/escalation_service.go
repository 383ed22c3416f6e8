package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/escalation"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	"github.com/spec-kit/itsm-engine/internal/repository"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// EscalationService runs time-in-state escalation passes.
type EscalationService struct {
	engine
}

// NewEscalationService constructs the service.
func NewEscalationService(deps Dependencies) *EscalationService {
	return &EscalationService{engine: newEngine(deps)}
}

// approvalTimeoutRule is the rule id recorded for escalations raised by approval level timeouts.
const approvalTimeoutRule = "approval_timeout"

// Evaluate scans every non-terminal ticket once at now. It applies due escalations and the
// timeout actions of overdue approval levels. Rules are read once per pass. Each ticket is
// re-read under its lock before anything is written, so a concurrent transition or a second
// pass cannot raise the same level twice.
func (s *EscalationService) Evaluate(ctx context.Context, now time.Time) ([]domain.EscalationAction, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveEscalationPass(time.Since(started)) }()

	repos := s.store.Repos()
	ruleSet, err := repos.EscalationRules.List(ctx)
	if err != nil {
		return nil, s.fail("escalate", "", err)
	}
	tickets, err := repos.Tickets.List(ctx, repository.TicketFilter{ExcludeStatuses: lifecycle.TerminalStatuses()})
	if err != nil {
		return nil, s.fail("escalate", "", err)
	}

	var actions []domain.EscalationAction
	for i := range tickets {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		ticket := &tickets[i]
		if len(ruleSet) > 0 {
			history, err := repos.Escalations.ListByTicket(ctx, ticket.ID)
			if err != nil {
				return actions, s.fail("escalate", ticket.ID, err)
			}
			if _, due := escalation.Evaluate(ticket, ruleSet, history, now); due {
				action, applied, err := s.apply(ctx, ticket.ID, ruleSet, now)
				if err != nil {
					return actions, err
				}
				if applied {
					actions = append(actions, action)
				}
			}
		}

		if ticket.ChainID == nil {
			continue
		}
		chain, def, err := attachedChain(ctx, repos, ticket)
		if err != nil {
			if apperrors.IsBusinessError(err) {
				continue
			}
			return actions, s.fail("approval_timeout", ticket.ID, err)
		}
		if _, due := approval.TimeoutDue(def, chain, now); !due {
			continue
		}
		action, escalated, err := s.expire(ctx, ticket.ID, now)
		if err != nil {
			return actions, err
		}
		if escalated {
			actions = append(actions, action)
		}
	}

	if len(actions) > 0 {
		s.logger.Info("escalation pass finished", zap.Int("escalated", len(actions)), zap.Int("scanned", len(tickets)))
	}
	return actions, nil
}

func (s *EscalationService) apply(ctx context.Context, ticketID string, ruleSet []domain.EscalationRule, now time.Time) (domain.EscalationAction, bool, error) {
	var (
		action  domain.EscalationAction
		applied bool
	)
	err := s.mutate(ctx, "escalate", ticketID, func(repos repository.Repositories, out *outbox) error {
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		history, err := repos.Escalations.ListByTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		planned, due := escalation.Evaluate(ticket, ruleSet, history, now)
		if !due {
			return nil
		}

		if err := repos.Escalations.Create(ctx, &planned.Record); err != nil {
			return err
		}
		if err := repos.Tickets.Update(ctx, planned.Ticket); err != nil {
			return err
		}
		actor := events.SystemActor()
		if err := recordHistory(ctx, repos, actor, ticketID, domain.ChangeTypeEscalation,
			map[string]any{"escalation_level": ticket.EscalationLevel},
			map[string]any{"escalation_level": planned.Record.Level, "rule_id": planned.Rule.ID, "escalate_to": planned.Rule.EscalateTo},
			now); err != nil {
			return err
		}
		out.add(events.New(events.EventTicketEscalated, ticketID, actor, now, events.TicketEscalatedPayload{Action: planned.Action}))
		s.metrics.RecordEscalation(planned.Rule.ID)
		action, applied = planned.Action, true
		return nil
	})
	if err != nil {
		if apperrors.IsBusinessError(err) {
			// The ticket vanished or the level was taken by another pass; skip it.
			return domain.EscalationAction{}, false, nil
		}
		return domain.EscalationAction{}, false, err
	}
	return action, applied, nil
}

// expire applies the timeout action of the ticket's active approval level. escalated reports
// an escalate action; auto decisions move the chain like a submitted decision would.
func (s *EscalationService) expire(ctx context.Context, ticketID string, now time.Time) (domain.EscalationAction, bool, error) {
	var (
		action    domain.EscalationAction
		escalated bool
	)
	err := s.mutate(ctx, "approval_timeout", ticketID, func(repos repository.Repositories, out *outbox) error {
		action, escalated = domain.EscalationAction{}, false
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if lifecycle.IsTerminal(ticket) {
			return nil
		}
		chain, def, err := attachedChain(ctx, repos, ticket)
		if err != nil || chain == nil {
			return err
		}
		lvl, due := approval.TimeoutDue(def, chain, now)
		if !due {
			return nil
		}
		outcome, err := approval.Expire(def, chain, now)
		if err != nil {
			return err
		}
		if err := repos.Chains.Update(ctx, outcome.Chain); err != nil {
			return err
		}
		actor := events.SystemActor()

		if outcome.Effect == approval.EffectEscalated {
			action, err = s.escalateForTimeout(ctx, repos, out, ticket, lvl, now)
			escalated = err == nil
			return err
		}

		if err := repos.Records.Create(ctx, outcome.Record); err != nil {
			return err
		}
		s.metrics.RecordDecision(string(outcome.Record.Decision), string(outcome.LevelOutcome))
		if outcome.TargetStatus != "" {
			next, transition, err := lifecycle.Attempt(ticket, outcome.TargetStatus, now)
			if err != nil {
				return err
			}
			if err := repos.Tickets.Update(ctx, next); err != nil {
				return err
			}
			if err := recordStatusChange(ctx, repos, actor, transition, outcome.Record.Comment); err != nil {
				return err
			}
			s.metrics.RecordTransition(string(transition.Type), string(transition.From), string(transition.To))
			out.add(statusChangedEvent(actor, transition, outcome.Record.Comment))
		}
		collectDecisionEvents(out, actor, def, outcome, outcome.Record.Comment, now)
		s.logger.Info("approval level timed out",
			zap.String("ticket_id", ticketID),
			zap.Int("level", lvl.Level),
			zap.String("timeout_action", string(lvl.TimeoutAction)))
		return nil
	})
	if err != nil {
		if apperrors.IsBusinessError(err) {
			return domain.EscalationAction{}, false, nil
		}
		return domain.EscalationAction{}, false, err
	}
	return action, escalated, nil
}

func (s *EscalationService) escalateForTimeout(ctx context.Context, repos repository.Repositories, out *outbox, ticket *domain.Ticket, lvl domain.ApprovalLevel, now time.Time) (domain.EscalationAction, error) {
	record := domain.EscalationRecord{
		TicketID:    ticket.ID,
		Level:       ticket.EscalationLevel + 1,
		RuleID:      approvalTimeoutRule,
		EscalateTo:  lvl.TimeoutEscalateTo,
		EscalatedAt: now,
	}
	if err := repos.Escalations.Create(ctx, &record); err != nil {
		return domain.EscalationAction{}, err
	}
	next := ticket.Clone()
	next.EscalationLevel = record.Level
	next.UpdatedAt = now
	if err := repos.Tickets.Update(ctx, next); err != nil {
		return domain.EscalationAction{}, err
	}
	actor := events.SystemActor()
	if err := recordHistory(ctx, repos, actor, ticket.ID, domain.ChangeTypeEscalation,
		map[string]any{"escalation_level": ticket.EscalationLevel},
		map[string]any{"escalation_level": record.Level, "rule_id": record.RuleID, "escalate_to": record.EscalateTo, "approval_level": lvl.Level},
		now); err != nil {
		return domain.EscalationAction{}, err
	}
	action := domain.EscalationAction{
		TicketID:   ticket.ID,
		RuleID:     record.RuleID,
		Level:      record.Level,
		EscalateTo: record.EscalateTo,
		Notify:     true,
		At:         now,
	}
	out.add(events.New(events.EventTicketEscalated, ticket.ID, actor, now, events.TicketEscalatedPayload{Action: action}))
	s.metrics.RecordEscalation(record.RuleID)
	return action, nil
}

package service

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	"github.com/spec-kit/itsm-engine/internal/repository"
	"github.com/spec-kit/itsm-engine/internal/rules"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// AutomationService selects and applies automation rules to tickets.
type AutomationService struct {
	engine
	counter roundRobinCounter
}

// AutomationResult describes one Apply call. Rule is nil when nothing matched.
type AutomationResult struct {
	Ticket  *domain.Ticket
	Rule    *domain.AutomationRule
	Applied bool
}

// NewAutomationService constructs the service. When client is nil, round-robin positions are
// kept in process memory.
func NewAutomationService(deps Dependencies, client redis.UniversalClient, counterPrefix string) *AutomationService {
	var counter roundRobinCounter = newMemoryCounter()
	if client != nil {
		counter = redisCounter{client: client, prefix: counterPrefix}
	}
	return &AutomationService{engine: newEngine(deps), counter: counter}
}

// Select is a dry run: it reports which rule of ruleType would apply to the ticket.
func (s *AutomationService) Select(ctx context.Context, ticketID string, ruleType domain.AutomationRuleType) (*domain.AutomationRule, bool, error) {
	repos := s.store.Repos()
	ticket, err := loadTicket(ctx, repos, ticketID)
	if err != nil {
		return nil, false, normalize(err)
	}
	ruleSet, err := repos.AutomationRules.List(ctx)
	if err != nil {
		return nil, false, normalize(err)
	}
	rule, ok := rules.Select(ticket, ruleSet, ruleType)
	return rule, ok, nil
}

// applyAttempts bounds how often Apply re-plans when the selected rule changes between the
// unlocked plan and the locked write.
const applyAttempts = 3

// automationPlan holds what was resolved from external collaborators before the ticket lock
// is taken.
type automationPlan struct {
	rule     domain.AutomationRule
	assignee *string
	members  []string
}

// Apply selects the first matching rule of ruleType and executes its action. Exactly one
// rule is applied per call. Directory and counter lookups happen before the ticket lock is
// taken; under the lock the rule is selected again and the plan is discarded if it changed.
func (s *AutomationService) Apply(ctx context.Context, actorID, ticketID string, ruleType domain.AutomationRuleType) (AutomationResult, error) {
	for attempt := 0; attempt < applyAttempts; attempt++ {
		plan, result, err := s.plan(ctx, ticketID, ruleType)
		if err != nil {
			return AutomationResult{}, s.fail("automation", ticketID, err)
		}
		if plan == nil {
			return result, nil
		}
		result, stale, err := s.execute(ctx, actorID, ticketID, ruleType, plan)
		if err != nil {
			return AutomationResult{}, err
		}
		if !stale {
			return result, nil
		}
		s.logger.Info("automation rule changed while applying, re-planning",
			zap.String("ticket_id", ticketID),
			zap.String("rule_id", plan.rule.ID))
	}
	return AutomationResult{}, s.fail("automation", ticketID, apperrors.NewConflict(
		"automation rules changed while applying", map[string]any{"rule_type": ruleType}))
}

// plan selects a rule on a snapshot and resolves its assignee inputs. A nil plan means
// nothing applies; result then carries the snapshot.
func (s *AutomationService) plan(ctx context.Context, ticketID string, ruleType domain.AutomationRuleType) (*automationPlan, AutomationResult, error) {
	repos := s.store.Repos()
	ticket, err := loadTicket(ctx, repos, ticketID)
	if err != nil {
		return nil, AutomationResult{}, err
	}
	result := AutomationResult{Ticket: ticket}
	if lifecycle.IsTerminal(ticket) {
		return nil, result, nil
	}
	ruleSet, err := repos.AutomationRules.List(ctx)
	if err != nil {
		return nil, AutomationResult{}, err
	}
	rule, ok := rules.Select(ticket, ruleSet, ruleType)
	if !ok {
		return nil, result, nil
	}

	plan := &automationPlan{rule: *rule}
	if rule.Type == domain.AutomationEscalation {
		return plan, result, nil
	}
	action := rule.Action
	switch action.Strategy {
	case domain.StrategySpecific:
		if action.AssigneeID != "" {
			id := action.AssigneeID
			plan.assignee = &id
		}
	case domain.StrategyRoundRobin:
		members, err := s.groupMembers(ctx, action.Group)
		if err != nil {
			return nil, AutomationResult{}, err
		}
		// The position is consumed even if the write later turns out to be a no-op or fails.
		n, err := s.counter.Next(ctx, action.Group)
		if err != nil {
			return nil, AutomationResult{}, apperrors.NewInfrastructureError(err)
		}
		id := members[int((n-1)%int64(len(members)))]
		plan.assignee = &id
	case domain.StrategyLeastBusy:
		if plan.members, err = s.groupMembers(ctx, action.Group); err != nil {
			return nil, AutomationResult{}, err
		}
	default:
		return nil, AutomationResult{}, apperrors.NewConfigurationError("unknown assignment strategy",
			map[string]any{"strategy": action.Strategy})
	}
	return plan, result, nil
}

// execute writes plan under the ticket lock. stale reports that the rule selected under the
// lock differs from the planned one and nothing was written.
func (s *AutomationService) execute(ctx context.Context, actorID, ticketID string, ruleType domain.AutomationRuleType, plan *automationPlan) (AutomationResult, bool, error) {
	var (
		result AutomationResult
		stale  bool
	)
	err := s.mutate(ctx, "automation", ticketID, func(repos repository.Repositories, out *outbox) error {
		now := s.clock()
		result, stale = AutomationResult{}, false
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		result.Ticket = ticket
		if lifecycle.IsTerminal(ticket) {
			return nil
		}
		ruleSet, err := repos.AutomationRules.List(ctx)
		if err != nil {
			return err
		}
		rule, ok := rules.Select(ticket, ruleSet, ruleType)
		if !ok || !samePlannedRule(rule, &plan.rule) {
			stale = true
			return nil
		}
		result.Rule = rule

		actor := actorOf(actorID)
		var next *domain.Ticket
		switch rule.Type {
		case domain.AutomationEscalation:
			next, err = s.escalate(ctx, repos, out, actor, ticket, rule)
		default:
			next, err = s.assign(ctx, repos, out, actor, ticket, rule, plan)
		}
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		out.add(events.New(events.EventAutomationRuleApplied, ticketID, actor, now, events.AutomationRuleAppliedPayload{
			RuleID:   rule.ID,
			RuleType: rule.Type,
		}))
		s.metrics.RecordAutomation(string(rule.Type), string(rule.Action.Strategy))
		result.Ticket = next
		result.Applied = true
		return nil
	})
	if err != nil {
		return AutomationResult{}, false, err
	}
	return result, stale, nil
}

func samePlannedRule(selected, planned *domain.AutomationRule) bool {
	return selected.ID == planned.ID && selected.Type == planned.Type && selected.Action == planned.Action
}

func (s *AutomationService) assign(ctx context.Context, repos repository.Repositories, out *outbox, actor events.Actor, ticket *domain.Ticket, rule *domain.AutomationRule, plan *automationPlan) (*domain.Ticket, error) {
	assignee := plan.assignee
	if rule.Action.Strategy == domain.StrategyLeastBusy {
		var err error
		if assignee, err = leastBusy(ctx, repos, plan.members); err != nil {
			return nil, err
		}
	}
	var group *string
	if rule.Action.Group != "" {
		g := rule.Action.Group
		group = &g
	} else {
		group = ticket.AssigneeGroup
	}
	if assignee == nil {
		assignee = ticket.AssigneeID
	}
	if equalPtr(assignee, ticket.AssigneeID) && equalPtr(group, ticket.AssigneeGroup) {
		return nil, nil
	}

	now := s.clock()
	next := ticket.Clone()
	next.AssigneeID = assignee
	next.AssigneeGroup = group
	next.UpdatedAt = now
	if err := repos.Tickets.Update(ctx, next); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, repos, actor, ticket.ID, domain.ChangeTypeAssignee,
		map[string]any{"assignee_id": ticket.AssigneeID, "assignee_group": ticket.AssigneeGroup},
		map[string]any{"assignee_id": next.AssigneeID, "assignee_group": next.AssigneeGroup, "rule_id": rule.ID},
		now); err != nil {
		return nil, err
	}
	out.add(events.New(events.EventTicketAssigned, ticket.ID, actor, now, events.TicketAssignedPayload{
		AssigneeID:    next.AssigneeID,
		AssigneeGroup: next.AssigneeGroup,
		Strategy:      rule.Action.Strategy,
		RuleID:        rule.ID,
	}))
	return next, nil
}

// leastBusy picks the member with the fewest open tickets; ties go to the earlier member.
func leastBusy(ctx context.Context, repos repository.Repositories, members []string) (*string, error) {
	counts, err := repos.Tickets.CountOpenByAssignee(ctx, members, lifecycle.TerminalStatuses())
	if err != nil {
		return nil, err
	}
	best := members[0]
	for _, m := range members[1:] {
		if counts[m] < counts[best] {
			best = m
		}
	}
	return &best, nil
}

func (s *AutomationService) groupMembers(ctx context.Context, group string) ([]string, error) {
	if s.directory == nil {
		return nil, apperrors.NewConfigurationError("no directory configured for group assignment", map[string]any{"group": group})
	}
	members, err := s.directory.GroupMembers(ctx, group)
	if err != nil {
		return nil, apperrors.NewInfrastructureError(err)
	}
	if len(members) == 0 {
		return nil, apperrors.NewConflict("no eligible members for group", map[string]any{"group": group})
	}
	return members, nil
}

// escalate applies an escalation-type rule: the ticket moves up one level right away.
func (s *AutomationService) escalate(ctx context.Context, repos repository.Repositories, out *outbox, actor events.Actor, ticket *domain.Ticket, rule *domain.AutomationRule) (*domain.Ticket, error) {
	now := s.clock()
	record := domain.EscalationRecord{
		TicketID:    ticket.ID,
		Level:       ticket.EscalationLevel + 1,
		RuleID:      rule.ID,
		EscalateTo:  rule.Action.EscalateTo,
		EscalatedAt: now,
	}
	if err := repos.Escalations.Create(ctx, &record); err != nil {
		return nil, err
	}
	next := ticket.Clone()
	next.EscalationLevel = record.Level
	next.UpdatedAt = now
	if err := repos.Tickets.Update(ctx, next); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, repos, actor, ticket.ID, domain.ChangeTypeEscalation,
		map[string]any{"escalation_level": ticket.EscalationLevel},
		map[string]any{"escalation_level": record.Level, "rule_id": rule.ID, "escalate_to": record.EscalateTo},
		now); err != nil {
		return nil, err
	}
	out.add(events.New(events.EventTicketEscalated, ticket.ID, actor, now, events.TicketEscalatedPayload{
		Action: domain.EscalationAction{
			TicketID:   ticket.ID,
			RuleID:     rule.ID,
			Level:      record.Level,
			EscalateTo: record.EscalateTo,
			Notify:     rule.Action.Notify,
			At:         now,
		},
	}))
	return next, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// roundRobinCounter hands out a strictly increasing sequence per group, starting at 1.
type roundRobinCounter interface {
	Next(ctx context.Context, group string) (int64, error)
}

type redisCounter struct {
	client redis.UniversalClient
	prefix string
}

func (c redisCounter) Next(ctx context.Context, group string) (int64, error) {
	return c.client.Incr(ctx, c.prefix+group).Result()
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{counts: make(map[string]int64)}
}

func (c *memoryCounter) Next(_ context.Context, group string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[group]++
	return c.counts[group], nil
}

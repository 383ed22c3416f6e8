package rules

import (
	"sort"
	"strings"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Select returns the first active rule of ruleType, in priority order (1 first, ties by
// declaration order), whose conditions all match the ticket. The rules slice is not reordered.
func Select(ticket *domain.Ticket, rules []domain.AutomationRule, ruleType domain.AutomationRuleType) (*domain.AutomationRule, bool) {
	candidates := make([]domain.AutomationRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive && rule.Type == ruleType {
			candidates = append(candidates, rule)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Position < candidates[j].Position
	})
	for i := range candidates {
		if Matches(ticket, candidates[i].Conditions) {
			selected := candidates[i]
			return &selected, true
		}
	}
	return nil, false
}

// FirstEscalationRule returns the first rule in declaration order that applies to the ticket.
func FirstEscalationRule(ticket *domain.Ticket, rules []domain.EscalationRule) (*domain.EscalationRule, bool) {
	for i := range rules {
		rule := rules[i]
		if rule.TicketType != "" && rule.TicketType != ticket.Type {
			continue
		}
		if Matches(ticket, rule.Conditions) {
			return &rule, true
		}
	}
	return nil, false
}

// ValidateAutomationRule checks an automation rule and its action payload before it is stored.
func ValidateAutomationRule(rule domain.AutomationRule) error {
	details := map[string]any{"rule_id": rule.ID, "type": rule.Type}
	if strings.TrimSpace(rule.ID) == "" {
		return apperrors.NewConfigurationError("automation rule id required", details)
	}
	if rule.Priority < 1 {
		return apperrors.NewConfigurationError("priority must be at least 1", details)
	}
	switch rule.Type {
	case domain.AutomationAssignment, domain.AutomationRouting:
		if err := validateAssignment(rule.Action, details); err != nil {
			return err
		}
	case domain.AutomationEscalation:
		if strings.TrimSpace(rule.Action.EscalateTo) == "" {
			return apperrors.NewConfigurationError("escalate_to required", details)
		}
	default:
		return apperrors.NewConfigurationError("unknown automation rule type", details)
	}
	return ValidateConditions(rule.Conditions)
}

func validateAssignment(action domain.AutomationAction, details map[string]any) error {
	switch action.Strategy {
	case domain.StrategySpecific:
		if action.AssigneeID == "" && action.Group == "" {
			return apperrors.NewConfigurationError("specific strategy needs an assignee or group", details)
		}
	case domain.StrategyRoundRobin, domain.StrategyLeastBusy:
		if action.Group == "" {
			return apperrors.NewConfigurationError("strategy requires a target group", details)
		}
	default:
		return apperrors.NewConfigurationError("unknown assignment strategy", details)
	}
	return nil
}

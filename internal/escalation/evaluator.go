// Package escalation decides time-in-state escalations for a single ticket.
package escalation

import (
	"strings"
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	"github.com/spec-kit/itsm-engine/internal/rules"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Escalation is one planned level increase.
type Escalation struct {
	Ticket *domain.Ticket
	Rule   domain.EscalationRule
	Record domain.EscalationRecord
	Action domain.EscalationAction
}

// Evaluate returns the escalation due for ticket at now, if any. The first rule in declaration
// order that applies decides; a ticket moves at most one level per call.
//
// A ticket that has escalated k times since entering its current status is due again once
// (k+1) time limits have elapsed. A level that already has a record is never raised twice.
func Evaluate(ticket *domain.Ticket, ruleSet []domain.EscalationRule, history []domain.EscalationRecord, now time.Time) (Escalation, bool) {
	if lifecycle.IsTerminal(ticket) {
		return Escalation{}, false
	}
	rule, ok := rules.FirstEscalationRule(ticket, ruleSet)
	if !ok || rule.TimeLimit <= 0 {
		return Escalation{}, false
	}

	target := ticket.EscalationLevel + 1
	if rule.MaxLevel > 0 && target > rule.MaxLevel {
		return Escalation{}, false
	}

	sinceEntered := 0
	for _, rec := range history {
		if rec.TicketID != ticket.ID {
			continue
		}
		if rec.Level == target {
			return Escalation{}, false
		}
		if !rec.EscalatedAt.Before(ticket.StateEnteredAt) {
			sinceEntered++
		}
	}

	threshold := time.Duration(sinceEntered+1) * rule.TimeLimit
	if now.Sub(ticket.StateEnteredAt) < threshold {
		return Escalation{}, false
	}

	next := ticket.Clone()
	next.EscalationLevel = target
	next.UpdatedAt = now

	return Escalation{
		Ticket: next,
		Rule:   *rule,
		Record: domain.EscalationRecord{
			TicketID:    ticket.ID,
			Level:       target,
			RuleID:      rule.ID,
			EscalateTo:  rule.EscalateTo,
			EscalatedAt: now,
		},
		Action: domain.EscalationAction{
			TicketID:   ticket.ID,
			RuleID:     rule.ID,
			Level:      target,
			EscalateTo: rule.EscalateTo,
			Notify:     rule.Notify,
			At:         now,
		},
	}, true
}

// ValidateRule checks an escalation rule before it is stored.
func ValidateRule(rule domain.EscalationRule) error {
	details := map[string]any{"rule_id": rule.ID}
	if strings.TrimSpace(rule.ID) == "" {
		return apperrors.NewConfigurationError("escalation rule id required", details)
	}
	if rule.TicketType != "" {
		if _, ok := lifecycle.TableFor(rule.TicketType); !ok {
			return apperrors.NewConfigurationError("unknown ticket type", details)
		}
	}
	if rule.TimeLimit <= 0 {
		return apperrors.NewConfigurationError("time limit must be positive", details)
	}
	if strings.TrimSpace(rule.EscalateTo) == "" {
		return apperrors.NewConfigurationError("escalate_to required", details)
	}
	if rule.MaxLevel < 0 {
		return apperrors.NewConfigurationError("max level cannot be negative", details)
	}
	return rules.ValidateConditions(rule.Conditions)
}

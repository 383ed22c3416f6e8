// Package rules evaluates declarative ticket predicates and selects automation rules.
package rules

import (
	"strconv"
	"strings"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

const customPrefix = "custom."

var priorityRank = map[string]float64{
	string(domain.TicketPriorityLow):      1,
	string(domain.TicketPriorityMedium):   2,
	string(domain.TicketPriorityHigh):     3,
	string(domain.TicketPriorityCritical): 4,
}

// Matches reports whether every condition holds for the ticket. No conditions always match.
func Matches(ticket *domain.Ticket, conditions []domain.Condition) bool {
	for _, cond := range conditions {
		if !Evaluate(ticket, cond) {
			return false
		}
	}
	return true
}

// Evaluate checks a single condition. Unknown fields never match.
func Evaluate(ticket *domain.Ticket, cond domain.Condition) bool {
	actual, present, known := fieldValue(ticket, cond.Field)
	if !known {
		return false
	}

	switch cond.Operator {
	case domain.OperatorEquals:
		return present && strings.EqualFold(actual, cond.Value)
	case domain.OperatorNotEquals:
		return !present || !strings.EqualFold(actual, cond.Value)
	case domain.OperatorContains:
		return present && strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	case domain.OperatorIn:
		return present && containsFold(cond.Values, actual)
	case domain.OperatorNotIn:
		return !present || !containsFold(cond.Values, actual)
	case domain.OperatorGreaterThan:
		cmp, ok := compare(cond.Field, actual, cond.Value)
		return present && ok && cmp > 0
	case domain.OperatorLessThan:
		cmp, ok := compare(cond.Field, actual, cond.Value)
		return present && ok && cmp < 0
	default:
		return false
	}
}

// ValidateConditions rejects malformed predicates at configuration time.
func ValidateConditions(conditions []domain.Condition) error {
	for i, cond := range conditions {
		details := map[string]any{"index": i, "field": cond.Field, "operator": cond.Operator}
		if strings.TrimSpace(cond.Field) == "" {
			return apperrors.NewConfigurationError("condition field required", details)
		}
		if !knownField(cond.Field) {
			return apperrors.NewConfigurationError("unknown condition field", details)
		}
		switch cond.Operator {
		case domain.OperatorEquals, domain.OperatorNotEquals, domain.OperatorContains:
		case domain.OperatorIn, domain.OperatorNotIn:
			if len(cond.Values) == 0 {
				return apperrors.NewConfigurationError("operator requires values", details)
			}
		case domain.OperatorGreaterThan, domain.OperatorLessThan:
			if _, ok := compare(cond.Field, cond.Value, cond.Value); !ok {
				return apperrors.NewConfigurationError("operator requires an ordered value", details)
			}
		default:
			return apperrors.NewConfigurationError("unknown condition operator", details)
		}
	}
	return nil
}

func knownField(field string) bool {
	_, _, known := fieldValue(&domain.Ticket{}, field)
	return known
}

// fieldValue returns the ticket attribute addressed by field, whether it is set,
// and whether field names an attribute at all.
func fieldValue(ticket *domain.Ticket, field string) (string, bool, bool) {
	if strings.HasPrefix(field, customPrefix) {
		key := strings.TrimPrefix(field, customPrefix)
		if key == "" {
			return "", false, false
		}
		val, ok := ticket.CustomFields[key]
		return val, ok, true
	}
	switch field {
	case "type":
		return string(ticket.Type), ticket.Type != "", true
	case "status":
		return string(ticket.Status), ticket.Status != "", true
	case "priority":
		return string(ticket.Priority), ticket.Priority != "", true
	case "category":
		return ticket.Category, ticket.Category != "", true
	case "severity":
		return ticket.Severity, ticket.Severity != "", true
	case "risk":
		return ticket.Risk, ticket.Risk != "", true
	case "requester_id":
		return ticket.RequesterID, ticket.RequesterID != "", true
	case "assignee_id":
		return deref(ticket.AssigneeID), ticket.AssigneeID != nil, true
	case "assignee_group":
		return deref(ticket.AssigneeGroup), ticket.AssigneeGroup != nil, true
	case "escalation_level":
		return strconv.Itoa(ticket.EscalationLevel), true, true
	case "major_incident":
		return strconv.FormatBool(ticket.MajorIncident), true, true
	}
	return "", false, false
}

// compare orders priorities by urgency and everything else numerically.
func compare(field, actual, expected string) (int, bool) {
	if field == "priority" {
		a, okA := priorityRank[strings.ToLower(actual)]
		b, okB := priorityRank[strings.ToLower(expected)]
		if okA && okB {
			return cmpFloat(a, b), true
		}
	}
	a, errA := strconv.ParseFloat(actual, 64)
	b, errB := strconv.ParseFloat(expected, 64)
	if errA != nil || errB != nil {
		return 0, false
	}
	return cmpFloat(a, b), true
}

func cmpFloat(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

func containsFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

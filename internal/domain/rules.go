package domain

import "time"

// Operator names a predicate comparison.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

// Condition is a declarative (field, operator, value) predicate over a ticket snapshot.
// Custom fields are addressed as "custom.<key>".
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// EscalationRule is stateless configuration evaluated in declaration order.
type EscalationRule struct {
	ID         string        `json:"id" yaml:"id"`
	Name       string        `json:"name" yaml:"name"`
	TicketType TicketType    `json:"ticket_type,omitempty" yaml:"ticket_type,omitempty"`
	Conditions []Condition   `json:"conditions" yaml:"conditions"`
	TimeLimit  time.Duration `json:"time_limit" yaml:"time_limit"`
	EscalateTo string        `json:"escalate_to" yaml:"escalate_to"`
	Notify     bool          `json:"notify" yaml:"notify"`
	MaxLevel   int           `json:"max_level,omitempty" yaml:"max_level,omitempty"`
	Position   int           `json:"position" yaml:"-"`
}

// EscalationRecord marks that a ticket reached a level; (TicketID, Level) is unique.
type EscalationRecord struct {
	TicketID    string
	Level       int
	RuleID      string
	EscalateTo  string
	EscalatedAt time.Time
}

// EscalationAction is the side-channel signal emitted by an escalation pass.
type EscalationAction struct {
	TicketID   string    `json:"ticket_id"`
	RuleID     string    `json:"rule_id"`
	Level      int       `json:"level"`
	EscalateTo string    `json:"escalate_to"`
	Notify     bool      `json:"notify"`
	At         time.Time `json:"at"`
}

// AutomationRuleType selects the action family a rule belongs to.
type AutomationRuleType string

const (
	AutomationAssignment AutomationRuleType = "assignment"
	AutomationRouting    AutomationRuleType = "routing"
	AutomationEscalation AutomationRuleType = "escalation"
)

// AssignmentStrategy names how an assignment action picks an assignee.
type AssignmentStrategy string

const (
	StrategySpecific   AssignmentStrategy = "specific"
	StrategyRoundRobin AssignmentStrategy = "round_robin"
	StrategyLeastBusy  AssignmentStrategy = "least_busy"
)

// AutomationAction is the payload applied when a rule is selected.
type AutomationAction struct {
	Strategy   AssignmentStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	AssigneeID string             `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	Group      string             `json:"group,omitempty" yaml:"group,omitempty"`
	EscalateTo string             `json:"escalate_to,omitempty" yaml:"escalate_to,omitempty"`
	Notify     bool               `json:"notify,omitempty" yaml:"notify,omitempty"`
}

// AutomationRule is a priority-ranked condition→action mapping. Priority 1 is highest.
type AutomationRule struct {
	ID         string             `json:"id" yaml:"id"`
	Name       string             `json:"name" yaml:"name"`
	Type       AutomationRuleType `json:"type" yaml:"type"`
	Conditions []Condition        `json:"conditions" yaml:"conditions"`
	Action     AutomationAction   `json:"action" yaml:"action"`
	Priority   int                `json:"priority" yaml:"priority"`
	IsActive   bool               `json:"is_active" yaml:"is_active"`
	Position   int                `json:"-" yaml:"-"`
}

package domain

import "time"

// ApprovalType decides how a level's decisions resolve it.
type ApprovalType string

const (
	ApprovalTypeAny      ApprovalType = "ANY"
	ApprovalTypeAll      ApprovalType = "ALL"
	ApprovalTypeMajority ApprovalType = "MAJORITY"
)

// RejectAction is applied when a level resolves REJECTED.
type RejectAction string

const (
	RejectActionEnd    RejectAction = "END"
	RejectActionReturn RejectAction = "RETURN"
	RejectActionCustom RejectAction = "CUSTOM"
)

// TimeoutAction is applied when an active level outlives its timeout.
type TimeoutAction string

const (
	TimeoutAutoApprove TimeoutAction = "auto_approve"
	TimeoutAutoReject  TimeoutAction = "auto_reject"
	TimeoutEscalate    TimeoutAction = "escalate"
)

// SystemApprover is the approver id recorded for decisions taken on timeout.
const SystemApprover = "system"

// Decision is a single approver's verdict.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// LevelOutcome is the resolution state of one approval level.
type LevelOutcome string

const (
	LevelPending  LevelOutcome = "PENDING"
	LevelApproved LevelOutcome = "APPROVED"
	LevelRejected LevelOutcome = "REJECTED"
)

// ChainStatus is the runtime state of an attached approval chain.
type ChainStatus string

const (
	ChainStatusInactive       ChainStatus = "INACTIVE"
	ChainStatusActive         ChainStatus = "ACTIVE"
	ChainStatusApproved       ChainStatus = "APPROVED"
	ChainStatusRejected       ChainStatus = "REJECTED"
	ChainStatusReturned       ChainStatus = "RETURNED"
	ChainStatusCustomRejected ChainStatus = "CUSTOM_REJECTED"
)

// IsFrozen reports whether the chain accepts no further mutation.
func (s ChainStatus) IsFrozen() bool {
	return s == ChainStatusRejected || s == ChainStatusCustomRejected
}

// ApprovalLevel is one stage of a chain definition.
type ApprovalLevel struct {
	Level         int          `json:"level" yaml:"level"`
	Name          string       `json:"name" yaml:"name"`
	Approvers     []string     `json:"approvers" yaml:"approvers"`
	ApprovalType  ApprovalType `json:"approval_type" yaml:"approval_type"`
	AllowReject   bool         `json:"allow_reject" yaml:"allow_reject"`
	AllowDelegate bool         `json:"allow_delegate" yaml:"allow_delegate"`
	RejectAction  RejectAction `json:"reject_action" yaml:"reject_action"`

	// TimeoutHours of zero disables the timeout.
	TimeoutHours      int           `json:"timeout_hours,omitempty" yaml:"timeout_hours,omitempty"`
	TimeoutAction     TimeoutAction `json:"timeout_action,omitempty" yaml:"timeout_action,omitempty"`
	TimeoutEscalateTo string        `json:"timeout_escalate_to,omitempty" yaml:"timeout_escalate_to,omitempty"`
}

// Timeout returns the configured level timeout, zero when none.
func (l ApprovalLevel) Timeout() time.Duration {
	return time.Duration(l.TimeoutHours) * time.Hour
}

// ApprovalChainDefinition is the configured, ordered list of levels gating a ticket type.
type ApprovalChainDefinition struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	TicketType    TicketType      `json:"ticket_type" yaml:"ticket_type"`
	PendingStatus TicketStatus    `json:"pending_status" yaml:"pending_status"`
	SuccessStatus TicketStatus    `json:"success_status" yaml:"success_status"`
	FailureStatus TicketStatus    `json:"failure_status" yaml:"failure_status"`
	ReturnStatus  TicketStatus    `json:"return_status" yaml:"return_status"`
	Levels        []ApprovalLevel `json:"levels" yaml:"levels"`
	CreatedAt     time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" yaml:"-"`
}

// Level returns the configured level with the given index.
func (d *ApprovalChainDefinition) Level(index int) (ApprovalLevel, bool) {
	if index < 1 || index > len(d.Levels) {
		return ApprovalLevel{}, false
	}
	lvl := d.Levels[index-1]
	return lvl, lvl.Level == index
}

// Delegation reassigns one approver's pending obligation within a level.
type Delegation struct {
	Level int       `json:"level"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

// ApprovalChain is the runtime instance attached to a ticket through Ticket.ChainID.
type ApprovalChain struct {
	ID           string
	DefinitionID string
	TicketID     string
	Status       ChainStatus
	ActiveLevel  int
	Cycles       map[int]int
	Outcomes     map[int]LevelOutcome
	Delegations  []Delegation

	// LevelStartedAt is when the active level became active; zero when no level is active.
	LevelStartedAt   time.Time
	TimeoutEscalated bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CycleOf returns the current decision cycle of a level.
func (c *ApprovalChain) CycleOf(level int) int {
	if c.Cycles == nil {
		return 0
	}
	return c.Cycles[level]
}

// OutcomeOf returns the resolution of a level in its current cycle.
func (c *ApprovalChain) OutcomeOf(level int) LevelOutcome {
	if outcome, ok := c.Outcomes[level]; ok {
		return outcome
	}
	return LevelPending
}

// Clone returns a deep copy.
func (c *ApprovalChain) Clone() *ApprovalChain {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Cycles = make(map[int]int, len(c.Cycles))
	for k, v := range c.Cycles {
		cp.Cycles[k] = v
	}
	cp.Outcomes = make(map[int]LevelOutcome, len(c.Outcomes))
	for k, v := range c.Outcomes {
		cp.Outcomes[k] = v
	}
	cp.Delegations = append([]Delegation(nil), c.Delegations...)
	return &cp
}

// ApprovalRecord is an immutable decision entry.
type ApprovalRecord struct {
	ID        string
	ChainID   string
	Level     int
	Cycle     int
	Approver  string
	Decision  Decision
	Comment   string
	CreatedAt time.Time
}

// Superseded reports whether the record belongs to an earlier cycle of its level.
func (r ApprovalRecord) Superseded(chain *ApprovalChain) bool {
	return r.Cycle < chain.CycleOf(r.Level)
}

// Package approval evaluates multi-level approval chains. Functions here are pure: they take
// snapshots and return updated copies, leaving persistence and locking to the caller.
package approval

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Effect is what a decision did to the chain as a whole.
type Effect string

const (
	EffectNone           Effect = "NONE"
	EffectAdvanced       Effect = "ADVANCED"
	EffectApproved       Effect = "APPROVED"
	EffectRejected       Effect = "REJECTED"
	EffectReturned       Effect = "RETURNED"
	EffectCustomRejected Effect = "CUSTOM_REJECTED"
	EffectEscalated      Effect = "ESCALATED"
)

// DecisionInput is one approver's submission for a level.
type DecisionInput struct {
	Level    int
	Approver string
	Decision domain.Decision
	Comment  string
	At       time.Time
}

// ChainOutcome is the result of Submit. Chain is an updated copy; Record is nil for duplicates.
// TargetStatus is the ticket status the caller must move to, empty when the ticket stays put.
type ChainOutcome struct {
	Chain        *domain.ApprovalChain
	Record       *domain.ApprovalRecord
	Duplicate    bool
	Level        int
	LevelOutcome domain.LevelOutcome
	Effect       Effect
	ActiveLevel  int
	TargetStatus domain.TicketStatus
}

// NewChain builds an inactive runtime chain for a ticket.
func NewChain(def *domain.ApprovalChainDefinition, ticketID string, now time.Time) *domain.ApprovalChain {
	return &domain.ApprovalChain{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		TicketID:     ticketID,
		Status:       domain.ChainStatusInactive,
		Cycles:       map[int]int{},
		Outcomes:     map[int]domain.LevelOutcome{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Activate (re)starts the chain at level 1. Every level gets a fresh cycle so earlier
// decisions become superseded; delegations from the previous run are dropped.
func Activate(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, now time.Time) (*domain.ApprovalChain, error) {
	if chain.Status.IsFrozen() {
		return nil, apperrors.NewChainFrozen(chain.ID)
	}
	next := chain.Clone()
	for _, lvl := range def.Levels {
		next.Cycles[lvl.Level]++
	}
	next.Outcomes = map[int]domain.LevelOutcome{}
	next.Delegations = nil
	next.Status = domain.ChainStatusActive
	enterLevel(next, 1, now)
	next.UpdatedAt = now
	return next, nil
}

// Deactivate parks a running chain when the ticket leaves the pending status by other means.
func Deactivate(chain *domain.ApprovalChain, now time.Time) *domain.ApprovalChain {
	next := chain.Clone()
	if next.Status == domain.ChainStatusActive {
		next.Status = domain.ChainStatusInactive
		enterLevel(next, 0, now)
		next.UpdatedAt = now
	}
	return next
}

// Submit applies one decision to the chain.
func Submit(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, records []domain.ApprovalRecord, in DecisionInput) (ChainOutcome, error) {
	if err := Validate(def); err != nil {
		return ChainOutcome{}, err
	}
	if in.Decision != domain.DecisionApproved && in.Decision != domain.DecisionRejected {
		return ChainOutcome{}, apperrors.NewValidationError("decision must be APPROVED or REJECTED",
			map[string]any{"decision": in.Decision})
	}
	if strings.TrimSpace(in.Approver) == "" {
		return ChainOutcome{}, apperrors.NewValidationError("approver required", nil)
	}

	lvl, err := checkActiveLevel(def, chain, in.Level)
	if err != nil {
		return ChainOutcome{}, err
	}

	approvers := EffectiveApprovers(lvl, chain.Delegations)
	if !contains(approvers, in.Approver) {
		return ChainOutcome{}, apperrors.NewUnauthorizedApprover(in.Approver, in.Level)
	}
	if in.Decision == domain.DecisionRejected && !lvl.AllowReject {
		return ChainOutcome{}, apperrors.NewRejectNotAllowed(in.Level)
	}

	decisions := CurrentDecisions(chain, in.Level, approvers, records)
	if _, decided := decisions[in.Approver]; decided {
		return ChainOutcome{
			Chain:        chain.Clone(),
			Duplicate:    true,
			Level:        in.Level,
			LevelOutcome: chain.OutcomeOf(in.Level),
			Effect:       EffectNone,
			ActiveLevel:  chain.ActiveLevel,
		}, nil
	}

	record := &domain.ApprovalRecord{
		ID:        uuid.NewString(),
		ChainID:   chain.ID,
		Level:     in.Level,
		Cycle:     chain.CycleOf(in.Level),
		Approver:  in.Approver,
		Decision:  in.Decision,
		Comment:   in.Comment,
		CreatedAt: in.At,
	}
	decisions[in.Approver] = in.Decision

	next := chain.Clone()
	next.UpdatedAt = in.At
	outcome := ChainOutcome{
		Chain:        next,
		Record:       record,
		Level:        in.Level,
		LevelOutcome: EvaluateLevel(lvl.ApprovalType, approvers, decisions),
		Effect:       EffectNone,
	}

	resolveLevel(def, lvl, next, &outcome, in.At)
	return outcome, nil
}

// TimeoutDue reports whether the chain's active level has outlived its timeout at now and
// its timeout action has not been taken yet.
func TimeoutDue(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, now time.Time) (domain.ApprovalLevel, bool) {
	if chain.Status != domain.ChainStatusActive || chain.LevelStartedAt.IsZero() {
		return domain.ApprovalLevel{}, false
	}
	lvl, ok := def.Level(chain.ActiveLevel)
	if !ok || lvl.Timeout() <= 0 || now.Sub(chain.LevelStartedAt) < lvl.Timeout() {
		return domain.ApprovalLevel{}, false
	}
	if lvl.TimeoutAction == domain.TimeoutEscalate && chain.TimeoutEscalated {
		return domain.ApprovalLevel{}, false
	}
	return lvl, true
}

// Expire applies the active level's timeout action. Auto-approve and auto-reject resolve the
// level as a whole and are recorded under SystemApprover; escalate only marks the level so
// it is escalated once per activation.
func Expire(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, now time.Time) (ChainOutcome, error) {
	if err := Validate(def); err != nil {
		return ChainOutcome{}, err
	}
	lvl, due := TimeoutDue(def, chain, now)
	if !due {
		return ChainOutcome{}, apperrors.NewLevelNotActive(chain.ActiveLevel, chain.ActiveLevel)
	}
	next := chain.Clone()
	next.UpdatedAt = now
	outcome := ChainOutcome{
		Chain:        next,
		Level:        lvl.Level,
		LevelOutcome: domain.LevelPending,
		Effect:       EffectEscalated,
	}

	var decision domain.Decision
	switch lvl.TimeoutAction {
	case domain.TimeoutEscalate:
		next.TimeoutEscalated = true
		outcome.ActiveLevel = next.ActiveLevel
		return outcome, nil
	case domain.TimeoutAutoApprove:
		decision, outcome.LevelOutcome = domain.DecisionApproved, domain.LevelApproved
	case domain.TimeoutAutoReject:
		decision, outcome.LevelOutcome = domain.DecisionRejected, domain.LevelRejected
	}
	outcome.Record = &domain.ApprovalRecord{
		ID:        uuid.NewString(),
		ChainID:   chain.ID,
		Level:     lvl.Level,
		Cycle:     chain.CycleOf(lvl.Level),
		Approver:  domain.SystemApprover,
		Decision:  decision,
		Comment:   "approval timeout",
		CreatedAt: now,
	}
	resolveLevel(def, lvl, next, &outcome, now)
	return outcome, nil
}

// resolveLevel moves next according to outcome.LevelOutcome for lvl.
func resolveLevel(def *domain.ApprovalChainDefinition, lvl domain.ApprovalLevel, next *domain.ApprovalChain, outcome *ChainOutcome, at time.Time) {
	switch outcome.LevelOutcome {
	case domain.LevelApproved:
		next.Outcomes[lvl.Level] = domain.LevelApproved
		if lvl.Level == len(def.Levels) {
			next.Status = domain.ChainStatusApproved
			enterLevel(next, 0, at)
			outcome.Effect = EffectApproved
			outcome.TargetStatus = def.SuccessStatus
		} else {
			enterLevel(next, lvl.Level+1, at)
			outcome.Effect = EffectAdvanced
		}
	case domain.LevelRejected:
		next.Outcomes[lvl.Level] = domain.LevelRejected
		applyRejection(def, lvl, next, outcome, at)
	}
	outcome.ActiveLevel = next.ActiveLevel
}

func applyRejection(def *domain.ApprovalChainDefinition, lvl domain.ApprovalLevel, next *domain.ApprovalChain, outcome *ChainOutcome, at time.Time) {
	switch lvl.RejectAction {
	case domain.RejectActionEnd:
		next.Status = domain.ChainStatusRejected
		enterLevel(next, 0, at)
		outcome.Effect = EffectRejected
		outcome.TargetStatus = def.FailureStatus
	case domain.RejectActionCustom:
		next.Status = domain.ChainStatusCustomRejected
		enterLevel(next, 0, at)
		outcome.Effect = EffectCustomRejected
	case domain.RejectActionReturn:
		outcome.Effect = EffectReturned
		if lvl.Level == 1 {
			next.Cycles[1]++
			delete(next.Outcomes, 1)
			next.Status = domain.ChainStatusReturned
			enterLevel(next, 0, at)
			outcome.TargetStatus = def.ReturnStatus
			return
		}
		prev := lvl.Level - 1
		next.Cycles[lvl.Level]++
		next.Cycles[prev]++
		delete(next.Outcomes, lvl.Level)
		delete(next.Outcomes, prev)
		enterLevel(next, prev, at)
	}
}

// enterLevel makes level the active one; zero clears it.
func enterLevel(chain *domain.ApprovalChain, level int, at time.Time) {
	chain.ActiveLevel = level
	chain.TimeoutEscalated = false
	chain.LevelStartedAt = time.Time{}
	if level > 0 {
		chain.LevelStartedAt = at
	}
}

// Delegate moves from's pending obligation on the active level to another principal.
func Delegate(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, records []domain.ApprovalRecord, level int, from, to string, now time.Time) (*domain.ApprovalChain, domain.Delegation, error) {
	if err := Validate(def); err != nil {
		return nil, domain.Delegation{}, err
	}
	if strings.TrimSpace(to) == "" {
		return nil, domain.Delegation{}, apperrors.NewValidationError("delegate target required", nil)
	}
	lvl, err := checkActiveLevel(def, chain, level)
	if err != nil {
		return nil, domain.Delegation{}, err
	}
	details := map[string]any{"level": level, "from": from, "to": to}
	if !lvl.AllowDelegate {
		return nil, domain.Delegation{}, apperrors.NewDelegationNotAllowed("level does not allow delegation", details)
	}

	approvers := EffectiveApprovers(lvl, chain.Delegations)
	if !contains(approvers, from) {
		return nil, domain.Delegation{}, apperrors.NewUnauthorizedApprover(from, level)
	}
	if contains(approvers, to) {
		return nil, domain.Delegation{}, apperrors.NewDelegationNotAllowed("delegate is already an approver of this level", details)
	}
	if _, decided := CurrentDecisions(chain, level, approvers, records)[from]; decided {
		return nil, domain.Delegation{}, apperrors.NewDelegationNotAllowed("approver already decided", details)
	}

	delegation := domain.Delegation{Level: level, From: from, To: to, At: now}
	next := chain.Clone()
	next.Delegations = append(next.Delegations, delegation)
	next.UpdatedAt = now
	return next, delegation, nil
}

// checkActiveLevel maps the chain's state onto the decision-acceptance errors.
func checkActiveLevel(def *domain.ApprovalChainDefinition, chain *domain.ApprovalChain, level int) (domain.ApprovalLevel, error) {
	if chain.Status.IsFrozen() {
		return domain.ApprovalLevel{}, apperrors.NewChainFrozen(chain.ID)
	}
	lvl, ok := def.Level(level)
	if !ok {
		return domain.ApprovalLevel{}, apperrors.NewLevelNotActive(level, chain.ActiveLevel)
	}
	switch chain.Status {
	case domain.ChainStatusApproved:
		return domain.ApprovalLevel{}, apperrors.NewLevelAlreadyResolved(level)
	case domain.ChainStatusActive:
	default:
		return domain.ApprovalLevel{}, apperrors.NewLevelNotActive(level, chain.ActiveLevel)
	}
	if level < chain.ActiveLevel {
		return domain.ApprovalLevel{}, apperrors.NewLevelAlreadyResolved(level)
	}
	if level > chain.ActiveLevel {
		return domain.ApprovalLevel{}, apperrors.NewLevelNotActive(level, chain.ActiveLevel)
	}
	return lvl, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func changeDefinition(levels ...domain.ApprovalLevel) *domain.ApprovalChainDefinition {
	return &domain.ApprovalChainDefinition{
		ID:            "cab",
		Name:          "Change advisory",
		TicketType:    domain.TicketTypeChange,
		PendingStatus: domain.TicketStatusPending,
		SuccessStatus: domain.TicketStatusApproved,
		FailureStatus: domain.TicketStatusRejected,
		ReturnStatus:  domain.TicketStatusDraft,
		Levels:        levels,
	}
}

func level(n int, kind domain.ApprovalType, action domain.RejectAction, approvers ...string) domain.ApprovalLevel {
	return domain.ApprovalLevel{
		Level:         n,
		Name:          "L",
		Approvers:     approvers,
		ApprovalType:  kind,
		AllowReject:   true,
		AllowDelegate: true,
		RejectAction:  action,
	}
}

// harness threads chain state and records through successive submissions.
type harness struct {
	t       *testing.T
	def     *domain.ApprovalChainDefinition
	chain   *domain.ApprovalChain
	records []domain.ApprovalRecord
}

func newHarness(t *testing.T, def *domain.ApprovalChainDefinition) *harness {
	t.Helper()
	chain, err := Activate(def, NewChain(def, "ticket-1", t0), t0)
	require.NoError(t, err)
	return &harness{t: t, def: def, chain: chain}
}

func (h *harness) submit(lvl int, approver string, decision domain.Decision) (ChainOutcome, error) {
	out, err := Submit(h.def, h.chain, h.records, DecisionInput{Level: lvl, Approver: approver, Decision: decision, At: t0})
	if err != nil {
		return out, err
	}
	h.chain = out.Chain
	if out.Record != nil {
		h.records = append(h.records, *out.Record)
	}
	return out, nil
}

func (h *harness) mustSubmit(lvl int, approver string, decision domain.Decision) ChainOutcome {
	h.t.Helper()
	out, err := h.submit(lvl, approver, decision)
	require.NoError(h.t, err)
	return out
}

func TestSubmit_AllRequiresEveryApproval(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b", "c")))

	assert.Equal(t, domain.LevelPending, h.mustSubmit(1, "a", domain.DecisionApproved).LevelOutcome)
	assert.Equal(t, domain.LevelPending, h.mustSubmit(1, "b", domain.DecisionApproved).LevelOutcome)

	out := h.mustSubmit(1, "c", domain.DecisionApproved)
	assert.Equal(t, domain.LevelApproved, out.LevelOutcome)
	assert.Equal(t, EffectApproved, out.Effect)
	assert.Equal(t, domain.TicketStatusApproved, out.TargetStatus)
	assert.Equal(t, domain.ChainStatusApproved, h.chain.Status)
}

func TestSubmit_AllSingleRejectionResolvesImmediately(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b", "c")))

	out := h.mustSubmit(1, "b", domain.DecisionRejected)
	assert.Equal(t, domain.LevelRejected, out.LevelOutcome)
	assert.Equal(t, EffectRejected, out.Effect)
	assert.Equal(t, domain.TicketStatusRejected, out.TargetStatus)
	assert.True(t, h.chain.Status.IsFrozen())

	_, err := h.submit(1, "a", domain.DecisionApproved)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChainFrozen))
}

func TestSubmit_AnyFirstApprovalWins(t *testing.T) {
	h := newHarness(t, changeDefinition(
		level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a", "b"),
		level(2, domain.ApprovalTypeAny, domain.RejectActionEnd, "c"),
	))

	out := h.mustSubmit(1, "a", domain.DecisionApproved)
	assert.Equal(t, domain.LevelApproved, out.LevelOutcome)
	assert.Equal(t, EffectAdvanced, out.Effect)
	assert.Equal(t, 2, out.ActiveLevel)

	before := h.chain.Clone()
	_, err := h.submit(1, "b", domain.DecisionRejected)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelAlreadyResolved))
	assert.Equal(t, before, h.chain)
	assert.Len(t, h.records, 1)
}

func TestSubmit_AnyRejectsOnlyWhenEveryoneRejected(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a", "b")))

	assert.Equal(t, domain.LevelPending, h.mustSubmit(1, "a", domain.DecisionRejected).LevelOutcome)
	assert.Equal(t, domain.LevelRejected, h.mustSubmit(1, "b", domain.DecisionRejected).LevelOutcome)
}

func TestEvaluateLevel_Majority(t *testing.T) {
	approvers := []string{"a", "b", "c"}
	tests := []struct {
		name      string
		decisions map[string]domain.Decision
		want      domain.LevelOutcome
	}{
		{"two approvals", map[string]domain.Decision{"a": domain.DecisionApproved, "b": domain.DecisionApproved}, domain.LevelApproved},
		{"two rejections", map[string]domain.Decision{"a": domain.DecisionRejected, "c": domain.DecisionRejected}, domain.LevelRejected},
		{"split with one pending", map[string]domain.Decision{"a": domain.DecisionApproved, "b": domain.DecisionRejected}, domain.LevelPending},
		{"single approval", map[string]domain.Decision{"a": domain.DecisionApproved}, domain.LevelPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateLevel(domain.ApprovalTypeMajority, approvers, tt.decisions))
		})
	}

	tie := map[string]domain.Decision{"a": domain.DecisionApproved, "b": domain.DecisionRejected}
	assert.Equal(t, domain.LevelPending, EvaluateLevel(domain.ApprovalTypeMajority, []string{"a", "b"}, tie))
}

func TestSubmit_TwoLevelChangeReturnScenario(t *testing.T) {
	h := newHarness(t, changeDefinition(
		level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "A", "B"),
		level(2, domain.ApprovalTypeAll, domain.RejectActionReturn, "C", "D"),
	))

	out := h.mustSubmit(1, "A", domain.DecisionApproved)
	require.Equal(t, domain.LevelApproved, out.LevelOutcome)
	require.Equal(t, 2, h.chain.ActiveLevel)

	h.mustSubmit(2, "C", domain.DecisionApproved)
	out = h.mustSubmit(2, "D", domain.DecisionRejected)
	assert.Equal(t, domain.LevelRejected, out.LevelOutcome)
	assert.Equal(t, EffectReturned, out.Effect)
	assert.Empty(t, out.TargetStatus, "ticket stays in the pending status")
	assert.Equal(t, domain.ChainStatusActive, h.chain.Status)
	assert.Equal(t, 1, h.chain.ActiveLevel)
	assert.Equal(t, domain.LevelPending, h.chain.OutcomeOf(1))

	// every earlier record is kept but superseded
	require.Len(t, h.records, 3)
	for _, r := range h.records {
		assert.True(t, r.Superseded(h.chain), "record %s/%d", r.Approver, r.Level)
	}

	// A may decide again in the new cycle; C's old approval no longer counts
	assert.Equal(t, domain.LevelApproved, h.mustSubmit(1, "A", domain.DecisionApproved).LevelOutcome)
	assert.Equal(t, domain.LevelPending, h.mustSubmit(2, "D", domain.DecisionApproved).LevelOutcome)
	out = h.mustSubmit(2, "C", domain.DecisionApproved)
	assert.Equal(t, EffectApproved, out.Effect)
	assert.Equal(t, domain.TicketStatusApproved, out.TargetStatus)
}

func TestSubmit_ReturnAtFirstLevelGoesBackToSubmission(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAny, domain.RejectActionReturn, "a")))

	out := h.mustSubmit(1, "a", domain.DecisionRejected)
	assert.Equal(t, EffectReturned, out.Effect)
	assert.Equal(t, domain.TicketStatusDraft, out.TargetStatus)
	assert.Equal(t, domain.ChainStatusReturned, h.chain.Status)

	_, err := h.submit(1, "a", domain.DecisionApproved)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelNotActive))

	restarted, err := Activate(h.def, h.chain, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, restarted.ActiveLevel)
	assert.True(t, h.records[0].Superseded(restarted))
}

func TestSubmit_CustomRejectionFreezesWithoutStatusChange(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAll, domain.RejectActionCustom, "a", "b")))

	out := h.mustSubmit(1, "a", domain.DecisionRejected)
	assert.Equal(t, EffectCustomRejected, out.Effect)
	assert.Empty(t, out.TargetStatus)
	assert.Equal(t, domain.ChainStatusCustomRejected, h.chain.Status)

	_, err := Activate(h.def, h.chain, t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChainFrozen))
}

func TestSubmit_Rejections(t *testing.T) {
	noReject := level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b")
	noReject.AllowReject = false
	def := changeDefinition(noReject, level(2, domain.ApprovalTypeAny, domain.RejectActionEnd, "c"))

	tests := []struct {
		name string
		in   DecisionInput
		code string
	}{
		{"non member", DecisionInput{Level: 1, Approver: "mallory", Decision: domain.DecisionApproved}, apperrors.CodeUnauthorizedApprover},
		{"reject not allowed", DecisionInput{Level: 1, Approver: "a", Decision: domain.DecisionRejected}, apperrors.CodeRejectNotAllowed},
		{"future level", DecisionInput{Level: 2, Approver: "c", Decision: domain.DecisionApproved}, apperrors.CodeLevelNotActive},
		{"unknown level", DecisionInput{Level: 7, Approver: "c", Decision: domain.DecisionApproved}, apperrors.CodeLevelNotActive},
		{"bad decision", DecisionInput{Level: 1, Approver: "a", Decision: "MAYBE"}, apperrors.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, def)
			before := h.chain.Clone()
			_, err := h.submit(tt.in.Level, tt.in.Approver, tt.in.Decision)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, before, h.chain)
			assert.Empty(t, h.records)
		})
	}
}

func TestSubmit_InactiveChainAndBrokenDefinition(t *testing.T) {
	def := changeDefinition(level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a"))
	inactive := NewChain(def, "ticket-1", t0)
	_, err := Submit(def, inactive, nil, DecisionInput{Level: 1, Approver: "a", Decision: domain.DecisionApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelNotActive))

	broken := changeDefinition(level(2, domain.ApprovalTypeAny, domain.RejectActionEnd, "a"))
	_, err = Submit(broken, inactive, nil, DecisionInput{Level: 1, Approver: "a", Decision: domain.DecisionApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConfigurationError))
}

func TestSubmit_DuplicateDecisionWritesNothing(t *testing.T) {
	h := newHarness(t, changeDefinition(level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b")))
	h.mustSubmit(1, "a", domain.DecisionApproved)

	out := h.mustSubmit(1, "a", domain.DecisionApproved)
	assert.True(t, out.Duplicate)
	assert.Nil(t, out.Record)
	assert.Equal(t, EffectNone, out.Effect)
	assert.Len(t, h.records, 1)
}

func TestDelegate(t *testing.T) {
	def := changeDefinition(level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b"))
	h := newHarness(t, def)

	chain, delegation, err := Delegate(def, h.chain, h.records, 1, "b", "z", t0)
	require.NoError(t, err)
	assert.Equal(t, "z", delegation.To)
	assert.Equal(t, []string{"a", "z"}, EffectiveApprovers(def.Levels[0], chain.Delegations))
	assert.Empty(t, h.chain.Delegations, "input chain untouched")
	h.chain = chain

	_, err = h.submit(1, "b", domain.DecisionApproved)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorizedApprover))

	h.mustSubmit(1, "a", domain.DecisionApproved)
	_, _, err = Delegate(def, h.chain, h.records, 1, "a", "y", t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDelegationNotAllowed), "decided approver")

	_, _, err = Delegate(def, h.chain, h.records, 1, "z", "a", t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDelegationNotAllowed), "target already an approver")

	out := h.mustSubmit(1, "z", domain.DecisionApproved)
	assert.Equal(t, EffectApproved, out.Effect)

	_, _, err = Delegate(def, h.chain, h.records, 1, "z", "q", t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelAlreadyResolved))
}

func TestDelegate_DisabledOnLevel(t *testing.T) {
	lvl := level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a")
	lvl.AllowDelegate = false
	def := changeDefinition(lvl)
	h := newHarness(t, def)

	_, _, err := Delegate(def, h.chain, nil, 1, "a", "b", t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDelegationNotAllowed))
}

func TestDeactivate(t *testing.T) {
	def := changeDefinition(level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a"))
	h := newHarness(t, def)
	parked := Deactivate(h.chain, t0)
	assert.Equal(t, domain.ChainStatusInactive, parked.Status)
	assert.Zero(t, parked.ActiveLevel)
	assert.Equal(t, domain.ChainStatusActive, h.chain.Status)
}

func timedLevel(lvl domain.ApprovalLevel, hours int, action domain.TimeoutAction) domain.ApprovalLevel {
	lvl.TimeoutHours = hours
	lvl.TimeoutAction = action
	if action == domain.TimeoutEscalate {
		lvl.TimeoutEscalateTo = "change-manager"
	}
	return lvl
}

func TestTimeout_AutoApproveAdvancesAndRestartsClock(t *testing.T) {
	def := changeDefinition(
		timedLevel(level(1, domain.ApprovalTypeAll, domain.RejectActionEnd, "a", "b"), 4, domain.TimeoutAutoApprove),
		timedLevel(level(2, domain.ApprovalTypeAny, domain.RejectActionEnd, "c"), 2, domain.TimeoutAutoReject),
	)
	h := newHarness(t, def)
	assert.Equal(t, t0, h.chain.LevelStartedAt)
	h.mustSubmit(1, "a", domain.DecisionApproved)

	_, due := TimeoutDue(def, h.chain, t0.Add(3*time.Hour))
	assert.False(t, due)
	_, err := Expire(def, h.chain, t0.Add(3*time.Hour))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelNotActive))

	at := t0.Add(4 * time.Hour)
	out, err := Expire(def, h.chain, at)
	require.NoError(t, err)
	assert.Equal(t, EffectAdvanced, out.Effect)
	assert.Equal(t, 2, out.Chain.ActiveLevel)
	assert.Equal(t, at, out.Chain.LevelStartedAt)
	require.NotNil(t, out.Record)
	assert.Equal(t, domain.SystemApprover, out.Record.Approver)
	assert.Equal(t, domain.DecisionApproved, out.Record.Decision)
	h.chain = out.Chain

	_, due = TimeoutDue(def, h.chain, at.Add(time.Hour))
	assert.False(t, due)
	out, err = Expire(def, h.chain, at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, EffectRejected, out.Effect)
	assert.Equal(t, domain.ChainStatusRejected, out.Chain.Status)
	assert.Equal(t, domain.TicketStatusRejected, out.TargetStatus)
	assert.True(t, out.Chain.LevelStartedAt.IsZero())
}

func TestTimeout_EscalateFiresOncePerActivation(t *testing.T) {
	def := changeDefinition(
		timedLevel(level(1, domain.ApprovalTypeAny, domain.RejectActionReturn, "a"), 1, domain.TimeoutEscalate),
	)
	h := newHarness(t, def)

	out, err := Expire(def, h.chain, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, EffectEscalated, out.Effect)
	assert.Nil(t, out.Record)
	assert.Equal(t, domain.ChainStatusActive, out.Chain.Status)
	assert.True(t, out.Chain.TimeoutEscalated)
	assert.Empty(t, out.TargetStatus)

	_, due := TimeoutDue(def, out.Chain, t0.Add(10*time.Hour))
	assert.False(t, due)

	// A restart re-arms the timeout.
	restarted, err := Activate(def, Deactivate(out.Chain, t0.Add(11*time.Hour)), t0.Add(12*time.Hour))
	require.NoError(t, err)
	assert.False(t, restarted.TimeoutEscalated)
	_, due = TimeoutDue(def, restarted, t0.Add(13*time.Hour))
	assert.True(t, due)
}

func TestTimeout_NotConfiguredNeverDue(t *testing.T) {
	def := changeDefinition(level(1, domain.ApprovalTypeAny, domain.RejectActionEnd, "a"))
	h := newHarness(t, def)
	_, due := TimeoutDue(def, h.chain, t0.Add(1000*time.Hour))
	assert.False(t, due)
}

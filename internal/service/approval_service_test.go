package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

func TestApproval_TwoLevelChangeWithReturn(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)

	chain, err := f.approvals.Chain(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusActive, chain.Status)
	assert.Equal(t, 1, chain.ActiveLevel)

	// Manual approval while the chain runs is refused.
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, approval.EffectAdvanced, res.Effect)
	assert.Equal(t, 2, res.Chain.ActiveLevel)

	// CAB member rejects: back to level 1, ticket stays pending.
	res, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "bob", 2, domain.DecisionRejected, "needs rollback plan")
	require.NoError(t, err)
	assert.Equal(t, approval.EffectReturned, res.Effect)
	assert.Equal(t, 1, res.Chain.ActiveLevel)
	assert.Equal(t, domain.ChainStatusActive, res.Chain.Status)
	assert.Equal(t, domain.TicketStatusPending, res.Ticket.Status)

	_, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.True(t, v.Superseded, "record of %s should be superseded", v.Approver)
	}

	_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "bob", 2, domain.DecisionApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelNotActive))

	for _, step := range []struct {
		level    int
		approver string
	}{{1, "alice"}, {2, "bob"}, {2, "carol"}} {
		res, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, step.approver, step.level, domain.DecisionApproved, "")
		require.NoError(t, err)
	}
	assert.Equal(t, approval.EffectApproved, res.Effect)
	assert.Equal(t, domain.ChainStatusApproved, res.Chain.Status)
	assert.Equal(t, domain.TicketStatusApproved, res.Ticket.Status)

	stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusApproved, stored.Status)

	completed := f.recorder.ofType(events.EventApprovalChainCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, domain.ChainStatusApproved, completed[0].Payload.(events.ApprovalChainCompletedPayload).Status)

	_, views, err = f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, views, 5)
}

func TestApproval_EndRejectionFreezesChain(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)

	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionRejected, "not now")
	require.NoError(t, err)
	assert.Equal(t, approval.EffectRejected, res.Effect)
	assert.Equal(t, domain.TicketStatusRejected, res.Ticket.Status)
	require.NotNil(t, res.Ticket.ClosedAt)

	_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChainFrozen))

	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestApproval_RejectionsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)

	cases := map[string]struct {
		approver string
		level    int
		code     string
	}{
		"not a member":      {approver: "bob", level: 1, code: apperrors.CodeUnauthorizedApprover},
		"inactive":          {approver: "zed", level: 1, code: apperrors.CodeUnauthorizedApprover},
		"unknown principal": {approver: "mallory", level: 1, code: apperrors.CodeUnauthorizedApprover},
		"future level":      {approver: "bob", level: 2, code: apperrors.CodeLevelNotActive},
		"no such level":     {approver: "alice", level: 7, code: apperrors.CodeLevelNotActive},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, tc.approver, tc.level, domain.DecisionApproved, "")
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "%v", err)
		})
	}

	_, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestApproval_DuplicateDecisionWritesNothing(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)
	_, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	require.NoError(t, err)
	_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "bob", 2, domain.DecisionApproved, "")
	require.NoError(t, err)

	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "bob", 2, domain.DecisionApproved, "again")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Nil(t, res.Record)

	_, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestApproval_Delegation(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)
	_, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	require.NoError(t, err)

	_, err = f.approvals.Delegate(f.ctx, ticket.ID, 2, "carol", "zed")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDelegationNotAllowed))

	_, err = f.approvals.Delegate(f.ctx, ticket.ID, 1, "alice", "dave")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLevelAlreadyResolved))

	chain, err := f.approvals.Delegate(f.ctx, ticket.ID, 2, "carol", "dave")
	require.NoError(t, err)
	require.Len(t, chain.Delegations, 1)
	assert.Len(t, f.recorder.ofType(events.EventApprovalDelegated), 1)

	_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "carol", 2, domain.DecisionApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorizedApprover))

	_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, "dave", 2, domain.DecisionApproved, "")
	require.NoError(t, err)
	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "bob", 2, domain.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusApproved, res.Ticket.Status)
}

func TestApproval_CancelParksChainAndResubmitRestarts(t *testing.T) {
	f := newFixture(t)
	def := changeDefinition()
	def.ID = "change-returnable"
	def.Levels[0].RejectAction = domain.RejectActionReturn
	_, err := f.config.SaveChainDefinition(f.ctx, def)
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "DNS cutover"})
	require.NoError(t, err)
	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, def.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	require.NoError(t, err)

	// Level 1 return sends the ticket back to the submission stage.
	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionRejected, "incomplete")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusDraft, res.Ticket.Status)
	assert.Equal(t, domain.ChainStatusReturned, res.Chain.Status)

	// Resubmitting restarts the chain with a fresh cycle.
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "fixed")
	require.NoError(t, err)
	chain, err := f.approvals.Chain(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusActive, chain.Status)
	assert.Equal(t, 1, chain.ActiveLevel)

	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusCancelled, "")
	require.NoError(t, err)
	chain, err = f.approvals.Chain(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusInactive, chain.Status)
}

func TestApproval_AttachChainChecks(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)

	_, err := f.approvals.AttachChain(f.ctx, "requester", ticket.ID, "change-standard")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	incident, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeIncident, Title: "x"})
	require.NoError(t, err)
	_, err = f.approvals.AttachChain(f.ctx, "requester", incident.ID, "change-standard")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	_, err = f.approvals.SubmitDecision(f.ctx, incident.ID, "alice", 1, domain.DecisionApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestConfig_RejectsInvalidDefinition(t *testing.T) {
	f := newFixture(t)
	def := changeDefinition()
	def.Levels[1].Level = 3

	_, err := f.config.SaveChainDefinition(f.ctx, def)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConfigurationError))

	defs, err := f.config.ListChainDefinitions(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestApproval_ParkedChainCanBeReplaced(t *testing.T) {
	f := newFixture(t)
	_, err := f.config.SaveChainDefinition(f.ctx, changeDefinition())
	require.NoError(t, err)
	fast := changeDefinition()
	fast.ID = "change-fast"
	fast.Levels = fast.Levels[:1]
	_, err = f.config.SaveChainDefinition(f.ctx, fast)
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "Rotate certs"})
	require.NoError(t, err)
	first, err := f.approvals.AttachChain(f.ctx, "requester", ticket.ID, "change-standard")
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusInactive, first.Status)

	second, err := f.approvals.AttachChain(f.ctx, "requester", ticket.ID, "change-fast")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	require.NoError(t, err)
	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusApproved, res.Ticket.Status)
}

func TestApproval_CustomRejectedChainCannotBeReplaced(t *testing.T) {
	f := newFixture(t)
	def := changeDefinition()
	def.Levels[0].RejectAction = domain.RejectActionCustom
	_, err := f.config.SaveChainDefinition(f.ctx, def)
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "Move DNS"})
	require.NoError(t, err)
	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, def.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	require.NoError(t, err)

	res, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionRejected, "needs review board")
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusCustomRejected, res.Chain.Status)
	assert.Equal(t, domain.TicketStatusPending, res.Ticket.Status)

	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, def.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeChainFrozen))

	// Resolution happens through an explicit status change.
	resolved, err := f.lifecycle.Transition(f.ctx, "manager", ticket.ID, domain.TicketStatusRejected, "board declined")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusRejected, resolved.Status)
}

func TestApproval_ConcurrentDecisionsOnOneLevel(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		ticket := f.pendingChange(t)
		_, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, approver := range []string{"bob", "carol"} {
			wg.Add(1)
			go func(approver string) {
				defer wg.Done()
				_, err := f.approvals.SubmitDecision(f.ctx, ticket.ID, approver, 2, domain.DecisionApproved, "")
				errs <- err
			}(approver)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusApproved, stored.Status)
		assert.Len(t, f.recorder.ofType(events.EventApprovalChainCompleted), 1)

		chain, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ChainStatusApproved, chain.Status)
		assert.Len(t, views, 3)
	}
}

func TestApproval_ConcurrentDecisionAndCancel(t *testing.T) {
	f := newFixture(t)
	ticket := f.pendingChange(t)

	var wg sync.WaitGroup
	var decisionErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, decisionErr = f.approvals.SubmitDecision(f.ctx, ticket.ID, "alice", 1, domain.DecisionApproved, "")
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusCancelled, "withdrawn")
	}()
	wg.Wait()

	// Cancel always succeeds; the decision either landed first or finds the chain frozen.
	require.NoError(t, cancelErr)
	if decisionErr != nil {
		assert.True(t, apperrors.HasCode(decisionErr, apperrors.CodeChainFrozen), "%v", decisionErr)
	}
	stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, stored.Status)

	chain, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainStatusInactive, chain.Status)
	if decisionErr == nil {
		assert.Len(t, views, 1)
	} else {
		assert.Empty(t, views)
	}
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
)

func highIncidentRule() domain.EscalationRule {
	return domain.EscalationRule{
		ID:         "high-4h",
		Name:       "High priority incidents",
		TicketType: domain.TicketTypeIncident,
		Conditions: []domain.Condition{{Field: "priority", Operator: domain.OperatorEquals, Value: "high"}},
		TimeLimit:  4 * time.Hour,
		EscalateTo: "duty-manager",
		Notify:     true,
	}
}

func TestEscalation_FiveHourIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.config.SaveEscalationRule(f.ctx, highIncidentRule())
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "Checkout errors", Priority: domain.TicketPriorityHigh,
	})
	require.NoError(t, err)
	low, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "Typo on page", Priority: domain.TicketPriorityLow,
	})
	require.NoError(t, err)

	actions, err := f.escalation.Evaluate(f.ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ticket.ID, actions[0].TicketID)
	assert.Equal(t, 1, actions[0].Level)
	assert.Equal(t, "duty-manager", actions[0].EscalateTo)
	assert.True(t, actions[0].Notify)

	// Same instant again: nothing new.
	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(8*time.Hour))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, 2, actions[0].Level)

	stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Equal(t, domain.TicketStatusNew, stored.Status)
	assert.Equal(t, t0, stored.StateEnteredAt)

	untouched, err := f.lifecycle.Get(f.ctx, low.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.EscalationLevel)

	assert.Len(t, f.recorder.ofType(events.EventTicketEscalated), 2)
	history, err := f.lifecycle.History(f.ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ChangeTypeEscalation, history[1].ChangeType)
	assert.Equal(t, domain.ActorTypeSystem, history[1].ChangedByType)
}

func TestEscalation_SkipsTerminalAndRespectsMaxLevel(t *testing.T) {
	f := newFixture(t)
	rule := highIncidentRule()
	rule.MaxLevel = 1
	_, err := f.config.SaveEscalationRule(f.ctx, rule)
	require.NoError(t, err)

	open, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "open", Priority: domain.TicketPriorityHigh,
	})
	require.NoError(t, err)
	cancelled, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "cancelled", Priority: domain.TicketPriorityHigh,
	})
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(f.ctx, "agent", cancelled.ID, domain.TicketStatusCancelled, "duplicate")
	require.NoError(t, err)

	actions, err := f.escalation.Evaluate(f.ctx, t0.Add(30*time.Hour))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, open.ID, actions[0].TicketID)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(60*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestEscalation_NoRulesIsNoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeIncident, Title: "x"})
	require.NoError(t, err)

	actions, err := f.escalation.Evaluate(f.ctx, t0.Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestEscalation_ApprovalLevelTimeouts(t *testing.T) {
	f := newFixture(t)
	def := changeDefinition()
	def.Levels[0].TimeoutHours, def.Levels[0].TimeoutAction = 4, domain.TimeoutAutoApprove
	def.Levels[1].TimeoutHours, def.Levels[1].TimeoutAction = 2, domain.TimeoutEscalate
	def.Levels[1].TimeoutEscalateTo = "change-manager"
	_, err := f.config.SaveChainDefinition(f.ctx, def)
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "Patch hypervisors"})
	require.NoError(t, err)
	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, def.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	require.NoError(t, err)

	actions, err := f.escalation.Evaluate(f.ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)
	chain, err := f.approvals.Chain(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.ActiveLevel)
	assert.Equal(t, t0.Add(5*time.Hour), chain.LevelStartedAt)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(8*time.Hour))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "change-manager", actions[0].EscalateTo)
	assert.Equal(t, 1, actions[0].Level)

	actions, err = f.escalation.Evaluate(f.ctx, t0.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, actions)

	for _, approver := range []string{"bob", "carol"} {
		_, err = f.approvals.SubmitDecision(f.ctx, ticket.ID, approver, 2, domain.DecisionApproved, "")
		require.NoError(t, err)
	}
	stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusApproved, stored.Status)
	assert.Equal(t, 1, stored.EscalationLevel)

	_, views, err := f.approvals.ListRecords(f.ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, domain.SystemApprover, views[0].Approver)
	assert.Len(t, f.recorder.ofType(events.EventApprovalChainCompleted), 1)
}

func TestEscalation_ApprovalTimeoutAutoRejectEndsChain(t *testing.T) {
	f := newFixture(t)
	def := changeDefinition()
	def.Levels[0].TimeoutHours, def.Levels[0].TimeoutAction = 1, domain.TimeoutAutoReject
	_, err := f.config.SaveChainDefinition(f.ctx, def)
	require.NoError(t, err)
	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "Retire VLAN"})
	require.NoError(t, err)
	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, def.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "")
	require.NoError(t, err)

	_, err = f.escalation.Evaluate(f.ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)

	stored, err := f.lifecycle.Get(f.ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusRejected, stored.Status)
	history, err := f.lifecycle.History(f.ctx, ticket.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.ActorTypeSystem, last.ChangedByType)
	assert.Equal(t, domain.TicketStatusRejected, last.NewValue["status"])
}

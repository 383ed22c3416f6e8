package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

func TestCreateTicket_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type:  domain.TicketTypeIncident,
		Title: "  VPN down  ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, "VPN down", ticket.Title)
	assert.Equal(t, t0, ticket.StateEnteredAt)
	assert.Contains(t, ticket.ExternalKey, "INC-")

	cases := map[string]struct {
		input TicketCreateInput
		code  string
	}{
		"missing title": {
			input: TicketCreateInput{Type: domain.TicketTypeIncident},
			code:  apperrors.CodeValidationFailed,
		},
		"unknown priority": {
			input: TicketCreateInput{Type: domain.TicketTypeIncident, Title: "x", Priority: "urgent"},
			code:  apperrors.CodeValidationFailed,
		},
		"non-initial status": {
			input: TicketCreateInput{Type: domain.TicketTypeChange, Title: "x", Status: domain.TicketStatusApproved},
			code:  apperrors.CodeInvalidTransition,
		},
		"unknown type": {
			input: TicketCreateInput{Type: "PROBLEM", Title: "x"},
			code:  apperrors.CodeValidationFailed,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.lifecycle.CreateTicket(f.ctx, "requester", tc.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "%v", err)
		})
	}
}

func TestCreateTicket_RoundRobinAssignmentOnIntake(t *testing.T) {
	f := newFixture(t)
	_, err := f.config.SaveAutomationRule(f.ctx, domain.AutomationRule{
		ID: "network-rr", Name: "Network queue", Type: domain.AutomationAssignment, Priority: 1, IsActive: true,
		Conditions: []domain.Condition{{Field: "category", Operator: domain.OperatorEquals, Value: "network"}},
		Action:     domain.AutomationAction{Strategy: domain.StrategyRoundRobin, Group: "network"},
	})
	require.NoError(t, err)

	var assignees []string
	for i := 0; i < 3; i++ {
		ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
			Type: domain.TicketTypeIncident, Title: "Link flapping", Category: "network",
		})
		require.NoError(t, err)
		require.NotNil(t, ticket.AssigneeID)
		require.NotNil(t, ticket.AssigneeGroup)
		assert.Equal(t, "network", *ticket.AssigneeGroup)
		assignees = append(assignees, *ticket.AssigneeID)
	}
	// zed is inactive and never picked.
	assert.Equal(t, []string{"dave", "erin", "dave"}, assignees)

	other, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "Printer jam", Category: "hardware",
	})
	require.NoError(t, err)
	assert.Nil(t, other.AssigneeID)

	assert.Len(t, f.recorder.ofType(events.EventTicketAssigned), 3)
	assert.Len(t, f.recorder.ofType(events.EventAutomationRuleApplied), 3)
}

func TestTransition_TableAndHistory(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "Mail delayed",
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Transition(f.ctx, "agent", ticket.ID, domain.TicketStatusClosed, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	f.clock.Advance(time.Hour)
	updated, err := f.lifecycle.Transition(f.ctx, "agent", ticket.ID, domain.TicketStatusInProgress, "looking")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	assert.Equal(t, t0.Add(time.Hour), updated.StateEnteredAt)
	assert.Nil(t, updated.ClosedAt)

	_, err = f.lifecycle.Transition(f.ctx, "agent", ticket.ID, domain.TicketStatusResolved, "")
	require.NoError(t, err)
	closed, err := f.lifecycle.Transition(f.ctx, "agent", ticket.ID, domain.TicketStatusClosed, "")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)

	history, err := f.lifecycle.History(f.ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ChangeTypeStatus, history[0].ChangeType)
	assert.Equal(t, domain.ActorTypePrincipal, history[0].ChangedByType)
	assert.Equal(t, "looking", history[0].NewValue["comment"])

	_, err = f.lifecycle.Transition(f.ctx, "agent", "missing", domain.TicketStatusClosed, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMarkMajorIncident(t *testing.T) {
	f := newFixture(t)
	incident, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type: domain.TicketTypeIncident, Title: "Datacenter power loss", Priority: domain.TicketPriorityCritical,
	})
	require.NoError(t, err)

	marked, err := f.lifecycle.MarkMajorIncident(f.ctx, "manager", incident.ID)
	require.NoError(t, err)
	assert.True(t, marked.MajorIncident)
	assert.Equal(t, domain.TicketStatusNew, marked.Status)
	assert.Equal(t, incident.StateEnteredAt, marked.StateEnteredAt)

	_, err = f.lifecycle.MarkMajorIncident(f.ctx, "manager", incident.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
	assert.Len(t, f.recorder.ofType(events.EventMajorIncidentDeclared), 1)

	change, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: domain.TicketTypeChange, Title: "x"})
	require.NoError(t, err)
	_, err = f.lifecycle.MarkMajorIncident(f.ctx, "manager", change.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestList_FiltersByType(t *testing.T) {
	f := newFixture(t)
	for _, tt := range []domain.TicketType{domain.TicketTypeIncident, domain.TicketTypeChange, domain.TicketTypeIncident} {
		_, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{Type: tt, Title: "t"})
		require.NoError(t, err)
	}
	incidents, err := f.lifecycle.List(f.ctx, TicketFilter{Types: []domain.TicketType{domain.TicketTypeIncident}})
	require.NoError(t, err)
	assert.Len(t, incidents, 2)
}

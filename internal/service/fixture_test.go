package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/directory"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lock"
	"github.com/spec-kit/itsm-engine/internal/observability"
	"github.com/spec-kit/itsm-engine/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	ctx        context.Context
	store      *repository.MemoryStore
	dir        *directory.Static
	clock      *testClock
	recorder   *eventRecorder
	lifecycle  *LifecycleService
	approvals  *ApprovalService
	escalation *EscalationService
	automation *AutomationService
	config     *ConfigService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    repository.NewMemoryStore(),
		clock:    &testClock{now: t0},
		recorder: &eventRecorder{},
		dir: directory.NewStatic([]directory.Principal{
			{ID: "alice", Active: true, Groups: []string{"team-leads"}},
			{ID: "bob", Active: true, Groups: []string{"cab"}},
			{ID: "carol", Active: true, Groups: []string{"cab"}},
			{ID: "dave", Active: true, Groups: []string{"network"}},
			{ID: "erin", Active: true, Groups: []string{"network"}},
			{ID: "zed", Active: false, Groups: []string{"network"}},
		}),
	}

	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	for _, et := range []events.EventType{
		events.EventTicketCreated, events.EventTicketStatusChanged, events.EventTicketAssigned,
		events.EventMajorIncidentDeclared, events.EventApprovalLevelResolved, events.EventApprovalChainCompleted,
		events.EventChainCustomRejection, events.EventApprovalDelegated, events.EventTicketEscalated,
		events.EventAutomationRuleApplied,
	} {
		dispatcher.Subscribe(et, f.recorder.handle)
	}

	deps := Dependencies{
		Store:      f.store,
		Locker:     lock.NewMutexMap(),
		Dispatcher: dispatcher,
		Directory:  f.dir,
		Metrics:    observability.NewMetrics("itsm_test"),
		Logger:     zap.NewNop(),
		Clock:      f.clock.Now,
	}
	f.automation = NewAutomationService(deps, nil, "")
	f.lifecycle = NewLifecycleService(deps, f.automation)
	f.approvals = NewApprovalService(deps)
	f.escalation = NewEscalationService(deps)
	f.config = NewConfigService(deps)
	return f
}

func changeDefinition() domain.ApprovalChainDefinition {
	return domain.ApprovalChainDefinition{
		ID:            "change-standard",
		Name:          "Standard change",
		TicketType:    domain.TicketTypeChange,
		PendingStatus: domain.TicketStatusPending,
		SuccessStatus: domain.TicketStatusApproved,
		FailureStatus: domain.TicketStatusRejected,
		ReturnStatus:  domain.TicketStatusDraft,
		Levels: []domain.ApprovalLevel{
			{Level: 1, Name: "Team lead", Approvers: []string{"alice"}, ApprovalType: domain.ApprovalTypeAny,
				AllowReject: true, RejectAction: domain.RejectActionEnd},
			{Level: 2, Name: "CAB", Approvers: []string{"bob", "carol"}, ApprovalType: domain.ApprovalTypeAll,
				AllowReject: true, AllowDelegate: true, RejectAction: domain.RejectActionReturn},
		},
	}
}

// pendingChange creates a change, attaches the standard chain and submits it for approval.
func (f *fixture) pendingChange(t *testing.T) *domain.Ticket {
	t.Helper()
	_, err := f.config.SaveChainDefinition(f.ctx, changeDefinition())
	require.NoError(t, err)

	ticket, err := f.lifecycle.CreateTicket(f.ctx, "requester", TicketCreateInput{
		Type:     domain.TicketTypeChange,
		Title:    "Upgrade core switch firmware",
		Priority: domain.TicketPriorityHigh,
		Risk:     "medium",
	})
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusDraft, ticket.Status)

	_, err = f.approvals.AttachChain(f.ctx, "requester", ticket.ID, "change-standard")
	require.NoError(t, err)

	ticket, err = f.lifecycle.Transition(f.ctx, "requester", ticket.ID, domain.TicketStatusPending, "ready for review")
	require.NoError(t, err)
	return ticket
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/directory"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lock"
	"github.com/spec-kit/itsm-engine/internal/observability"
	"github.com/spec-kit/itsm-engine/internal/repository"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Dependencies bundles the collaborators shared by the engine services.
type Dependencies struct {
	Store      repository.Store
	Locker     lock.Locker
	Dispatcher events.Dispatcher
	Directory  directory.Directory
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// engine runs read-evaluate-write sequences inside the per-ticket exclusive section.
type engine struct {
	store      repository.Store
	locker     lock.Locker
	dispatcher events.Dispatcher
	directory  directory.Directory
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

func newEngine(deps Dependencies) engine {
	e := engine{
		store:      deps.Store,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		directory:  deps.Directory,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      deps.Clock,
	}
	if e.locker == nil {
		e.locker = lock.NewMutexMap()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// outbox collects events raised inside a unit of work. They are published only after the
// transaction committed and the ticket lock was released.
type outbox struct {
	events []events.Event
}

func (o *outbox) add(event events.Event) {
	o.events = append(o.events, event)
}

// mutate runs fn for ticketID under the ticket lock and inside one store transaction.
// Business errors roll back everything fn wrote.
func (e engine) mutate(ctx context.Context, operation, ticketID string, fn func(repos repository.Repositories, out *outbox) error) error {
	waitStart := time.Now()
	release, err := e.locker.Acquire(ctx, ticketID)
	if err != nil {
		return e.fail(operation, ticketID, apperrors.NewInfrastructureError(err))
	}
	e.metrics.ObserveLockWait(time.Since(waitStart))

	var out outbox
	err = e.store.Atomic(ctx, func(repos repository.Repositories) error {
		out = outbox{}
		return fn(repos, &out)
	})
	release()
	if err != nil {
		return e.fail(operation, ticketID, err)
	}

	e.publish(ctx, out.events)
	return nil
}

// fail normalizes err, records it and returns it.
func (e engine) fail(operation, ticketID string, err error) error {
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		err = apperrors.NewInfrastructureError(err)
		errors.As(err, &domainErr)
	}
	if apperrors.IsBusinessError(err) {
		e.metrics.RecordRejection(operation, domainErr.Code)
		e.logger.Info("operation rejected",
			zap.String("operation", operation),
			zap.String("ticket_id", ticketID),
			zap.String("code", domainErr.Code),
			zap.String("reason", domainErr.Message))
		return err
	}
	e.logger.Error("operation failed",
		zap.String("operation", operation),
		zap.String("ticket_id", ticketID),
		zap.Error(err))
	return err
}

func (e engine) publish(ctx context.Context, pending []events.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, event := range pending {
		if err := e.dispatcher.Publish(ctx, event); err != nil {
			if errors.Is(err, events.ErrQueueFull) {
				e.metrics.RecordDroppedEvent()
			}
			e.logger.Warn("event not published",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
}

func loadTicket(ctx context.Context, repos repository.Repositories, ticketID string) (*domain.Ticket, error) {
	ticket, err := repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return ticket, nil
}

func loadDefinition(ctx context.Context, repos repository.Repositories, definitionID string) (*domain.ApprovalChainDefinition, error) {
	def, err := repos.ChainDefinitions.GetByID(ctx, definitionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("approval chain definition", map[string]any{"definition_id": definitionID})
		}
		return nil, err
	}
	return def, nil
}

// attachedChain loads the ticket's chain and its definition; both are nil when none is attached.
func attachedChain(ctx context.Context, repos repository.Repositories, ticket *domain.Ticket) (*domain.ApprovalChain, *domain.ApprovalChainDefinition, error) {
	if ticket.ChainID == nil {
		return nil, nil, nil
	}
	chain, err := repos.Chains.GetByID(ctx, *ticket.ChainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewNotFound("approval chain", map[string]any{"chain_id": *ticket.ChainID})
		}
		return nil, nil, err
	}
	def, err := loadDefinition(ctx, repos, chain.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	return chain, def, nil
}

func actorOf(principalID string) events.Actor {
	if principalID == "" {
		return events.SystemActor()
	}
	return events.PrincipalActor(principalID)
}

func recordHistory(ctx context.Context, repos repository.Repositories, actor events.Actor, ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any, at time.Time) error {
	return repos.History.Create(ctx, &domain.TicketHistory{
		ID:            uuid.NewString(),
		TicketID:      ticketID,
		ChangedByType: actor.Type,
		ChangedByID:   actor.ID,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
		CreatedAt:     at,
	})
}

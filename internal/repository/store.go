package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories groups every repository bound to one connection or transaction.
type Repositories struct {
	Tickets          TicketRepository
	History          TicketHistoryRepository
	ChainDefinitions ChainDefinitionRepository
	Chains           ApprovalChainRepository
	Records          ApprovalRecordRepository
	EscalationRules  EscalationRuleRepository
	Escalations      EscalationRecordRepository
	AutomationRules  AutomationRuleRepository
}

// Store is the persistence collaborator.
type Store interface {
	Repos() Repositories
	// Atomic runs fn in one unit of work; nothing fn wrote survives an error.
	Atomic(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a Store over a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Repos() Repositories {
	return newRepositories(s.pool)
}

func (s *postgresStore) Atomic(ctx context.Context, fn func(Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(newRepositories(tx))
	})
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func newRepositories(db DBTX) Repositories {
	return Repositories{
		Tickets:          NewTicketRepository(db),
		History:          NewTicketHistoryRepository(db),
		ChainDefinitions: NewChainDefinitionRepository(db),
		Chains:           NewApprovalChainRepository(db),
		Records:          NewApprovalRecordRepository(db),
		EscalationRules:  NewEscalationRuleRepository(db),
		Escalations:      NewEscalationRecordRepository(db),
		AutomationRules:  NewAutomationRuleRepository(db),
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

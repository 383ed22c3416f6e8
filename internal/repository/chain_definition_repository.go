package repository

import (
	"context"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// ChainDefinitionRepository stores approval chain configuration.
type ChainDefinitionRepository interface {
	Upsert(ctx context.Context, def *domain.ApprovalChainDefinition) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalChainDefinition, error)
	List(ctx context.Context) ([]domain.ApprovalChainDefinition, error)
}

type chainDefinitionRepository struct {
	db DBTX
}

func NewChainDefinitionRepository(db DBTX) ChainDefinitionRepository {
	return &chainDefinitionRepository{db: db}
}

const chainDefinitionColumns = `id, name, ticket_type, pending_status, success_status, failure_status,
               return_status, levels, created_at, updated_at`

func (r *chainDefinitionRepository) Upsert(ctx context.Context, def *domain.ApprovalChainDefinition) error {
	const query = `
        INSERT INTO approval_chain_definitions (` + chainDefinitionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, ticket_type=EXCLUDED.ticket_type,
            pending_status=EXCLUDED.pending_status, success_status=EXCLUDED.success_status,
            failure_status=EXCLUDED.failure_status, return_status=EXCLUDED.return_status,
            levels=EXCLUDED.levels, updated_at=EXCLUDED.updated_at
        RETURNING created_at`
	return r.db.QueryRow(ctx, query,
		def.ID,
		def.Name,
		def.TicketType,
		def.PendingStatus,
		def.SuccessStatus,
		def.FailureStatus,
		def.ReturnStatus,
		def.Levels,
		def.CreatedAt,
		def.UpdatedAt,
	).Scan(&def.CreatedAt)
}

func (r *chainDefinitionRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalChainDefinition, error) {
	query := `SELECT ` + chainDefinitionColumns + ` FROM approval_chain_definitions WHERE id=$1`
	var def domain.ApprovalChainDefinition
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&def.ID,
		&def.Name,
		&def.TicketType,
		&def.PendingStatus,
		&def.SuccessStatus,
		&def.FailureStatus,
		&def.ReturnStatus,
		&def.Levels,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *chainDefinitionRepository) List(ctx context.Context) ([]domain.ApprovalChainDefinition, error) {
	query := `SELECT ` + chainDefinitionColumns + ` FROM approval_chain_definitions ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.ApprovalChainDefinition
	for rows.Next() {
		var def domain.ApprovalChainDefinition
		if err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.TicketType,
			&def.PendingStatus,
			&def.SuccessStatus,
			&def.FailureStatus,
			&def.ReturnStatus,
			&def.Levels,
			&def.CreatedAt,
			&def.UpdatedAt,
		); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

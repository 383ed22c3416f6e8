package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// ApprovalChainRepository stores runtime chains, one per ticket.
type ApprovalChainRepository interface {
	Create(ctx context.Context, chain *domain.ApprovalChain) error
	Update(ctx context.Context, chain *domain.ApprovalChain) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalChain, error)
}

// ApprovalRecordRepository stores immutable decisions.
type ApprovalRecordRepository interface {
	Create(ctx context.Context, record *domain.ApprovalRecord) error
	ListByChain(ctx context.Context, chainID string) ([]domain.ApprovalRecord, error)
}

type approvalChainRepository struct {
	db DBTX
}

func NewApprovalChainRepository(db DBTX) ApprovalChainRepository {
	return &approvalChainRepository{db: db}
}

func (r *approvalChainRepository) Create(ctx context.Context, chain *domain.ApprovalChain) error {
	const query = `
        INSERT INTO approval_chains (id, definition_id, ticket_id, status, active_level, cycles, outcomes, delegations,
            level_started_at, timeout_escalated, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.Exec(ctx, query,
		chain.ID,
		chain.DefinitionID,
		chain.TicketID,
		chain.Status,
		chain.ActiveLevel,
		chain.Cycles,
		chain.Outcomes,
		delegations(chain),
		chain.LevelStartedAt,
		chain.TimeoutEscalated,
		chain.CreatedAt,
		chain.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.NewConflict("approval chain already exists", map[string]any{"chain_id": chain.ID})
	}
	return err
}

func (r *approvalChainRepository) Update(ctx context.Context, chain *domain.ApprovalChain) error {
	const query = `
        UPDATE approval_chains SET definition_id=$1, status=$2, active_level=$3, cycles=$4, outcomes=$5,
            delegations=$6, level_started_at=$7, timeout_escalated=$8, updated_at=$9
        WHERE id=$10`
	cmd, err := r.db.Exec(ctx, query,
		chain.DefinitionID,
		chain.Status,
		chain.ActiveLevel,
		chain.Cycles,
		chain.Outcomes,
		delegations(chain),
		chain.LevelStartedAt,
		chain.TimeoutEscalated,
		chain.UpdatedAt,
		chain.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *approvalChainRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalChain, error) {
	const query = `
        SELECT id, definition_id, ticket_id, status, active_level, cycles, outcomes, delegations,
            level_started_at, timeout_escalated, created_at, updated_at
        FROM approval_chains WHERE id=$1`
	var chain domain.ApprovalChain
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&chain.ID,
		&chain.DefinitionID,
		&chain.TicketID,
		&chain.Status,
		&chain.ActiveLevel,
		&chain.Cycles,
		&chain.Outcomes,
		&chain.Delegations,
		&chain.LevelStartedAt,
		&chain.TimeoutEscalated,
		&chain.CreatedAt,
		&chain.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &chain, nil
}

func delegations(chain *domain.ApprovalChain) []domain.Delegation {
	if chain.Delegations == nil {
		return []domain.Delegation{}
	}
	return chain.Delegations
}

type approvalRecordRepository struct {
	db DBTX
}

func NewApprovalRecordRepository(db DBTX) ApprovalRecordRepository {
	return &approvalRecordRepository{db: db}
}

func (r *approvalRecordRepository) Create(ctx context.Context, record *domain.ApprovalRecord) error {
	const query = `
        INSERT INTO approval_records (id, chain_id, level, cycle, approver, decision, comment, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.ChainID,
		record.Level,
		record.Cycle,
		record.Approver,
		record.Decision,
		record.Comment,
		record.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.NewConflict("decision already recorded", map[string]any{
			"chain_id": record.ChainID, "level": record.Level, "approver": record.Approver,
		})
	}
	return err
}

func (r *approvalRecordRepository) ListByChain(ctx context.Context, chainID string) ([]domain.ApprovalRecord, error) {
	const query = `
        SELECT id, chain_id, level, cycle, approver, decision, comment, created_at
        FROM approval_records WHERE chain_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ApprovalRecord
	for rows.Next() {
		var rec domain.ApprovalRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ChainID,
			&rec.Level,
			&rec.Cycle,
			&rec.Approver,
			&rec.Decision,
			&rec.Comment,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

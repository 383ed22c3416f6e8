package repository

import (
	"context"
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// EscalationRuleRepository stores escalation rules in declaration order.
type EscalationRuleRepository interface {
	// Upsert keeps an existing rule's position; new rules go last.
	Upsert(ctx context.Context, rule *domain.EscalationRule) error
	List(ctx context.Context) ([]domain.EscalationRule, error)
}

// EscalationRecordRepository stores reached levels; (ticket, level) is unique.
type EscalationRecordRepository interface {
	Create(ctx context.Context, record *domain.EscalationRecord) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.EscalationRecord, error)
}

type escalationRuleRepository struct {
	db DBTX
}

func NewEscalationRuleRepository(db DBTX) EscalationRuleRepository {
	return &escalationRuleRepository{db: db}
}

func (r *escalationRuleRepository) Upsert(ctx context.Context, rule *domain.EscalationRule) error {
	const query = `
        INSERT INTO escalation_rules (id, name, ticket_type, conditions, time_limit_seconds, escalate_to, notify, max_level, position)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,(SELECT COALESCE(MAX(position)+1, 0) FROM escalation_rules))
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, ticket_type=EXCLUDED.ticket_type,
            conditions=EXCLUDED.conditions, time_limit_seconds=EXCLUDED.time_limit_seconds,
            escalate_to=EXCLUDED.escalate_to, notify=EXCLUDED.notify, max_level=EXCLUDED.max_level
        RETURNING position`
	return r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.TicketType,
		conditions(rule.Conditions),
		int64(rule.TimeLimit/time.Second),
		rule.EscalateTo,
		rule.Notify,
		rule.MaxLevel,
	).Scan(&rule.Position)
}

func (r *escalationRuleRepository) List(ctx context.Context) ([]domain.EscalationRule, error) {
	const query = `
        SELECT id, name, ticket_type, conditions, time_limit_seconds, escalate_to, notify, max_level, position
        FROM escalation_rules ORDER BY position ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationRule
	for rows.Next() {
		var (
			rule    domain.EscalationRule
			seconds int64
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.TicketType,
			&rule.Conditions,
			&seconds,
			&rule.EscalateTo,
			&rule.Notify,
			&rule.MaxLevel,
			&rule.Position,
		); err != nil {
			return nil, err
		}
		rule.TimeLimit = time.Duration(seconds) * time.Second
		result = append(result, rule)
	}
	return result, rows.Err()
}

type escalationRecordRepository struct {
	db DBTX
}

func NewEscalationRecordRepository(db DBTX) EscalationRecordRepository {
	return &escalationRecordRepository{db: db}
}

func (r *escalationRecordRepository) Create(ctx context.Context, record *domain.EscalationRecord) error {
	const query = `
        INSERT INTO escalation_records (ticket_id, level, rule_id, escalate_to, escalated_at)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Exec(ctx, query,
		record.TicketID,
		record.Level,
		record.RuleID,
		record.EscalateTo,
		record.EscalatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.NewConflict("escalation level already recorded", map[string]any{
			"ticket_id": record.TicketID, "level": record.Level,
		})
	}
	return err
}

func (r *escalationRecordRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.EscalationRecord, error) {
	const query = `
        SELECT ticket_id, level, rule_id, escalate_to, escalated_at
        FROM escalation_records WHERE ticket_id=$1 ORDER BY level ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationRecord
	for rows.Next() {
		var rec domain.EscalationRecord
		if err := rows.Scan(&rec.TicketID, &rec.Level, &rec.RuleID, &rec.EscalateTo, &rec.EscalatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func conditions(conds []domain.Condition) []domain.Condition {
	if conds == nil {
		return []domain.Condition{}
	}
	return conds
}

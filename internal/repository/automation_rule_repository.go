package repository

import (
	"context"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// AutomationRuleRepository stores assignment, routing and escalation automation rules.
type AutomationRuleRepository interface {
	Upsert(ctx context.Context, rule *domain.AutomationRule) error
	List(ctx context.Context) ([]domain.AutomationRule, error)
}

type automationRuleRepository struct {
	db DBTX
}

func NewAutomationRuleRepository(db DBTX) AutomationRuleRepository {
	return &automationRuleRepository{db: db}
}

func (r *automationRuleRepository) Upsert(ctx context.Context, rule *domain.AutomationRule) error {
	const query = `
        INSERT INTO automation_rules (id, name, type, conditions, action, priority, is_active, position)
        VALUES ($1,$2,$3,$4,$5,$6,$7,(SELECT COALESCE(MAX(position)+1, 0) FROM automation_rules))
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type, conditions=EXCLUDED.conditions,
            action=EXCLUDED.action, priority=EXCLUDED.priority, is_active=EXCLUDED.is_active
        RETURNING position`
	return r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Type,
		conditions(rule.Conditions),
		rule.Action,
		rule.Priority,
		rule.IsActive,
	).Scan(&rule.Position)
}

func (r *automationRuleRepository) List(ctx context.Context) ([]domain.AutomationRule, error) {
	const query = `
        SELECT id, name, type, conditions, action, priority, is_active, position
        FROM automation_rules ORDER BY position ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AutomationRule
	for rows.Next() {
		var rule domain.AutomationRule
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Type,
			&rule.Conditions,
			&rule.Action,
			&rule.Priority,
			&rule.IsActive,
			&rule.Position,
		); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

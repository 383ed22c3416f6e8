package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// TicketFilter narrows ticket listings.
type TicketFilter struct {
	Types           []domain.TicketType
	Statuses        []domain.TicketStatus
	ExcludeStatuses []domain.TicketStatus
	AssigneeGroup   *string
	Limit           int
	Offset          int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// CountOpenByAssignee counts tickets per assignee, skipping the excluded statuses.
	CountOpenByAssignee(ctx context.Context, assignees []string, exclude []domain.TicketStatus) (map[string]int, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, external_key, type, title, category, status, priority, severity, risk,
               requester_id, assignee_id, assignee_group, custom_fields, chain_id, escalation_level,
               major_incident, state_entered_at, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (` + ticketColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.ExternalKey,
		ticket.Type,
		ticket.Title,
		ticket.Category,
		ticket.Status,
		ticket.Priority,
		ticket.Severity,
		ticket.Risk,
		ticket.RequesterID,
		ticket.AssigneeID,
		ticket.AssigneeGroup,
		customFields(ticket),
		ticket.ChainID,
		ticket.EscalationLevel,
		ticket.MajorIncident,
		ticket.StateEnteredAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, category=$2, status=$3, priority=$4, severity=$5, risk=$6,
            assignee_id=$7, assignee_group=$8, custom_fields=$9, chain_id=$10, escalation_level=$11,
            major_incident=$12, state_entered_at=$13, updated_at=$14, closed_at=$15
        WHERE id=$16`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Title,
		ticket.Category,
		ticket.Status,
		ticket.Priority,
		ticket.Severity,
		ticket.Risk,
		ticket.AssigneeID,
		ticket.AssigneeGroup,
		customFields(ticket),
		ticket.ChainID,
		ticket.EscalationLevel,
		ticket.MajorIncident,
		ticket.StateEnteredAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Types) > 0 {
		args = append(args, toStrings(filter.Types))
		clauses = append(clauses, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, toStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.ExcludeStatuses) > 0 {
		args = append(args, toStrings(filter.ExcludeStatuses))
		clauses = append(clauses, fmt.Sprintf("NOT (status = ANY($%d))", len(args)))
	}
	if filter.AssigneeGroup != nil {
		args = append(args, *filter.AssigneeGroup)
		clauses = append(clauses, fmt.Sprintf("assignee_group=$%d", len(args)))
	}

	query := base + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func (r *ticketRepository) CountOpenByAssignee(ctx context.Context, assignees []string, exclude []domain.TicketStatus) (map[string]int, error) {
	counts := make(map[string]int, len(assignees))
	for _, a := range assignees {
		counts[a] = 0
	}
	if len(assignees) == 0 {
		return counts, nil
	}
	const query = `
        SELECT assignee_id, COUNT(*) FROM tickets
        WHERE assignee_id = ANY($1) AND NOT (status = ANY($2))
        GROUP BY assignee_id`
	rows, err := r.db.Query(ctx, query, assignees, toStrings(exclude))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			assignee string
			n        int
		)
		if err := rows.Scan(&assignee, &n); err != nil {
			return nil, err
		}
		counts[assignee] = n
	}
	return counts, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.Type,
		&ticket.Title,
		&ticket.Category,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Severity,
		&ticket.Risk,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.AssigneeGroup,
		&ticket.CustomFields,
		&ticket.ChainID,
		&ticket.EscalationLevel,
		&ticket.MajorIncident,
		&ticket.StateEnteredAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func customFields(ticket *domain.Ticket) map[string]string {
	if ticket.CustomFields == nil {
		return map[string]string{}
	}
	return ticket.CustomFields
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

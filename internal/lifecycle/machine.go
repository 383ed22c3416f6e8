// Package lifecycle holds the per-type ticket status state machine. It is the only
// code that assigns Ticket.Status.
package lifecycle

import (
	"time"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Transition describes an accepted status change.
type Transition struct {
	TicketID string
	Type     domain.TicketType
	From     domain.TicketStatus
	To       domain.TicketStatus
	At       time.Time
}

// Attempt validates target against the ticket's table and returns the updated copy.
// The input ticket is never modified.
func Attempt(ticket *domain.Ticket, target domain.TicketStatus, now time.Time) (*domain.Ticket, Transition, error) {
	table, ok := TableFor(ticket.Type)
	if !ok {
		return nil, Transition{}, rejected("unknown ticket type", ticket, target)
	}
	if !table.IsLegal(target) {
		return nil, Transition{}, rejected("status not legal for ticket type", ticket, target)
	}
	if !table.Allows(ticket.Status, target) {
		return nil, Transition{}, rejected("transition not permitted", ticket, target)
	}

	next := ticket.Clone()
	next.Status = target
	next.StateEnteredAt = now
	next.UpdatedAt = now
	if table.IsTerminal(target) {
		closed := now
		next.ClosedAt = &closed
	} else {
		next.ClosedAt = nil
	}
	return next, Transition{
		TicketID: ticket.ID,
		Type:     ticket.Type,
		From:     ticket.Status,
		To:       target,
		At:       now,
	}, nil
}

// ValidateInitial checks a freshly created ticket; an empty status defaults to the type's initial one.
func ValidateInitial(ticket *domain.Ticket) error {
	table, ok := TableFor(ticket.Type)
	if !ok {
		return apperrors.NewValidationError("unknown ticket type", map[string]any{"type": ticket.Type})
	}
	if ticket.Status == "" {
		ticket.Status = table.Initial
	}
	if ticket.Status != table.Initial {
		return rejected("initial status must be "+string(table.Initial), ticket, ticket.Status)
	}
	return nil
}

// IsTerminal reports whether the ticket sits in a terminal status of its type.
func IsTerminal(ticket *domain.Ticket) bool {
	table, ok := TableFor(ticket.Type)
	return ok && table.IsTerminal(ticket.Status)
}

// MarkMajorIncident sets the monotonic major-incident flag. Settable once, only on
// non-terminal incidents; status and state_entered_at are untouched.
func MarkMajorIncident(ticket *domain.Ticket, now time.Time) (*domain.Ticket, error) {
	if ticket.Type != domain.TicketTypeIncident {
		return nil, apperrors.NewInvalidTransition("major incident flag applies to incidents only",
			map[string]any{"reason": "InvalidTransition", "type": ticket.Type})
	}
	if IsTerminal(ticket) {
		return nil, apperrors.NewInvalidTransition("ticket is in a terminal status",
			map[string]any{"reason": "InvalidTransition", "status": ticket.Status})
	}
	if ticket.MajorIncident {
		return nil, apperrors.NewInvalidTransition("major incident flag already set",
			map[string]any{"reason": "InvalidTransition"})
	}
	next := ticket.Clone()
	next.MajorIncident = true
	next.UpdatedAt = now
	return next, nil
}

func rejected(message string, ticket *domain.Ticket, target domain.TicketStatus) error {
	return apperrors.NewInvalidTransition(message, map[string]any{
		"reason": "InvalidTransition",
		"type":   ticket.Type,
		"from":   ticket.Status,
		"to":     target,
	})
}

package lifecycle

import (
	"sort"

	"github.com/spec-kit/itsm-engine/internal/domain"
)

// Table is the fixed status vocabulary and transition graph of one ticket type.
type Table struct {
	Type     domain.TicketType
	Initial  domain.TicketStatus
	edges    map[domain.TicketStatus][]domain.TicketStatus
	terminal map[domain.TicketStatus]struct{}
}

var tables = map[domain.TicketType]Table{
	domain.TicketTypeChange: {
		Type:    domain.TicketTypeChange,
		Initial: domain.TicketStatusDraft,
		edges: map[domain.TicketStatus][]domain.TicketStatus{
			domain.TicketStatusDraft:      {domain.TicketStatusPending, domain.TicketStatusCancelled},
			domain.TicketStatusPending:    {domain.TicketStatusApproved, domain.TicketStatusRejected, domain.TicketStatusCancelled, domain.TicketStatusDraft},
			domain.TicketStatusApproved:   {domain.TicketStatusInProgress},
			domain.TicketStatusInProgress: {domain.TicketStatusCompleted},
			domain.TicketStatusCompleted:  {domain.TicketStatusRolledBack},
			domain.TicketStatusRejected:   {},
			domain.TicketStatusCancelled:  {},
			domain.TicketStatusRolledBack: {},
		},
		terminal: statusSet(domain.TicketStatusCompleted, domain.TicketStatusRejected, domain.TicketStatusCancelled, domain.TicketStatusRolledBack),
	},
	domain.TicketTypeIncident: {
		Type:    domain.TicketTypeIncident,
		Initial: domain.TicketStatusNew,
		edges: map[domain.TicketStatus][]domain.TicketStatus{
			domain.TicketStatusNew:        {domain.TicketStatusInProgress, domain.TicketStatusCancelled},
			domain.TicketStatusInProgress: {domain.TicketStatusResolved},
			domain.TicketStatusResolved:   {domain.TicketStatusClosed, domain.TicketStatusInProgress},
			domain.TicketStatusClosed:     {},
			domain.TicketStatusCancelled:  {},
		},
		terminal: statusSet(domain.TicketStatusClosed, domain.TicketStatusCancelled),
	},
	domain.TicketTypeServiceRequest: {
		Type:    domain.TicketTypeServiceRequest,
		Initial: domain.TicketStatusSubmitted,
		edges: map[domain.TicketStatus][]domain.TicketStatus{
			domain.TicketStatusSubmitted:  {domain.TicketStatusPending, domain.TicketStatusInProgress, domain.TicketStatusCancelled},
			domain.TicketStatusPending:    {domain.TicketStatusApproved, domain.TicketStatusRejected, domain.TicketStatusCancelled, domain.TicketStatusSubmitted},
			domain.TicketStatusApproved:   {domain.TicketStatusInProgress, domain.TicketStatusCancelled},
			domain.TicketStatusInProgress: {domain.TicketStatusCompleted},
			domain.TicketStatusCompleted:  {},
			domain.TicketStatusRejected:   {},
			domain.TicketStatusCancelled:  {},
		},
		terminal: statusSet(domain.TicketStatusCompleted, domain.TicketStatusRejected, domain.TicketStatusCancelled),
	},
}

func statusSet(statuses ...domain.TicketStatus) map[domain.TicketStatus]struct{} {
	set := make(map[domain.TicketStatus]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// TableFor returns the transition table for a ticket type.
func TableFor(t domain.TicketType) (Table, bool) {
	table, ok := tables[t]
	return table, ok
}

// IsLegal reports whether status belongs to the type's vocabulary.
func (t Table) IsLegal(status domain.TicketStatus) bool {
	_, ok := t.edges[status]
	return ok
}

// IsTerminal reports whether status freezes chain and escalation mutation.
func (t Table) IsTerminal(status domain.TicketStatus) bool {
	_, ok := t.terminal[status]
	return ok
}

// Allows reports whether from→to is an edge of the graph.
func (t Table) Allows(from, to domain.TicketStatus) bool {
	for _, candidate := range t.edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from status in one step.
func (t Table) Next(status domain.TicketStatus) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), t.edges[status]...)
}

// TerminalStatuses returns the terminal statuses of every ticket type, deduplicated.
func TerminalStatuses() []domain.TicketStatus {
	seen := make(map[domain.TicketStatus]struct{})
	var out []domain.TicketStatus
	for _, t := range []domain.TicketType{domain.TicketTypeIncident, domain.TicketTypeChange, domain.TicketTypeServiceRequest} {
		for status := range tables[t].terminal {
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

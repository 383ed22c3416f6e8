package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// MemoryStore keeps everything in process. Missing rows surface as pgx.ErrNoRows so callers
// handle both stores the same way.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	tickets         map[string]*domain.Ticket
	ticketOrder     []string
	history         map[string][]domain.TicketHistory
	definitions     map[string]*domain.ApprovalChainDefinition
	chains          map[string]*domain.ApprovalChain
	records         map[string][]domain.ApprovalRecord
	escalationRules []domain.EscalationRule
	escalations     map[string][]domain.EscalationRecord
	automationRules []domain.AutomationRule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		tickets:     map[string]*domain.Ticket{},
		history:     map[string][]domain.TicketHistory{},
		definitions: map[string]*domain.ApprovalChainDefinition{},
		chains:      map[string]*domain.ApprovalChain{},
		records:     map[string][]domain.ApprovalRecord{},
		escalations: map[string][]domain.EscalationRecord{},
	}}
}

func (s *MemoryStore) Repos() Repositories {
	return memRepositories(memView{store: s})
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(memRepositories(memView{store: s, tx: staged})); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (st *memState) clone() *memState {
	cp := &memState{
		tickets:         make(map[string]*domain.Ticket, len(st.tickets)),
		ticketOrder:     append([]string(nil), st.ticketOrder...),
		history:         make(map[string][]domain.TicketHistory, len(st.history)),
		definitions:     make(map[string]*domain.ApprovalChainDefinition, len(st.definitions)),
		chains:          make(map[string]*domain.ApprovalChain, len(st.chains)),
		records:         make(map[string][]domain.ApprovalRecord, len(st.records)),
		escalationRules: append([]domain.EscalationRule(nil), st.escalationRules...),
		escalations:     make(map[string][]domain.EscalationRecord, len(st.escalations)),
		automationRules: append([]domain.AutomationRule(nil), st.automationRules...),
	}
	// stored values are replaced on write, never mutated, so sharing pointers is safe
	for k, v := range st.tickets {
		cp.tickets[k] = v
	}
	for k, v := range st.history {
		cp.history[k] = append([]domain.TicketHistory(nil), v...)
	}
	for k, v := range st.definitions {
		cp.definitions[k] = v
	}
	for k, v := range st.chains {
		cp.chains[k] = v
	}
	for k, v := range st.records {
		cp.records[k] = append([]domain.ApprovalRecord(nil), v...)
	}
	for k, v := range st.escalations {
		cp.escalations[k] = append([]domain.EscalationRecord(nil), v...)
	}
	return cp
}

// memView runs against the staged state inside Atomic and against the live state otherwise.
type memView struct {
	store *MemoryStore
	tx    *memState
}

func (v memView) do(fn func(st *memState) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

func memRepositories(v memView) Repositories {
	return Repositories{
		Tickets:          memTickets{v},
		History:          memHistory{v},
		ChainDefinitions: memDefinitions{v},
		Chains:           memChains{v},
		Records:          memRecords{v},
		EscalationRules:  memEscalationRules{v},
		Escalations:      memEscalations{v},
		AutomationRules:  memAutomationRules{v},
	}
}

type memTickets struct{ v memView }

func (r memTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	return r.v.do(func(st *memState) error {
		if _, exists := st.tickets[ticket.ID]; exists {
			return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
		}
		st.tickets[ticket.ID] = ticket.Clone()
		st.ticketOrder = append(st.ticketOrder, ticket.ID)
		return nil
	})
}

func (r memTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	return r.v.do(func(st *memState) error {
		if _, exists := st.tickets[ticket.ID]; !exists {
			return pgx.ErrNoRows
		}
		st.tickets[ticket.ID] = ticket.Clone()
		return nil
	})
}

func (r memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.v.do(func(st *memState) error {
		t, ok := st.tickets[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r memTickets) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.v.do(func(st *memState) error {
		skipped := 0
		for _, id := range st.ticketOrder {
			t := st.tickets[id]
			if len(filter.Types) > 0 && !containsValue(filter.Types, t.Type) {
				continue
			}
			if len(filter.Statuses) > 0 && !containsValue(filter.Statuses, t.Status) {
				continue
			}
			if containsValue(filter.ExcludeStatuses, t.Status) {
				continue
			}
			if filter.AssigneeGroup != nil && (t.AssigneeGroup == nil || *t.AssigneeGroup != *filter.AssigneeGroup) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, *t.Clone())
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r memTickets) CountOpenByAssignee(_ context.Context, assignees []string, exclude []domain.TicketStatus) (map[string]int, error) {
	counts := make(map[string]int, len(assignees))
	for _, a := range assignees {
		counts[a] = 0
	}
	err := r.v.do(func(st *memState) error {
		for _, t := range st.tickets {
			if t.AssigneeID == nil || containsValue(exclude, t.Status) {
				continue
			}
			if _, wanted := counts[*t.AssigneeID]; wanted {
				counts[*t.AssigneeID]++
			}
		}
		return nil
	})
	return counts, err
}

type memHistory struct{ v memView }

func (r memHistory) Create(_ context.Context, h *domain.TicketHistory) error {
	return r.v.do(func(st *memState) error {
		st.history[h.TicketID] = append(st.history[h.TicketID], *h)
		return nil
	})
}

func (r memHistory) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	err := r.v.do(func(st *memState) error {
		out = append(out, st.history[ticketID]...)
		return nil
	})
	return out, err
}

type memDefinitions struct{ v memView }

func (r memDefinitions) Upsert(_ context.Context, def *domain.ApprovalChainDefinition) error {
	return r.v.do(func(st *memState) error {
		if existing, ok := st.definitions[def.ID]; ok {
			def.CreatedAt = existing.CreatedAt
		}
		cp := *def
		cp.Levels = cloneLevels(def.Levels)
		st.definitions[def.ID] = &cp
		return nil
	})
}

func (r memDefinitions) GetByID(_ context.Context, id string) (*domain.ApprovalChainDefinition, error) {
	var out *domain.ApprovalChainDefinition
	err := r.v.do(func(st *memState) error {
		def, ok := st.definitions[id]
		if !ok {
			return pgx.ErrNoRows
		}
		cp := *def
		cp.Levels = cloneLevels(def.Levels)
		out = &cp
		return nil
	})
	return out, err
}

func (r memDefinitions) List(_ context.Context) ([]domain.ApprovalChainDefinition, error) {
	var out []domain.ApprovalChainDefinition
	err := r.v.do(func(st *memState) error {
		for _, def := range st.definitions {
			cp := *def
			cp.Levels = cloneLevels(def.Levels)
			out = append(out, cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type memChains struct{ v memView }

func (r memChains) Create(_ context.Context, chain *domain.ApprovalChain) error {
	return r.v.do(func(st *memState) error {
		if _, exists := st.chains[chain.ID]; exists {
			return apperrors.NewConflict("approval chain already exists", map[string]any{"chain_id": chain.ID})
		}
		st.chains[chain.ID] = chain.Clone()
		return nil
	})
}

func (r memChains) Update(_ context.Context, chain *domain.ApprovalChain) error {
	return r.v.do(func(st *memState) error {
		if _, exists := st.chains[chain.ID]; !exists {
			return pgx.ErrNoRows
		}
		st.chains[chain.ID] = chain.Clone()
		return nil
	})
}

func (r memChains) GetByID(_ context.Context, id string) (*domain.ApprovalChain, error) {
	var out *domain.ApprovalChain
	err := r.v.do(func(st *memState) error {
		chain, ok := st.chains[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = chain.Clone()
		return nil
	})
	return out, err
}

type memRecords struct{ v memView }

func (r memRecords) Create(_ context.Context, rec *domain.ApprovalRecord) error {
	return r.v.do(func(st *memState) error {
		for _, existing := range st.records[rec.ChainID] {
			if existing.Level == rec.Level && existing.Cycle == rec.Cycle && existing.Approver == rec.Approver {
				return apperrors.NewConflict("decision already recorded", map[string]any{
					"chain_id": rec.ChainID, "level": rec.Level, "approver": rec.Approver,
				})
			}
		}
		st.records[rec.ChainID] = append(st.records[rec.ChainID], *rec)
		return nil
	})
}

func (r memRecords) ListByChain(_ context.Context, chainID string) ([]domain.ApprovalRecord, error) {
	var out []domain.ApprovalRecord
	err := r.v.do(func(st *memState) error {
		out = append(out, st.records[chainID]...)
		return nil
	})
	return out, err
}

type memEscalationRules struct{ v memView }

func (r memEscalationRules) Upsert(_ context.Context, rule *domain.EscalationRule) error {
	return r.v.do(func(st *memState) error {
		for i := range st.escalationRules {
			if st.escalationRules[i].ID == rule.ID {
				rule.Position = st.escalationRules[i].Position
				st.escalationRules[i] = cloneEscalationRule(*rule)
				return nil
			}
		}
		rule.Position = len(st.escalationRules)
		st.escalationRules = append(st.escalationRules, cloneEscalationRule(*rule))
		return nil
	})
}

func (r memEscalationRules) List(_ context.Context) ([]domain.EscalationRule, error) {
	var out []domain.EscalationRule
	err := r.v.do(func(st *memState) error {
		for _, rule := range st.escalationRules {
			out = append(out, cloneEscalationRule(rule))
		}
		return nil
	})
	return out, err
}

type memEscalations struct{ v memView }

func (r memEscalations) Create(_ context.Context, rec *domain.EscalationRecord) error {
	return r.v.do(func(st *memState) error {
		for _, existing := range st.escalations[rec.TicketID] {
			if existing.Level == rec.Level {
				return apperrors.NewConflict("escalation level already recorded", map[string]any{
					"ticket_id": rec.TicketID, "level": rec.Level,
				})
			}
		}
		st.escalations[rec.TicketID] = append(st.escalations[rec.TicketID], *rec)
		return nil
	})
}

func (r memEscalations) ListByTicket(_ context.Context, ticketID string) ([]domain.EscalationRecord, error) {
	var out []domain.EscalationRecord
	err := r.v.do(func(st *memState) error {
		out = append(out, st.escalations[ticketID]...)
		return nil
	})
	return out, err
}

type memAutomationRules struct{ v memView }

func (r memAutomationRules) Upsert(_ context.Context, rule *domain.AutomationRule) error {
	return r.v.do(func(st *memState) error {
		for i := range st.automationRules {
			if st.automationRules[i].ID == rule.ID {
				rule.Position = st.automationRules[i].Position
				st.automationRules[i] = cloneAutomationRule(*rule)
				return nil
			}
		}
		rule.Position = len(st.automationRules)
		st.automationRules = append(st.automationRules, cloneAutomationRule(*rule))
		return nil
	})
}

func (r memAutomationRules) List(_ context.Context) ([]domain.AutomationRule, error) {
	var out []domain.AutomationRule
	err := r.v.do(func(st *memState) error {
		for _, rule := range st.automationRules {
			out = append(out, cloneAutomationRule(rule))
		}
		return nil
	})
	return out, err
}

func cloneLevels(levels []domain.ApprovalLevel) []domain.ApprovalLevel {
	out := make([]domain.ApprovalLevel, len(levels))
	for i, lvl := range levels {
		lvl.Approvers = append([]string(nil), lvl.Approvers...)
		out[i] = lvl
	}
	return out
}

func cloneConditions(conds []domain.Condition) []domain.Condition {
	if conds == nil {
		return nil
	}
	out := make([]domain.Condition, len(conds))
	for i, c := range conds {
		c.Values = append([]string(nil), c.Values...)
		out[i] = c
	}
	return out
}

func cloneEscalationRule(rule domain.EscalationRule) domain.EscalationRule {
	rule.Conditions = cloneConditions(rule.Conditions)
	return rule
}

func cloneAutomationRule(rule domain.AutomationRule) domain.AutomationRule {
	rule.Conditions = cloneConditions(rule.Conditions)
	return rule
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

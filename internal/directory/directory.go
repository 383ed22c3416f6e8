// Package directory resolves principal and group references. Ids are opaque to the engine.
package directory

import (
	"context"
	"sort"
	"sync"
)

// Directory is the identity collaborator.
type Directory interface {
	// IsActive reports whether the principal exists and may act.
	IsActive(ctx context.Context, principalID string) (bool, error)
	// GroupMembers lists active members of an assignment group in stable order.
	GroupMembers(ctx context.Context, group string) ([]string, error)
}

// Principal is a directory entry.
type Principal struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Active bool     `yaml:"active"`
	Groups []string `yaml:"groups"`
}

// Static is an in-memory Directory, usually loaded from the seed file.
type Static struct {
	mu         sync.RWMutex
	principals map[string]Principal
	groups     map[string][]string
}

func NewStatic(principals []Principal) *Static {
	s := &Static{}
	s.Replace(principals)
	return s
}

// Replace swaps the whole directory atomically.
func (s *Static) Replace(principals []Principal) {
	byID := make(map[string]Principal, len(principals))
	groups := make(map[string][]string)
	for _, p := range principals {
		byID[p.ID] = p
		if !p.Active {
			continue
		}
		for _, g := range p.Groups {
			groups[g] = append(groups[g], p.ID)
		}
	}
	for g := range groups {
		sort.Strings(groups[g])
	}

	s.mu.Lock()
	s.principals = byID
	s.groups = groups
	s.mu.Unlock()
}

func (s *Static) IsActive(_ context.Context, principalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[principalID]
	return ok && p.Active, nil
}

func (s *Static) GroupMembers(_ context.Context, group string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.groups[group]...), nil
}

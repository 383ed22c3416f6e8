// Package lock provides the per-ticket exclusive section.
package lock

import (
	"context"
	"sync"
)

// Release ends an exclusive section. It is safe to call more than once.
type Release func()

// Locker serializes work keyed by ticket id.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// MutexMap is an in-process Locker backed by one mutex per key. Entries are dropped once no
// caller holds or waits for the key.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*entry),
	}
}

// Acquire blocks until key is free. The context is checked before waiting only.
func (m *MutexMap) Acquire(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := m.ref(key)
	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.unref(key, e)
		})
	}, nil
}

// Len reports how many keys are currently tracked.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

func (m *MutexMap) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.mutexes[key]
	if !ok {
		e = &entry{}
		m.mutexes[key] = e
	}
	e.refs++
	return e
}

func (m *MutexMap) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.mutexes, key)
	}
}

package store

import (
	"context"
	"fmt"
	"sync"

	"sleuth/internal/session"
)

// MemoryStore keeps encoded snapshots in memory. Saves can be made to fail
// for tests via FailWith.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	saves int
	fail  error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// FailWith makes subsequent saves return err. nil restores normal saves.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Saves reports how many saves succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Save(ctx context.Context, s *session.Session) error {
	data, err := encode(s)
	if err != nil {
		return persistErr("save", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return persistErr("save", s.ID, m.fail)
	}
	m.data[s.ID] = data
	m.saves++
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	data, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(data)
}

func (m *MemoryStore) List(ctx context.Context) ([]session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []session.Summary
	for id, data := range m.data {
		s, err := decode(data)
		if err != nil {
			return nil, persistErr("list", id, err)
		}
		out = append(out, s.Summary())
	}
	session.SortSummaries(out)
	return out, nil
}

package store

import (
	"context"
	"sync"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// Memory keeps flows in process memory. Contents are lost on exit.
type Memory struct {
	mu    sync.RWMutex
	order []string
	flows map[string]*flow.Flow
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{flows: make(map[string]*flow.Flow)}
}

// List returns all flows in insertion order.
func (m *Memory) List(_ context.Context) ([]flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]flow.Flow, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *clone(m.flows[id]))
	}
	return out, nil
}

// Get returns a copy of the flow.
func (m *Memory) Get(_ context.Context, id string) (*flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(f), nil
}

// Save stores a copy of the flow.
func (m *Memory) Save(_ context.Context, f *flow.Flow) error {
	if err := checkID(f); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.flows[f.ID]; !exists {
		m.order = append(m.order, f.ID)
	}
	m.flows[f.ID] = clone(f)
	return nil
}

// Delete removes a flow.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[id]; !ok {
		return ErrNotFound
	}
	delete(m.flows, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

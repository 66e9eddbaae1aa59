package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsrelay/opsrelay/pkg/types"
)

const defaultEventCap = 100

// Memory is an in-process Store for single-node deployments and tests.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]types.DispatchRecord
	events   map[string][]types.Event
	eventCap int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]types.DispatchRecord),
		events:   make(map[string][]types.Event),
		eventCap: defaultEventCap,
	}
}

// PutDispatch stores or replaces a dispatch record.
func (m *Memory) PutDispatch(_ context.Context, rec types.DispatchRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("dispatch record has no ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

// GetDispatch retrieves a dispatch record by ID.
func (m *Memory) GetDispatch(_ context.Context, id string) (*types.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", id, ErrNotFound)
	}
	return &rec, nil
}

// ListDispatches returns up to limit records, most recently created first.
func (m *Memory) ListDispatches(_ context.Context, limit int) ([]types.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]types.DispatchRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// AppendEvent appends an audit event, keeping only the most recent entries
// per token.
func (m *Memory) AppendEvent(_ context.Context, event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := append(m.events[event.Token], event)
	if len(events) > m.eventCap {
		events = events[len(events)-m.eventCap:]
	}
	m.events[event.Token] = events
	return nil
}

// ListEvents returns up to limit events for a token in append order.
func (m *Memory) ListEvents(_ context.Context, token string, limit int) ([]types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[token]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]types.Event, len(events))
	copy(out, events)
	return out, nil
}

// Start is a no-op for the in-memory store.
func (m *Memory) Start(context.Context) error { return nil }

// Stop is a no-op for the in-memory store.
func (m *Memory) Stop(context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (m *Memory) Ping(context.Context) error { return nil }

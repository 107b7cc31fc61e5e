/*
memstore.go - In-memory fund event store

Mirrors the SQLite store's compare-and-swap discipline; used by tests and the
demo scenarios.
*/
package fundevent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

type MemStore struct {
	mu     sync.Mutex
	events map[string]*FundEvent
}

func NewMemStore() *MemStore {
	return &MemStore{events: make(map[string]*FundEvent)}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Create(ctx context.Context, e *FundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[e.ID]; ok {
		return &ledger.ConflictError{Resource: "fund_event", Message: "event id already exists"}
	}
	m.events[e.ID] = cloneEvent(e)
	return nil
}

func (m *MemStore) Get(ctx context.Context, id string) (*FundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok || e.DeletedAt != nil {
		return nil, nil
	}
	return cloneEvent(e), nil
}

func (m *MemStore) Update(ctx context.Context, e *FundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.events[e.ID]
	if !ok || stored.DeletedAt != nil {
		return fmt.Errorf("fund event %s: %w", e.ID, ledger.ErrNotFound)
	}
	next := cloneEvent(e)
	next.State = stored.State // state changes go through CompareAndSwapState
	m.events[e.ID] = next
	return nil
}

func (m *MemStore) CompareAndSwapState(ctx context.Context, e *FundEvent, from workflow.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.events[e.ID]
	if !ok || stored.DeletedAt != nil {
		return fmt.Errorf("fund event %s: %w", e.ID, ledger.ErrNotFound)
	}
	if stored.State != from {
		return &ledger.ConflictError{
			Resource: "fund_event",
			Message:  fmt.Sprintf("state changed concurrently: expected %s, found %s", from, stored.State),
		}
	}
	m.events[e.ID] = cloneEvent(e)
	return nil
}

func (m *MemStore) List(ctx context.Context, f Filter) ([]FundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FundEvent
	for _, e := range m.events {
		if e.DeletedAt != nil {
			continue
		}
		if f.FundID != "" && e.FundID != f.FundID {
			continue
		}
		if f.ChurchID != "" && e.ChurchID != f.ChurchID {
			continue
		}
		if f.State != "" && e.State != f.State {
			continue
		}
		out = append(out, *cloneEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EventDate.After(out[j].EventDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok || e.DeletedAt != nil {
		return fmt.Errorf("fund event %s: %w", id, ledger.ErrNotFound)
	}
	e.DeletedAt = &at
	return nil
}

func cloneEvent(e *FundEvent) *FundEvent {
	c := *e
	c.Budget = append([]BudgetItem(nil), e.Budget...)
	c.Actuals = append([]ActualLine(nil), e.Actuals...)
	return &c
}

/*
memstore.go - In-memory report store

PURPOSE:
  A mutex-guarded map implementation of the report Store, used by tests and
  the demo scenarios. Mirrors the persistence contract of the SQLite store:
  the (church, month, year) uniqueness rule and the compare-and-swap state
  discipline, so the workflow tests exercise the same race behavior.
*/
package report

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
	mu      sync.Mutex
	reports map[string]*Report
}

func NewMemStore() *MemStore {
	return &MemStore{reports: make(map[string]*Report)}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Create(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reports {
		if existing.DeletedAt != nil {
			continue
		}
		if existing.ChurchID == r.ChurchID && existing.Month == r.Month && existing.Year == r.Year {
			return &ledger.ConflictError{
				Resource: "report",
				Message: fmt.Sprintf("a report for church %s period %02d/%d already exists",
					r.ChurchID, r.Month, r.Year),
			}
		}
	}
	m.reports[r.ID] = clone(r)
	return nil
}

func (m *MemStore) Get(ctx context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[id]
	if !ok || r.DeletedAt != nil {
		return nil, nil
	}
	return clone(r), nil
}

func (m *MemStore) Update(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.reports[r.ID]
	if !ok || stored.DeletedAt != nil {
		return fmt.Errorf("report %s: %w", r.ID, ledger.ErrNotFound)
	}
	next := clone(r)
	next.State = stored.State // state changes go through CompareAndSwapState
	m.reports[r.ID] = next
	return nil
}

func (m *MemStore) CompareAndSwapState(ctx context.Context, r *Report, from workflow.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.reports[r.ID]
	if !ok || stored.DeletedAt != nil {
		return fmt.Errorf("report %s: %w", r.ID, ledger.ErrNotFound)
	}
	if stored.State != from {
		return &ledger.ConflictError{
			Resource: "report",
			Message:  fmt.Sprintf("state changed concurrently: expected %s, found %s", from, stored.State),
		}
	}
	m.reports[r.ID] = clone(r)
	return nil
}

func (m *MemStore) List(ctx context.Context, f Filter) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Report
	for _, r := range m.reports {
		if r.DeletedAt != nil {
			continue
		}
		if f.ChurchID != "" && r.ChurchID != f.ChurchID {
			continue
		}
		if f.Year != 0 && r.Year != f.Year {
			continue
		}
		if f.Month != 0 && r.Month != f.Month {
			continue
		}
		if f.State != "" && r.State != f.State {
			continue
		}
		out = append(out, *clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].ChurchID < out[j].ChurchID
	})
	return out, nil
}

func (m *MemStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[id]
	if !ok || r.DeletedAt != nil {
		return fmt.Errorf("report %s: %w", id, ledger.ErrNotFound)
	}
	r.DeletedAt = &at
	return nil
}

func clone(r *Report) *Report {
	c := *r
	if r.Designated != nil {
		c.Designated = make(map[string]ledger.Amount, len(r.Designated))
		for k, v := range r.Designated {
			c.Designated[k] = v
		}
	}
	if r.Expenses != nil {
		c.Expenses = make(map[string]ledger.Amount, len(r.Expenses))
		for k, v := range r.Expenses {
			c.Expenses[k] = v
		}
	}
	c.Donors = append([]DonorEntry(nil), r.Donors...)
	return &c
}

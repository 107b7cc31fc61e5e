/*
locks.go - Fund-scoped exclusive lock manager

PURPOSE:
  Serializes read-check-write sequences per fund. The fund row is the only
  shared resource in the system that needs explicit locking: two concurrent
  approvals against the same fund must not interleave their balance
  read/modify/write, while approvals against different funds proceed fully in
  parallel.

ACQUISITION:
  Locks are channel-based so acquisition can honor the caller's context
  deadline. A caller that cannot acquire within its deadline gets
  ErrLockTimeout and may retry a bounded number of times; no partial state is
  ever visible because the guarded writes happen inside one unit of work.

ORDERING:
  Multi-fund acquisitions take locks in sorted ID order (see SortFundIDs),
  which rules out deadlock between concurrent regenerations.
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLockTimeout bounds acquisition when the caller's context carries no
// deadline of its own.
const DefaultLockTimeout = 5 * time.Second

type FundLockManager struct {
	mu    sync.Mutex
	locks map[FundID]chan struct{}

	// Timeout applies when the context has no deadline. Zero means
	// DefaultLockTimeout.
	Timeout time.Duration
}

func NewFundLockManager() *FundLockManager {
	return &FundLockManager{locks: make(map[FundID]chan struct{})}
}

func (m *FundLockManager) lockChan(id FundID) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

// LockFunds acquires the exclusive lock for each fund, in the order given.
// Callers pass sorted, de-duplicated IDs. The returned release function is
// safe to call exactly once.
func (m *FundLockManager) LockFunds(ctx context.Context, ids []FundID) (func(), error) {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(ids))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ids {
		ch := m.lockChan(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			releaseHeld()
			return nil, fmt.Errorf("fund %s: %w", id, ErrLockTimeout)
		}
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

/*
store.go - Persistence interfaces for the ledger and fund balances

PURPOSE:
  Defines the boundary between the treasury core and the backing store.
  Implementations: store/sqlite (durable) and ledger/store (in-memory, for
  tests and dev).

CONTRACT NOTES:
  - Transactions are immutable once written, with one exception: rows with
    origin=system are deleted and rewritten as a unit when their generating
    report or event is regenerated. RetractByOrigin is that single mutation
    path; nothing else updates or deletes ledger rows.
  - Every multi-row write that touches both the ledger and a fund balance
    happens inside one unit of work (WithTx): any failure rolls back the
    whole batch. A transaction row is never visible without its matching
    balance update.
  - AdjustBalance is only called while the caller holds the fund's exclusive
    lock (see FundLocker). The store itself does not re-acquire it.

SEE ALSO:
  - ledger.go: Ledger built on these interfaces
  - generator.go: lock-then-write sequence
  - store/sqlite/sqlite.go: durable implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Transaction row persistence
// =============================================================================

type Store interface {
	// Append persists one transaction row. The row must already satisfy
	// Transaction.Validate; the store additionally enforces the dual-amount
	// check constraint at the schema level.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple rows atomically. All or nothing.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// RetractByOrigin deletes every system-origin row tied to the source and
	// returns the deleted rows so the caller can reverse their balance
	// effect. Manual rows are never touched.
	RetractByOrigin(ctx context.Context, src SourceRef) ([]Transaction, error)

	// Load returns all rows for a fund, chronological by date, insertion
	// order as tiebreaker.
	Load(ctx context.Context, fundID FundID) ([]Transaction, error)

	// LoadBySource returns the system-origin rows tied to a report or event.
	LoadBySource(ctx context.Context, src SourceRef) ([]Transaction, error)

	// Query returns rows matching the filter with pagination applied.
	Query(ctx context.Context, f TransactionFilter) ([]Transaction, error)

	// Totals computes aggregate in/out/balance for the filter at query time.
	Totals(ctx context.Context, f TransactionFilter) (Totals, error)
}

// =============================================================================
// FUND STORE - Balance cache persistence
// =============================================================================

type FundStore interface {
	GetFund(ctx context.Context, id FundID) (*Fund, error)
	SaveFund(ctx context.Context, f Fund) error
	ListFunds(ctx context.Context, includeInactive bool) ([]Fund, error)

	// AdjustBalance applies delta to the fund's cached balance and returns
	// the new balance. With precheck set, fails with InsufficientBalanceError
	// instead of persisting a negative balance. Fails with ErrFundNotFound
	// if the fund does not exist. Callers hold the fund lock.
	AdjustBalance(ctx context.Context, id FundID, delta Amount, precheck bool) (Amount, error)
}

// =============================================================================
// CHURCH STORE
// =============================================================================

type ChurchStore interface {
	GetChurch(ctx context.Context, id ChurchID) (*Church, error)
	SaveChurch(ctx context.Context, c Church) error
	ListChurches(ctx context.Context) ([]Church, error)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork is the view of the store inside one atomic transaction boundary.
type UnitOfWork interface {
	Store
	FundStore

	// SetGenerationFingerprint records the generator fingerprint on the
	// source report or event, inside the same unit of work as the rows it
	// describes.
	SetGenerationFingerprint(ctx context.Context, src SourceRef, fingerprint string, at time.Time) error
}

// TxStore opens units of work.
type TxStore interface {
	Store
	FundStore

	// WithTx executes fn inside one atomic unit. If fn returns an error the
	// unit is rolled back and nothing is visible to other readers.
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// =============================================================================
// FUND LOCKER - Fund-scoped exclusive locks
// =============================================================================

// FundLocker serializes read-check-write sequences per fund. Locks for
// multiple funds are always acquired in sorted ID order to avoid deadlock;
// implementations may rely on callers passing sorted, de-duplicated IDs via
// SortFundIDs. Acquisition honors the context deadline and fails with
// ErrLockTimeout.
type FundLocker interface {
	LockFunds(ctx context.Context, ids []FundID) (release func(), err error)
}

// SortFundIDs sorts and de-duplicates fund IDs in place for lock ordering.
func SortFundIDs(ids []FundID) []FundID {
	seen := make(map[FundID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

/*
ledger.go - Ledger operations over the store

PURPOSE:
  The Ledger is the only write path for transaction rows outside the
  generator. It enforces the dual-amount invariant, keeps each fund's cached
  balance in lockstep with its rows, and provides the integrity-repair
  operation that recomputes a balance from first principles.

WRITE DISCIPLINE:
  Every append acquires the fund's exclusive lock, then performs row write +
  balance adjustment inside one unit of work. Two concurrent appends against
  the same fund serialize on the lock; appends against different funds run in
  parallel.

RECALCULATE:
  RecalculateBalance is not on the normal write path. It exists for drift
  detection and repair: sum the fund's rows, compare with the cache, rewrite
  the cache if they disagree. Tests and the background auditor assert the
  cache against the summed ledger.

SEE ALSO:
  - generator.go: approval-driven writes (retract + regenerate)
  - api/auditor.go: periodic drift detection using RecalculateBalance
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store TxStore
	Locks FundLocker
}

func NewLedger(store TxStore, locks FundLocker) *Ledger {
	return &Ledger{Store: store, Locks: locks}
}

// Append writes one manual ledger entry and its balance effect atomically.
// Expense entries pre-check the balance: a manual entry may never drive a
// fund negative.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (*Transaction, error) {
	if tx.Origin.IsSystem() {
		return nil, &ValidationError{Field: "origin", Message: "system rows are written by the generator only"}
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	release, err := l.Locks.LockFunds(ctx, []FundID{tx.FundID})
	if err != nil {
		return nil, err
	}
	defer release()

	err = l.Store.WithTx(ctx, func(uow UnitOfWork) error {
		precheck := tx.Delta().IsNegative()
		if _, err := uow.AdjustBalance(ctx, tx.FundID, tx.Delta(), precheck); err != nil {
			return err
		}
		return uow.Append(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Query returns matching rows plus aggregates computed at query time.
func (l *Ledger) Query(ctx context.Context, f TransactionFilter) ([]Transaction, Totals, error) {
	txs, err := l.Store.Query(ctx, f)
	if err != nil {
		return nil, Totals{}, err
	}
	totals, err := l.Store.Totals(ctx, f)
	if err != nil {
		return nil, Totals{}, err
	}
	return txs, totals, nil
}

// =============================================================================
// RECALCULATE - Integrity repair
// =============================================================================

// RecalcResult reports one fund's cached vs computed balance.
type RecalcResult struct {
	FundID   FundID
	Cached   Amount
	Computed Amount
	Repaired bool
}

func (r RecalcResult) Drift() Amount { return r.Cached.Sub(r.Computed) }

// RecalculateBalance recomputes the fund's balance by summing all its rows
// and repairs the cache if it drifted. Holds the fund lock for the duration
// so no write can interleave with the read-sum-write sequence.
func (l *Ledger) RecalculateBalance(ctx context.Context, fundID FundID) (*RecalcResult, error) {
	release, err := l.Locks.LockFunds(ctx, []FundID{fundID})
	if err != nil {
		return nil, err
	}
	defer release()

	var result RecalcResult
	err = l.Store.WithTx(ctx, func(uow UnitOfWork) error {
		fund, err := uow.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		if fund == nil {
			return fmt.Errorf("fund %s: %w", fundID, ErrFundNotFound)
		}

		txs, err := uow.Load(ctx, fundID)
		if err != nil {
			return err
		}
		computed := ZeroAmount()
		for _, tx := range txs {
			computed = computed.Add(tx.Delta())
		}

		result = RecalcResult{FundID: fundID, Cached: fund.CurrentBalance, Computed: computed}
		if !fund.CurrentBalance.Equal(computed) {
			fund.CurrentBalance = computed
			if err := uow.SaveFund(ctx, *fund); err != nil {
				return err
			}
			result.Repaired = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

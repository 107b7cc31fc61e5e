/*
generator.go - Approval transaction generator

PURPOSE:
  Turns an approved report or a finalized fund event into ledger rows,
  exactly once. The generator is the only writer of origin=system rows and
  the only code allowed to delete them (via retraction).

SEQUENCE (per invocation):
  1. Acquire the exclusive locks for every target fund, in sorted ID order
  2. Inside one unit of work:
     a. Retract any pre-existing system rows for the source and reverse
        their balance effect
     b. Per fund: write one row per non-zero category line, apply the net
        delta to the fund balance (pre-checking non-negativity when asked)
     c. Record the generation fingerprint on the source
  3. Release locks on commit or rollback

IDEMPOTENCE:
  Re-invocation with identical inputs retracts the previous rows and writes
  an identical set - a net no-op, never a duplicate. The fingerprint is a
  content hash of the line set, so callers can detect unchanged inputs.

PRE-CHECK:
  Events pre-check the balance (actuals can spend the fund down). Report
  contributions are non-negative income by construction and skip the check.

SEE ALSO:
  - report/service.go, fundevent/service.go: the two callers
  - reconcile.go: CheckNonNegative used for the pre-check
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INPUT SHAPES
// =============================================================================

// CategoryLine is one (category label, signed amount) pair. Positive amounts
// become amount_in rows, negative become amount_out.
type CategoryLine struct {
	Category string
	Concept  string
	Amount   Amount
}

// FundBatch groups the lines targeting one fund.
type FundBatch struct {
	FundID   FundID
	ChurchID ChurchID
	Date     time.Time
	Lines    []CategoryLine
}

// GenerateOptions control the balance pre-check.
type GenerateOptions struct {
	// PrecheckBalance rejects the whole generation if any fund would go
	// negative. Set on the event finalization path.
	PrecheckBalance bool
}

// GenerateResult reports what one invocation wrote.
type GenerateResult struct {
	Source       SourceRef
	Fingerprint  string
	Transactions []Transaction
	Retracted    int
	NewBalances  map[FundID]Amount
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	Store TxStore
	Locks FundLocker
}

func NewGenerator(store TxStore, locks FundLocker) *Generator {
	return &Generator{Store: store, Locks: locks}
}

// Regenerate retracts the source's previous system rows and writes the rows
// derived from the given batches, all as one atomic unit.
func (g *Generator) Regenerate(ctx context.Context, src SourceRef, batches []FundBatch, opts GenerateOptions) (*GenerateResult, error) {
	if src.IsZero() {
		return nil, &ValidationError{Field: "source", Message: "generator requires a source reference"}
	}

	fundIDs := make([]FundID, 0, len(batches))
	for _, b := range batches {
		if b.FundID == "" {
			return nil, &ValidationError{Field: "fund_id", Message: "batch requires a fund"}
		}
		fundIDs = append(fundIDs, b.FundID)
	}

	release, err := g.Locks.LockFunds(ctx, SortFundIDs(fundIDs))
	if err != nil {
		return nil, err
	}
	defer release()

	result := &GenerateResult{
		Source:      src,
		Fingerprint: Fingerprint(src, batches),
		NewBalances: make(map[FundID]Amount),
	}

	err = g.Store.WithTx(ctx, func(uow UnitOfWork) error {
		retracted, err := uow.RetractByOrigin(ctx, src)
		if err != nil {
			return err
		}
		result.Retracted = len(retracted)

		// Net delta per fund: retraction reversal plus the new rows, applied
		// once. Applying them separately could dip a balance below zero in
		// the middle of a regeneration whose end state is fine.
		deltas := make(map[FundID]Amount)
		for _, old := range retracted {
			deltas[old.FundID] = deltas[old.FundID].Sub(old.Delta())
		}

		now := time.Now().UTC()
		for _, batch := range batches {
			for _, line := range batch.Lines {
				if line.Amount.IsZero() {
					continue
				}
				tx := Transaction{
					ID:        TransactionID(uuid.NewString()),
					Date:      batch.Date,
					FundID:    batch.FundID,
					ChurchID:  batch.ChurchID,
					Source:    src,
					Concept:   lineConcept(line),
					Origin:    OriginSystem,
					CreatedAt: now,
				}
				if line.Amount.IsPositive() {
					tx.AmountIn = line.Amount
				} else {
					tx.AmountOut = line.Amount.Neg()
				}
				if err := tx.Validate(); err != nil {
					return err
				}
				result.Transactions = append(result.Transactions, tx)
				deltas[batch.FundID] = deltas[batch.FundID].Add(line.Amount)
			}
		}

		fundOrder := make([]FundID, 0, len(deltas))
		for id := range deltas {
			fundOrder = append(fundOrder, id)
		}
		fundOrder = SortFundIDs(fundOrder)

		for _, id := range fundOrder {
			newBal, err := uow.AdjustBalance(ctx, id, deltas[id], opts.PrecheckBalance)
			if err != nil {
				return err
			}
			result.NewBalances[id] = newBal
		}

		if err := uow.AppendBatch(ctx, result.Transactions); err != nil {
			return err
		}
		return uow.SetGenerationFingerprint(ctx, src, result.Fingerprint, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Retract removes the source's system rows and reverses their balance
// effect. Used by cascade deletes and rejections after an administrative
// regeneration.
func (g *Generator) Retract(ctx context.Context, src SourceRef) (int, error) {
	if src.IsZero() {
		return 0, &ValidationError{Field: "source", Message: "generator requires a source reference"}
	}

	// The rows may span several funds; find the fund set first, then lock.
	rows, err := g.Store.LoadBySource(ctx, src)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	fundIDs := make([]FundID, 0, len(rows))
	for _, r := range rows {
		fundIDs = append(fundIDs, r.FundID)
	}
	release, err := g.Locks.LockFunds(ctx, SortFundIDs(fundIDs))
	if err != nil {
		return 0, err
	}
	defer release()

	var retracted int
	err = g.Store.WithTx(ctx, func(uow UnitOfWork) error {
		removed, err := uow.RetractByOrigin(ctx, src)
		if err != nil {
			return err
		}
		retracted = len(removed)
		for _, old := range removed {
			if _, err := uow.AdjustBalance(ctx, old.FundID, old.Delta().Neg(), false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return retracted, nil
}

// =============================================================================
// FINGERPRINT
// =============================================================================

// Fingerprint hashes the canonical line set so identical inputs produce the
// same value regardless of batch or line order.
func Fingerprint(src SourceRef, batches []FundBatch) string {
	var parts []string
	for _, b := range batches {
		for _, line := range b.Lines {
			if line.Amount.IsZero() {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s|%s|%s|%s",
				b.FundID, b.Date.UTC().Format("2006-01-02"), line.Category, line.Amount))
		}
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(src.String()))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func lineConcept(line CategoryLine) string {
	if line.Concept != "" {
		return line.Concept
	}
	return line.Category
}

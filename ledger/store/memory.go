// Package store provides ledger store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ipupy/treasury-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []ledger.Transaction
	funds        map[ledger.FundID]ledger.Fund
	churches     map[ledger.ChurchID]ledger.Church
	fingerprints map[string]fingerprintRecord
}

type fingerprintRecord struct {
	Fingerprint string
	At          time.Time
}

func NewMemory() *Memory {
	return &Memory{
		funds:        make(map[ledger.FundID]ledger.Fund),
		churches:     make(map[ledger.ChurchID]ledger.Church),
		fingerprints: make(map[string]fingerprintRecord),
	}
}

// -----------------------------------------------------------------------------
// ledger.Store
// -----------------------------------------------------------------------------

func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) RetractByOrigin(_ context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retractLocked(src), nil
}

func (m *Memory) retractLocked(src ledger.SourceRef) []ledger.Transaction {
	var removed []ledger.Transaction
	kept := m.transactions[:0]
	for _, tx := range m.transactions {
		if tx.Origin.IsSystem() && tx.Source == src {
			removed = append(removed, tx)
		} else {
			kept = append(kept, tx)
		}
	}
	m.transactions = kept
	return removed
}

func (m *Memory) Load(_ context.Context, fundID ledger.FundID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.FundID == fundID {
			result = append(result, tx)
		}
	}
	sortByDate(result)
	return result, nil
}

func (m *Memory) LoadBySource(_ context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.Origin.IsSystem() && tx.Source == src {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Query(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.match(f)
	sortByDate(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) Totals(_ context.Context, f ledger.TransactionFilter) (ledger.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := ledger.Totals{
		TotalIn:  ledger.ZeroAmount(),
		TotalOut: ledger.ZeroAmount(),
	}
	for _, tx := range m.match(f) {
		totals.TotalIn = totals.TotalIn.Add(tx.AmountIn)
		totals.TotalOut = totals.TotalOut.Add(tx.AmountOut)
	}
	totals.Balance = totals.TotalIn.Sub(totals.TotalOut)
	return totals, nil
}

func (m *Memory) match(f ledger.TransactionFilter) []ledger.Transaction {
	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if f.FundID != "" && tx.FundID != f.FundID {
			continue
		}
		if f.ChurchID != "" && tx.ChurchID != f.ChurchID {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		result = append(result, tx)
	}
	return result
}

// sortByDate orders chronologically; insertion order is preserved for ties
// because the sort is stable over the append-ordered slice.
func sortByDate(txs []ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.Before(txs[j].Date)
	})
}

// -----------------------------------------------------------------------------
// ledger.FundStore
// -----------------------------------------------------------------------------

func (m *Memory) GetFund(_ context.Context, id ledger.FundID) (*ledger.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.funds[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *Memory) SaveFund(_ context.Context, f ledger.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[f.ID] = f
	return nil
}

func (m *Memory) ListFunds(_ context.Context, includeInactive bool) ([]ledger.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Fund
	for _, f := range m.funds {
		if !includeInactive && !f.Active {
			continue
		}
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) AdjustBalance(_ context.Context, id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBalanceLocked(id, delta, precheck)
}

func (m *Memory) adjustBalanceLocked(id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	f, ok := m.funds[id]
	if !ok {
		return ledger.Amount{}, fmt.Errorf("fund %s: %w", id, ledger.ErrFundNotFound)
	}
	next := f.CurrentBalance.Add(delta)
	if precheck && next.IsNegative() {
		return ledger.Amount{}, &ledger.InsufficientBalanceError{
			FundID:    id,
			Available: f.CurrentBalance,
			Required:  delta.Neg(),
		}
	}
	f.CurrentBalance = next
	m.funds[id] = f
	return next, nil
}

// -----------------------------------------------------------------------------
// ledger.ChurchStore
// -----------------------------------------------------------------------------

func (m *Memory) GetChurch(_ context.Context, id ledger.ChurchID) (*ledger.Church, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.churches[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) SaveChurch(_ context.Context, c ledger.Church) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.churches[c.ID] = c
	return nil
}

func (m *Memory) ListChurches(_ context.Context) ([]ledger.Church, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Church
	for _, c := range m.churches {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// -----------------------------------------------------------------------------
// Fingerprints
// -----------------------------------------------------------------------------

func (m *Memory) SetGenerationFingerprint(_ context.Context, src ledger.SourceRef, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[src.String()] = fingerprintRecord{Fingerprint: fingerprint, At: at}
	return nil
}

// GenerationFingerprint returns the recorded fingerprint for a source, if any.
func (m *Memory) GenerationFingerprint(src ledger.SourceRef) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.fingerprints[src.String()]
	return rec.Fingerprint, ok
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with snapshot-rollback units of work.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against the live store and restores a snapshot on error.
// The store mutex is held for the whole unit, so a failed unit is never
// observable.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.UnitOfWork) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}
	if err := fn(view); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions []ledger.Transaction
	funds        map[ledger.FundID]ledger.Fund
	fingerprints map[string]fingerprintRecord
}

func (m *Memory) snapshot() memorySnapshot {
	snap := memorySnapshot{
		transactions: append([]ledger.Transaction(nil), m.transactions...),
		funds:        make(map[ledger.FundID]ledger.Fund, len(m.funds)),
		fingerprints: make(map[string]fingerprintRecord, len(m.fingerprints)),
	}
	for k, v := range m.funds {
		snap.funds[k] = v
	}
	for k, v := range m.fingerprints {
		snap.fingerprints[k] = v
	}
	return snap
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.funds = s.funds
	m.fingerprints = s.fingerprints
}

// txMemoryView calls the *Locked variants: the parent mutex is already held
// by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Append(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := tv.parent.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txMemoryView) RetractByOrigin(_ context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	return tv.parent.retractLocked(src), nil
}

func (tv *txMemoryView) Load(_ context.Context, fundID ledger.FundID) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.FundID == fundID {
			result = append(result, tx)
		}
	}
	sortByDate(result)
	return result, nil
}

func (tv *txMemoryView) LoadBySource(_ context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.Origin.IsSystem() && tx.Source == src {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (tv *txMemoryView) Query(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	matched := tv.parent.match(f)
	sortByDate(matched)
	return matched, nil
}

func (tv *txMemoryView) Totals(_ context.Context, f ledger.TransactionFilter) (ledger.Totals, error) {
	totals := ledger.Totals{TotalIn: ledger.ZeroAmount(), TotalOut: ledger.ZeroAmount()}
	for _, tx := range tv.parent.match(f) {
		totals.TotalIn = totals.TotalIn.Add(tx.AmountIn)
		totals.TotalOut = totals.TotalOut.Add(tx.AmountOut)
	}
	totals.Balance = totals.TotalIn.Sub(totals.TotalOut)
	return totals, nil
}

func (tv *txMemoryView) GetFund(_ context.Context, id ledger.FundID) (*ledger.Fund, error) {
	f, ok := tv.parent.funds[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (tv *txMemoryView) SaveFund(_ context.Context, f ledger.Fund) error {
	tv.parent.funds[f.ID] = f
	return nil
}

func (tv *txMemoryView) ListFunds(_ context.Context, includeInactive bool) ([]ledger.Fund, error) {
	var result []ledger.Fund
	for _, f := range tv.parent.funds {
		if !includeInactive && !f.Active {
			continue
		}
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (tv *txMemoryView) AdjustBalance(_ context.Context, id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	return tv.parent.adjustBalanceLocked(id, delta, precheck)
}

func (tv *txMemoryView) SetGenerationFingerprint(_ context.Context, src ledger.SourceRef, fingerprint string, at time.Time) error {
	tv.parent.fingerprints[src.String()] = fingerprintRecord{Fingerprint: fingerprint, At: at}
	return nil
}

/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface (ledger.TxStore, ledger.FundStore,
  ledger.ChurchStore, report.Store, fundevent.Store) on one SQLite database.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  transactions:  the append-only ledger; rows leave only via retraction
  funds:         fund registry with the cached current balance
  churches:      church registry
  reports:       monthly reports with derived figures denormalized
  donor_entries: tithe donor rows per report
  fund_events:   budgeted activities
  budget_items / actual_lines: per-event projections and realizations

INTEGRITY IN THE SCHEMA:
  - CHECK on transactions: exactly one of amount_in/amount_out is non-zero
  - Partial unique index on reports(church_id, month, year) for live rows;
    concurrent creators race on it and exactly one wins
  - Fund balance non-negativity is NOT a schema constraint: retracting income
    that was already spent legitimately drives a cache negative until the
    drift auditor or a recalculation repairs the books. The pre-check in
    AdjustBalance covers the paths that must refuse to go negative.

CONCURRENCY:
  A sync.RWMutex serializes writers; SQLite runs in WAL mode so readers do
  not block. State transitions are compare-and-swap UPDATEs guarded by the
  previous state; a zero rows-affected result surfaces as ConflictError.

USAGE:
  store, err := sqlite.New("./data/treasury.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - reports.go, events.go: the workflow document stores
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ipupy/treasury-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent; the RWMutex
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Funds (registry + cached balance)
	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		current_balance TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Churches
	CREATE TABLE IF NOT EXISTS churches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT,
		pastor TEXT,
		phone TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Transactions (append-only; rows leave only via retraction)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		fund_id TEXT NOT NULL REFERENCES funds(id),
		church_id TEXT,
		source_kind TEXT,
		source_id TEXT,
		concept TEXT NOT NULL,
		provider_ref TEXT,
		amount_in TEXT NOT NULL DEFAULT '0',
		amount_out TEXT NOT NULL DEFAULT '0',
		origin TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK ((CAST(amount_in AS REAL) = 0) != (CAST(amount_out AS REAL) = 0))
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_fund_date
		ON transactions(fund_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON transactions(source_kind, source_id)
		WHERE source_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_church
		ON transactions(church_id) WHERE church_id IS NOT NULL;

	-- Reports (monthly church submissions)
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		church_id TEXT NOT NULL REFERENCES churches(id),
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		state TEXT NOT NULL,
		tithes TEXT NOT NULL DEFAULT '0',
		offerings TEXT NOT NULL DEFAULT '0',
		designated_json TEXT NOT NULL DEFAULT '{}',
		expenses_json TEXT NOT NULL DEFAULT '{}',
		deposit_amount TEXT NOT NULL DEFAULT '0',
		deposit_date TEXT,
		deposit_receipt TEXT,
		photo_ref TEXT,
		total_income TEXT NOT NULL DEFAULT '0',
		national_fund TEXT NOT NULL DEFAULT '0',
		designated_total TEXT NOT NULL DEFAULT '0',
		operating_total TEXT NOT NULL DEFAULT '0',
		pastoral_stipend TEXT NOT NULL DEFAULT '0',
		period_balance TEXT NOT NULL DEFAULT '0',
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		rejection_reason TEXT,
		generation_fingerprint TEXT,
		generated_at TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	-- One live report per (church, period); soft-deleted rows do not count.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_unique_period
		ON reports(church_id, month, year) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_reports_state
		ON reports(state) WHERE deleted_at IS NULL;

	-- Donor entries (per report)
	CREATE TABLE IF NOT EXISTS donor_entries (
		id TEXT PRIMARY KEY,
		report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		name TEXT,
		document TEXT,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_donor_entries_report
		ON donor_entries(report_id);

	-- Fund events (budgeted activities)
	CREATE TABLE IF NOT EXISTS fund_events (
		id TEXT PRIMARY KEY,
		fund_id TEXT NOT NULL REFERENCES funds(id),
		church_id TEXT,
		state TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		event_date TEXT,
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		reviewer_comment TEXT,
		total_income TEXT NOT NULL DEFAULT '0',
		total_expense TEXT NOT NULL DEFAULT '0',
		finalized_at TEXT,
		generation_fingerprint TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_fund_events_fund
		ON fund_events(fund_id) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_fund_events_state
		ON fund_events(state) WHERE deleted_at IS NULL;

	-- Budget items and actual lines (per event)
	CREATE TABLE IF NOT EXISTS budget_items (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES fund_events(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		description TEXT,
		projected TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_budget_items_event
		ON budget_items(event_id);

	CREATE TABLE IF NOT EXISTS actual_lines (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES fund_events(id) ON DELETE CASCADE,
		line_type TEXT NOT NULL,
		description TEXT,
		amount TEXT NOT NULL,
		receipt_ref TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_actual_lines_event
		ON actual_lines(event_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// executor abstracts *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTION STORE (ledger.Store)
// =============================================================================

const txColumns = `id, date, fund_id, church_id, source_kind, source_id, concept,
	provider_ref, amount_in, amount_out, origin, created_at`

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db executor, tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO transactions
		(` + txColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.Date.UTC().Format(time.RFC3339),
		tx.FundID,
		nullString(string(tx.ChurchID)),
		nullString(string(tx.Source.Kind)),
		nullString(tx.Source.ID),
		tx.Concept,
		nullString(tx.ProviderRef),
		tx.AmountIn.String(),
		tx.AmountOut.String(),
		string(tx.Origin),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendBatch(ctx, sqlTx, txs); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendBatch(ctx context.Context, db executor, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := appendTx(ctx, db, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RetractByOrigin(ctx context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return retractByOrigin(ctx, s.db, src)
}

// retractByOrigin removes the source's system rows and returns them so the
// caller can reverse their balance effect.
func retractByOrigin(ctx context.Context, db executor, src ledger.SourceRef) ([]ledger.Transaction, error) {
	rows, err := queryTransactions(ctx, db, `
		SELECT `+txColumns+` FROM transactions
		WHERE source_kind = ? AND source_id = ? AND origin = ?`,
		src.Kind, src.ID, string(ledger.OriginSystem))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	_, err = db.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE source_kind = ? AND source_id = ? AND origin = ?`,
		src.Kind, src.ID, string(ledger.OriginSystem))
	if err != nil {
		return nil, fmt.Errorf("failed to retract transactions: %w", err)
	}
	return rows, nil
}

func (s *Store) Load(ctx context.Context, fundID ledger.FundID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT `+txColumns+` FROM transactions
		WHERE fund_id = ?
		ORDER BY date ASC, created_at ASC`, fundID)
}

func (s *Store) LoadBySource(ctx context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBySource(ctx, s.db, src)
}

func loadBySource(ctx context.Context, db executor, src ledger.SourceRef) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db, `
		SELECT `+txColumns+` FROM transactions
		WHERE source_kind = ? AND source_id = ?
		ORDER BY date ASC, created_at ASC`, src.Kind, src.ID)
}

func (s *Store) Query(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterClauses(f)
	query := `SELECT ` + txColumns + ` FROM transactions` + where +
		` ORDER BY date DESC, created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	return queryTransactions(ctx, s.db, query, args...)
}

func (s *Store) Totals(ctx context.Context, f ledger.TransactionFilter) (ledger.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterClauses(f)
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CAST(amount_in AS REAL)), 0),
		       COALESCE(SUM(CAST(amount_out AS REAL)), 0)
		FROM transactions`+where, args...)

	var in, out float64
	if err := row.Scan(&in, &out); err != nil {
		return ledger.Totals{}, fmt.Errorf("failed to sum transactions: %w", err)
	}
	totals := ledger.Totals{
		TotalIn:  ledger.NewAmountFromFloat(in),
		TotalOut: ledger.NewAmountFromFloat(out),
	}
	totals.Balance = totals.TotalIn.Sub(totals.TotalOut)
	return totals, nil
}

func filterClauses(f ledger.TransactionFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.FundID != "" {
		clauses = append(clauses, "fund_id = ?")
		args = append(args, f.FundID)
	}
	if f.ChurchID != "" {
		clauses = append(clauses, "church_id = ?")
		args = append(args, f.ChurchID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func queryTransactions(ctx context.Context, db executor, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                   ledger.Transaction
		date, createdAt      string
		churchID             sql.NullString
		sourceKind, sourceID sql.NullString
		providerRef          sql.NullString
		amountIn, amountOut  string
		origin               string
	)
	err := rows.Scan(
		&tx.ID, &date, &tx.FundID, &churchID, &sourceKind, &sourceID,
		&tx.Concept, &providerRef, &amountIn, &amountOut, &origin, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date, _ = time.Parse(time.RFC3339, date)
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tx.ChurchID = ledger.ChurchID(churchID.String)
	if sourceID.Valid {
		tx.Source = ledger.SourceRef{Kind: ledger.SourceKind(sourceKind.String), ID: sourceID.String}
	}
	tx.ProviderRef = providerRef.String
	tx.Origin = ledger.Origin(origin)
	if tx.AmountIn, err = ledger.ParseAmount(amountIn); err != nil {
		return tx, err
	}
	if tx.AmountOut, err = ledger.ParseAmount(amountOut); err != nil {
		return tx, err
	}
	return tx, nil
}

// =============================================================================
// FUND STORE (ledger.FundStore)
// =============================================================================

func (s *Store) GetFund(ctx context.Context, id ledger.FundID) (*ledger.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFund(ctx, s.db, id)
}

func getFund(ctx context.Context, db executor, id ledger.FundID) (*ledger.Fund, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, category, current_balance, active, created_at
		FROM funds WHERE id = ?`, id)
	return scanFund(row)
}

func scanFund(row *sql.Row) (*ledger.Fund, error) {
	var f ledger.Fund
	var balance, createdAt string
	err := row.Scan(&f.ID, &f.Name, &f.Category, &balance, &f.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fund: %w", err)
	}
	if f.CurrentBalance, err = ledger.ParseAmount(balance); err != nil {
		return nil, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

func (s *Store) SaveFund(ctx context.Context, f ledger.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveFund(ctx, s.db, f)
}

func saveFund(ctx context.Context, db executor, f ledger.Fund) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO funds (id, name, category, current_balance, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			active = excluded.active`,
		f.ID, f.Name, f.Category, f.CurrentBalance.String(), f.Active,
		f.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListFunds(ctx context.Context, includeInactive bool) ([]ledger.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, category, current_balance, active, created_at FROM funds`
	if !includeInactive {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []ledger.Fund
	for rows.Next() {
		var f ledger.Fund
		var balance, createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &balance, &f.Active, &createdAt); err != nil {
			return nil, err
		}
		if f.CurrentBalance, err = ledger.ParseAmount(balance); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustBalance(ctx, s.db, id, delta, precheck)
}

func adjustBalance(ctx context.Context, db executor, id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	f, err := getFund(ctx, db, id)
	if err != nil {
		return ledger.Amount{}, err
	}
	if f == nil {
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

	_, err = db.ExecContext(ctx,
		`UPDATE funds SET current_balance = ? WHERE id = ?`,
		next.String(), id)
	if err != nil {
		return ledger.Amount{}, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return next, nil
}

// =============================================================================
// CHURCH STORE (ledger.ChurchStore)
// =============================================================================

func (s *Store) GetChurch(ctx context.Context, id ledger.ChurchID) (*ledger.Church, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, city, pastor, phone, active, created_at
		FROM churches WHERE id = ?`, id)

	var c ledger.Church
	var city, pastor, phone sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.Name, &city, &pastor, &phone, &c.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan church: %w", err)
	}
	c.City, c.Pastor, c.Phone = city.String, pastor.String, phone.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *Store) SaveChurch(ctx context.Context, c ledger.Church) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO churches (id, name, city, pastor, phone, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			pastor = excluded.pastor,
			phone = excluded.phone,
			active = excluded.active`,
		c.ID, c.Name, nullString(c.City), nullString(c.Pastor), nullString(c.Phone),
		c.Active, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListChurches(ctx context.Context) ([]ledger.Church, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, city, pastor, phone, active, created_at
		FROM churches ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var churches []ledger.Church
	for rows.Next() {
		var c ledger.Church
		var city, pastor, phone sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &city, &pastor, &phone, &c.Active, &createdAt); err != nil {
			return nil, err
		}
		c.City, c.Pastor, c.Phone = city.String, pastor.String, phone.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		churches = append(churches, c)
	}
	return churches, rows.Err()
}

// =============================================================================
// UNIT OF WORK (ledger.TxStore)
// =============================================================================

// WithTx runs fn inside one database transaction. The unit of work commits
// only if fn returns nil; any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView is the unit-of-work handle bound to one *sql.Tx.
type txView struct {
	tx *sql.Tx
}

func (tv *txView) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, tv.tx, tx)
}

func (tv *txView) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	return appendBatch(ctx, tv.tx, txs)
}

func (tv *txView) RetractByOrigin(ctx context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	return retractByOrigin(ctx, tv.tx, src)
}

func (tv *txView) Load(ctx context.Context, fundID ledger.FundID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, tv.tx, `
		SELECT `+txColumns+` FROM transactions
		WHERE fund_id = ?
		ORDER BY date ASC, created_at ASC`, fundID)
}

func (tv *txView) LoadBySource(ctx context.Context, src ledger.SourceRef) ([]ledger.Transaction, error) {
	return loadBySource(ctx, tv.tx, src)
}

func (tv *txView) Query(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where, args := filterClauses(f)
	return queryTransactions(ctx, tv.tx,
		`SELECT `+txColumns+` FROM transactions`+where+` ORDER BY date DESC, created_at DESC`,
		args...)
}

func (tv *txView) Totals(ctx context.Context, f ledger.TransactionFilter) (ledger.Totals, error) {
	where, args := filterClauses(f)
	row := tv.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CAST(amount_in AS REAL)), 0),
		       COALESCE(SUM(CAST(amount_out AS REAL)), 0)
		FROM transactions`+where, args...)

	var in, out float64
	if err := row.Scan(&in, &out); err != nil {
		return ledger.Totals{}, err
	}
	totals := ledger.Totals{
		TotalIn:  ledger.NewAmountFromFloat(in),
		TotalOut: ledger.NewAmountFromFloat(out),
	}
	totals.Balance = totals.TotalIn.Sub(totals.TotalOut)
	return totals, nil
}

func (tv *txView) GetFund(ctx context.Context, id ledger.FundID) (*ledger.Fund, error) {
	return getFund(ctx, tv.tx, id)
}

func (tv *txView) SaveFund(ctx context.Context, f ledger.Fund) error {
	return saveFund(ctx, tv.tx, f)
}

func (tv *txView) ListFunds(ctx context.Context, includeInactive bool) ([]ledger.Fund, error) {
	query := `SELECT id, name, category, current_balance, active, created_at FROM funds`
	if !includeInactive {
		query += ` WHERE active = TRUE`
	}
	rows, err := tv.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []ledger.Fund
	for rows.Next() {
		var f ledger.Fund
		var balance, createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &balance, &f.Active, &createdAt); err != nil {
			return nil, err
		}
		if f.CurrentBalance, err = ledger.ParseAmount(balance); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func (tv *txView) AdjustBalance(ctx context.Context, id ledger.FundID, delta ledger.Amount, precheck bool) (ledger.Amount, error) {
	return adjustBalance(ctx, tv.tx, id, delta, precheck)
}

// SetGenerationFingerprint records the fingerprint on the source row, so the
// generator's write and the marker commit together.
func (tv *txView) SetGenerationFingerprint(ctx context.Context, src ledger.SourceRef, fingerprint string, at time.Time) error {
	var query string
	switch src.Kind {
	case ledger.SourceReport:
		query = `UPDATE reports SET generation_fingerprint = ?, generated_at = ? WHERE id = ?`
	case ledger.SourceEvent:
		query = `UPDATE fund_events SET generation_fingerprint = ?, finalized_at = ? WHERE id = ?`
	default:
		return &ledger.ValidationError{Field: "source", Message: "unknown source kind"}
	}
	_, err := tv.tx.ExecContext(ctx, query, fingerprint, at.UTC().Format(time.RFC3339), src.ID)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

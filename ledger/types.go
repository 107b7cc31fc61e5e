/*
Package ledger provides the multi-fund transaction ledger at the core of the
treasury engine.

PURPOSE:
  This package contains the types and algorithms shared by every money-moving
  path in the system: the dual-amount transaction row, the fund balance cache,
  the append/retract operations, and the approval transaction generator that
  turns approved reports and fund events into ledger rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A single-currency quantity (guaraníes, whole units)
  - Transaction: A dual-amount (in/out) ledger entry tagged to exactly one fund
  - Fund: A named pool of money with a derived, authoritative balance cache
  - SourceRef: The report or event a system-generated row traces back to

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Single writer per fund: balance mutations happen under a fund-scoped lock
  3. Traceability: system rows always carry their generating source
  4. Balance is a sum: ordering is display-only, never a correctness input

SEE ALSO:
  - ledger.go: Ledger operations (append, retract, recalculate)
  - generator.go: Approval transaction generator
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Single-currency monetary quantity
// =============================================================================

// Amount is a monetary value in the organization's single currency.
// Whole-unit amounts; derived-field arithmetic rounds half away from zero.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

func NewAmountFromFloat(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		return Amount{}
	}
	return a
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount      { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount              { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount              { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool         { return a.Value.IsNegative() }
func (a Amount) IsZero() bool             { return a.Value.IsZero() }
func (a Amount) IsPositive() bool         { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool      { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool   { return a.Value.LessThan(b.Value) }
func (a Amount) String() string           { return a.Value.String() }

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Percent returns the given percentage of the amount, rounded to a whole unit.
// Used for the national fund contribution (10% of tithes + offerings).
func (a Amount) Percent(pct decimal.Decimal) Amount {
	return Amount{Value: a.Value.Mul(pct).Div(decimal.NewFromInt(100)).Round(0)}
}

// SumAmounts folds a slice of amounts. Zero for an empty slice.
func SumAmounts(amounts []Amount) Amount {
	total := ZeroAmount()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FundID string
type ChurchID string
type TransactionID string

// SourceKind identifies which workflow generated a system transaction.
type SourceKind string

const (
	SourceReport SourceKind = "report"
	SourceEvent  SourceKind = "event"
)

// SourceRef ties a system-generated transaction back to its report or event.
type SourceRef struct {
	Kind SourceKind
	ID   string
}

func ReportSource(id string) SourceRef { return SourceRef{Kind: SourceReport, ID: id} }
func EventSource(id string) SourceRef  { return SourceRef{Kind: SourceEvent, ID: id} }

func (s SourceRef) IsZero() bool   { return s.ID == "" }
func (s SourceRef) String() string { return string(s.Kind) + ":" + s.ID }

// =============================================================================
// ORIGIN - Who wrote the row
// =============================================================================

// Origin distinguishes generator-written rows (which may be retracted and
// rewritten as a unit) from manual entries (immutable once written).
type Origin string

const OriginSystem Origin = "system"

func ManualOrigin(actorID string) Origin {
	return Origin("manual:" + actorID)
}

func (o Origin) IsSystem() bool { return o == OriginSystem }

func (o Origin) Actor() string {
	if rest, ok := strings.CutPrefix(string(o), "manual:"); ok {
		return rest
	}
	return ""
}

// =============================================================================
// TRANSACTION - Dual-amount ledger entry
// =============================================================================

// Transaction is a single ledger entry affecting exactly one fund's balance.
// Exactly one of AmountIn/AmountOut is non-zero; both are >= 0.
type Transaction struct {
	ID          TransactionID
	Date        time.Time
	FundID      FundID
	ChurchID    ChurchID  // empty means organization-level
	Source      SourceRef // zero unless generated from a report or event
	Concept     string
	ProviderRef string // foreign key into the vendor registry; never validated here
	AmountIn    Amount
	AmountOut   Amount
	Origin      Origin
	CreatedAt   time.Time
}

// Delta is the signed balance effect of the row.
func (t Transaction) Delta() Amount { return t.AmountIn.Sub(t.AmountOut) }

// Validate enforces the write-time invariant: exactly one of amount_in and
// amount_out is non-zero, both non-negative, and the fund is identified.
func (t Transaction) Validate() error {
	if t.FundID == "" {
		return &ValidationError{Field: "fund_id", Message: "transaction requires a fund"}
	}
	if t.AmountIn.IsNegative() || t.AmountOut.IsNegative() {
		return &ValidationError{Field: "amount", Message: "amounts must be non-negative"}
	}
	if t.AmountIn.IsZero() == t.AmountOut.IsZero() {
		return &ValidationError{Field: "amount", Message: "exactly one of amount_in and amount_out must be non-zero"}
	}
	return nil
}

// =============================================================================
// FUND - A pool of money with a derived balance cache
// =============================================================================

type FundCategory string

const (
	FundGeneral    FundCategory = "general"
	FundDesignated FundCategory = "designated"
)

// Fund holds the authoritative balance cache for one pool of money.
// CurrentBalance must always equal the sum of the fund's transaction deltas;
// it is maintained transactionally with every ledger write and repaired via
// RecalculateBalance when drift is detected. Funds are deactivated, never
// deleted.
type Fund struct {
	ID             FundID
	Name           string
	Category       FundCategory
	CurrentBalance Amount
	Active         bool
	CreatedAt      time.Time
}

// =============================================================================
// CHURCH - Registry entry referenced by reports and transactions
// =============================================================================

type Church struct {
	ID        ChurchID
	Name      string
	City      string
	Pastor    string
	Phone     string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

// TransactionFilter selects ledger rows for query endpoints.
// Zero-valued fields are not applied.
type TransactionFilter struct {
	FundID   FundID
	ChurchID ChurchID
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Totals are aggregate figures computed at query time, never cached.
type Totals struct {
	TotalIn  Amount
	TotalOut Amount
	Balance  Amount
}

/*
Package report implements the monthly church report workflow: the first
instantiation of the generic approval state machine.

PURPOSE:
  A report is one church's financial submission for one (month, year). It
  carries raw category inputs (tithes, offerings, designated fund amounts,
  operating expenses), the donor rows backing the tithe total, and the bank
  deposit metadata. Everything else on a report is derived and recomputed
  from the raw inputs whenever they change.

LIFECYCLE:
  draft -> submitted -> approved (terminal)
                     -> rejected -> draft
  imported behaves exactly like submitted; it exists so an administrator can
  enter historical reports without replaying the submission step.

KEY INVARIANTS:
  - One report per (church, month, year), enforced at creation
  - Derived fields are recomputed, never free-edited; period balance is zero
    by construction
  - Approved reports are immutable outside the admin override, which
    retracts and regenerates the report's ledger rows

SEE ALSO:
  - derive.go: derived-field formulas
  - workflow.go: transition table and guards
  - service.go: orchestration and generator invocation
*/
package report

import (
	"context"
	"time"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// STATES
// =============================================================================

const (
	StateDraft     workflow.State = "draft"
	StateSubmitted workflow.State = "submitted"
	StateApproved  workflow.State = "approved"
	StateRejected  workflow.State = "rejected"

	// StateImported is a pseudo-state equivalent to submitted, used for
	// administratively entered historical reports.
	StateImported workflow.State = "imported"
)

// =============================================================================
// REPORT
// =============================================================================

type Report struct {
	ID       string
	ChurchID ledger.ChurchID
	Month    int // 1..12
	Year     int
	State    workflow.State

	// Raw inputs. Designated and Expenses are keyed by the category labels
	// of the active rule-set; absent keys count as zero.
	Tithes     ledger.Amount
	Offerings  ledger.Amount
	Designated map[string]ledger.Amount
	Expenses   map[string]ledger.Amount
	Donors     []DonorEntry

	// Deposit metadata. DepositReceipt and PhotoRef are opaque references
	// produced by external collaborators; only presence is checked.
	DepositAmount  ledger.Amount
	DepositDate    time.Time
	DepositReceipt string
	PhotoRef       string

	// Derived fields, recomputed from the raw inputs. Never user-editable.
	Derived DerivedTotals

	// Workflow metadata
	SubmittedAt     *time.Time
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string

	// Generator fingerprint, set when ledger rows are (re)generated.
	GenerationFingerprint string
	GeneratedAt           *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Source is the report's reference in the transaction ledger.
func (r *Report) Source() ledger.SourceRef { return ledger.ReportSource(r.ID) }

// PeriodEnd is the last day of the report's month, used as the transaction
// date when no deposit date is recorded.
func (r *Report) PeriodEnd() time.Time {
	return time.Date(r.Year, time.Month(r.Month)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// TransactionDate picks the deposit date when present, else the period end.
func (r *Report) TransactionDate() time.Time {
	if !r.DepositDate.IsZero() {
		return r.DepositDate
	}
	return r.PeriodEnd()
}

// DonorSum totals the donor rows.
func (r *Report) DonorSum() ledger.Amount {
	sum := ledger.ZeroAmount()
	for _, d := range r.Donors {
		sum = sum.Add(d.Amount)
	}
	return sum
}

// =============================================================================
// DONOR ENTRY
// =============================================================================

// DonorEntry is one tithe donor row. At least one of Name and Document must
// be present.
type DonorEntry struct {
	ID       string
	Name     string
	Document string
	Amount   ledger.Amount
}

func (d DonorEntry) Validate() error {
	if d.Name == "" && d.Document == "" {
		return &ledger.ValidationError{Field: "donors", Message: "donor entry requires a name or a document id"}
	}
	if d.Amount.IsNegative() || d.Amount.IsZero() {
		return &ledger.ValidationError{Field: "donors", Message: "donor amount must be positive"}
	}
	return nil
}

// =============================================================================
// DERIVED TOTALS
// =============================================================================

// DerivedTotals are the computed fields. PeriodBalance is zero by
// construction; a non-zero value is a defect, not a user input error.
type DerivedTotals struct {
	TotalIncome     ledger.Amount
	NationalFund    ledger.Amount
	DesignatedTotal ledger.Amount
	OperatingTotal  ledger.Amount
	PastoralStipend ledger.Amount
	PeriodBalance   ledger.Amount
}

// ExpectedDeposit is the remittance the bank deposit must cover: the
// national fund contribution plus the designated fund total.
func (d DerivedTotals) ExpectedDeposit() ledger.Amount {
	return d.NationalFund.Add(d.DesignatedTotal)
}

// =============================================================================
// STORE
// =============================================================================

type Filter struct {
	ChurchID ledger.ChurchID
	Year     int
	Month    int
	State    workflow.State
}

type Store interface {
	// Create inserts the report and its donor rows. Returns a ConflictError
	// if a live report already exists for (church, month, year); concurrent
	// creators race on the uniqueness constraint and exactly one wins.
	Create(ctx context.Context, r *Report) error

	// Get returns the report with donors, nil when missing or soft-deleted.
	Get(ctx context.Context, id string) (*Report, error)

	// Update persists the full row, field-level last-write-wins. State is
	// not changed here; transitions go through CompareAndSwapState.
	Update(ctx context.Context, r *Report) error

	// CompareAndSwapState persists the report with its new state only if the
	// stored state still equals from. Returns ConflictError when the swap
	// loses a race.
	CompareAndSwapState(ctx context.Context, r *Report, from workflow.State) error

	List(ctx context.Context, f Filter) ([]Report, error)

	// SoftDelete marks the report deleted; the caller retracts ledger rows.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

/*
Package fundevent implements the budgeted fund activity workflow: the second
instantiation of the generic approval state machine.

PURPOSE:
  A fund event is an ad-hoc activity charged against one fund (a conference,
  a campaign), optionally attributed to a church. Before approval it carries
  projected budget items; after the activity happens, actual income and
  expense lines are recorded and finalized into ledger transactions.

LIFECYCLE:
  draft -> submitted -> approved (terminal)
                     -> rejected (terminal)
                     -> pending_revision -> submitted (loop)
  draft -> cancelled (terminal)

  Finalize is not a state: it is a separate action on an approved event with
  at least one actual line. It nets the actuals against the fund balance
  through the transaction generator, with the non-negativity pre-check.

KEY INVARIANTS:
  - Approval never checks the balance; the budget is projected, not spent
  - Finalization that would drive the fund negative fails with no partial
    writes and the balance untouched
  - Approved events are immutable except for recording actuals

SEE ALSO:
  - workflow.go: transition table and guards
  - service.go: orchestration, finalize, generator invocation
*/
package fundevent

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
	StateDraft           workflow.State = "draft"
	StateSubmitted       workflow.State = "submitted"
	StatePendingRevision workflow.State = "pending_revision"
	StateApproved        workflow.State = "approved"
	StateRejected        workflow.State = "rejected"
	StateCancelled       workflow.State = "cancelled"
)

// =============================================================================
// FUND EVENT
// =============================================================================

type FundEvent struct {
	ID       string
	FundID   ledger.FundID
	ChurchID ledger.ChurchID // optional attribution
	State    workflow.State

	Name        string
	Description string
	EventDate   time.Time

	Budget  []BudgetItem
	Actuals []ActualLine

	// Workflow metadata
	SubmittedAt     *time.Time
	ApprovedBy      string
	ApprovedAt      *time.Time
	ReviewerComment string

	// Finalization results. Totals are derived from the actual lines at
	// finalize time and frozen with the generation fingerprint.
	TotalIncome           ledger.Amount
	TotalExpense          ledger.Amount
	FinalizedAt           *time.Time
	GenerationFingerprint string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Source is the event's reference in the transaction ledger.
func (e *FundEvent) Source() ledger.SourceRef { return ledger.EventSource(e.ID) }

// Finalized reports whether the event's actuals have been turned into
// transactions.
func (e *FundEvent) Finalized() bool { return e.FinalizedAt != nil }

// ProjectedTotal sums the budget items.
func (e *FundEvent) ProjectedTotal() ledger.Amount {
	total := ledger.ZeroAmount()
	for _, b := range e.Budget {
		total = total.Add(b.Projected)
	}
	return total
}

// ActualTotals sums the actual lines by type.
func (e *FundEvent) ActualTotals() (income, expense ledger.Amount) {
	income, expense = ledger.ZeroAmount(), ledger.ZeroAmount()
	for _, a := range e.Actuals {
		switch a.Type {
		case ActualIncome:
			income = income.Add(a.Amount)
		case ActualExpense:
			expense = expense.Add(a.Amount)
		}
	}
	return income, expense
}

// =============================================================================
// BUDGET ITEMS AND ACTUAL LINES
// =============================================================================

// BudgetItem is one projected cost or income line, entered before approval.
type BudgetItem struct {
	ID          string
	Category    string
	Description string
	Projected   ledger.Amount
}

func (b BudgetItem) Validate() error {
	if b.Category == "" {
		return &ledger.ValidationError{Field: "budget", Message: "budget item requires a category"}
	}
	if b.Projected.IsNegative() {
		return &ledger.ValidationError{Field: "budget", Message: "projected amount must be non-negative"}
	}
	return nil
}

// ActualKind distinguishes income from expense lines.
type ActualKind string

const (
	ActualIncome  ActualKind = "income"
	ActualExpense ActualKind = "expense"
)

// ActualLine is one realized income or expense, recorded after the activity.
type ActualLine struct {
	ID          string
	Type        ActualKind
	Description string
	Amount      ledger.Amount
	ReceiptRef  string // opaque reference, presence not required
}

func (a ActualLine) Validate() error {
	if a.Type != ActualIncome && a.Type != ActualExpense {
		return &ledger.ValidationError{Field: "actuals", Message: "line type must be income or expense"}
	}
	if a.Amount.IsNegative() || a.Amount.IsZero() {
		return &ledger.ValidationError{Field: "actuals", Message: "line amount must be positive"}
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

type Filter struct {
	FundID   ledger.FundID
	ChurchID ledger.ChurchID
	State    workflow.State
}

type Store interface {
	Create(ctx context.Context, e *FundEvent) error

	// Get returns the event with budget and actuals, nil when missing or
	// soft-deleted.
	Get(ctx context.Context, id string) (*FundEvent, error)

	// Update persists the full row, field-level last-write-wins. State
	// changes go through CompareAndSwapState.
	Update(ctx context.Context, e *FundEvent) error

	// CompareAndSwapState persists the event with its new state only if the
	// stored state still equals from. Returns ConflictError otherwise.
	CompareAndSwapState(ctx context.Context, e *FundEvent, from workflow.State) error

	List(ctx context.Context, f Filter) ([]FundEvent, error)

	// SoftDelete marks the event deleted; the caller retracts ledger rows.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

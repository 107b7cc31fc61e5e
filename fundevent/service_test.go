package fundevent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ipupy/treasury-engine/fundevent"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/ledger/store"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func amt(v int64) ledger.Amount { return ledger.NewAmount(v) }

type fixture struct {
	svc    *fundevent.Service
	ledger *store.TxMemory
}

// newFixture seeds one designated fund holding 5,000,000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewTxMemory()
	if err := mem.SaveFund(ctx, ledger.Fund{
		ID:             "fund-jovenes",
		Name:           "jovenes",
		Category:       ledger.FundDesignated,
		CurrentBalance: amt(5_000_000),
		Active:         true,
	}); err != nil {
		t.Fatalf("seed fund: %v", err)
	}

	gen := ledger.NewGenerator(mem, ledger.NewFundLockManager())
	return &fixture{
		svc:    fundevent.NewService(fundevent.NewMemStore(), mem, gen),
		ledger: mem,
	}
}

func treasurer() workflow.Actor {
	return workflow.Actor{ID: "user-treasurer", Role: workflow.RoleTreasurer}
}

func fundActor() workflow.Actor {
	return workflow.Actor{ID: "user-fund", Role: workflow.RoleChurch, FundScopes: []ledger.FundID{"fund-jovenes"}}
}

func exampleInput() fundevent.Input {
	return fundevent.Input{
		FundID:      "fund-jovenes",
		ChurchID:    "church-5",
		Name:        "Congreso Nacional de Jovenes",
		Description: "Annual youth conference",
		EventDate:   time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
		Budget: []fundevent.BudgetItem{
			{Category: "venue", Description: "venue rental", Projected: amt(3_000_000)},
			{Category: "food", Description: "catering", Projected: amt(2_000_000)},
		},
	}
}

func (f *fixture) approvedEvent(t *testing.T) *fundevent.FundEvent {
	t.Helper()
	ctx := context.Background()

	e, err := f.svc.Create(ctx, fundActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, fundActor(), e.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e, err = f.svc.Approve(ctx, treasurer(), e.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return e
}

func (f *fixture) balance(t *testing.T) ledger.Amount {
	t.Helper()
	fund, err := f.ledger.GetFund(context.Background(), "fund-jovenes")
	if err != nil || fund == nil {
		t.Fatalf("get fund: %v", err)
	}
	return fund.CurrentBalance
}

func (f *fixture) addActual(t *testing.T, id string, kind fundevent.ActualKind, v int64) {
	t.Helper()
	_, err := f.svc.AddActual(context.Background(), treasurer(), id, fundevent.ActualLine{
		Type: kind, Description: "line", Amount: amt(v),
	})
	if err != nil {
		t.Fatalf("add actual: %v", err)
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestSubmit_RequiresBudget(t *testing.T) {
	// GIVEN: A draft without budget items
	// WHEN: Submitting
	// THEN: ValidationError

	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.Budget = nil
	e, err := f.svc.Create(ctx, fundActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Submit(ctx, fundActor(), e.ID); !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestApprove_NoBalanceCheck(t *testing.T) {
	// A budget far beyond the fund's balance still approves: the money is
	// projected, not spent.
	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.Budget = []fundevent.BudgetItem{{Category: "venue", Projected: amt(50_000_000)}}
	e, err := f.svc.Create(ctx, fundActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, fundActor(), e.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Approve(ctx, treasurer(), e.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestRevisionLoop(t *testing.T) {
	// GIVEN: A submitted event sent back for revision
	// WHEN: The submitter edits and resubmits
	// THEN: The loop works and the comment requirement is enforced

	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Create(ctx, fundActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, fundActor(), e.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.RequestRevision(ctx, treasurer(), e.ID, ""); !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError for empty comment, got %v", err)
	}

	rev, err := f.svc.RequestRevision(ctx, treasurer(), e.ID, "split the catering line")
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if rev.State != fundevent.StatePendingRevision {
		t.Fatalf("expected pending_revision, got %s", rev.State)
	}

	in := exampleInput()
	in.Budget = append(in.Budget, fundevent.BudgetItem{Category: "food", Description: "drinks", Projected: amt(500_000)})
	if _, err := f.svc.Update(ctx, fundActor(), e.ID, in); err != nil {
		t.Fatalf("update during revision: %v", err)
	}
	resubmitted, err := f.svc.Submit(ctx, fundActor(), e.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.State != fundevent.StateSubmitted {
		t.Errorf("expected submitted, got %s", resubmitted.State)
	}
}

func TestCancel_OnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Create(ctx, fundActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, fundActor(), e.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != fundevent.StateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.State)
	}

	// A submitted event cannot be cancelled.
	e2, err := f.svc.Create(ctx, fundActor(), fundevent.Input{
		FundID: "fund-jovenes", Name: "Retiro", Description: "retreat",
		EventDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		Budget:    []fundevent.BudgetItem{{Category: "venue", Projected: amt(100)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, fundActor(), e2.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, fundActor(), e2.ID); !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdate_ApprovedEvent_Frozen(t *testing.T) {
	f := newFixture(t)
	e := f.approvedEvent(t)

	_, err := f.svc.Update(context.Background(), treasurer(), e.ID, exampleInput())
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// =============================================================================
// FINALIZE TESTS
// =============================================================================

func TestFinalize_NetsActualsAgainstFund(t *testing.T) {
	// GIVEN: Balance 5,000,000; actuals: expense 4,500,000, income 500,000
	// WHEN: Finalizing
	// THEN: Two rows, net delta -4,000,000, balance 1,000,000

	f := newFixture(t)
	ctx := context.Background()
	e := f.approvedEvent(t)

	f.addActual(t, e.ID, fundevent.ActualExpense, 4_500_000)
	f.addActual(t, e.ID, fundevent.ActualIncome, 500_000)

	done, err := f.svc.Finalize(ctx, treasurer(), e.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !done.Finalized() {
		t.Error("expected finalized event")
	}
	if !done.TotalIncome.Equal(amt(500_000)) || !done.TotalExpense.Equal(amt(4_500_000)) {
		t.Errorf("totals: got income %s expense %s", done.TotalIncome, done.TotalExpense)
	}

	rows, err := f.ledger.LoadBySource(ctx, e.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := f.balance(t); !got.Equal(amt(1_000_000)) {
		t.Errorf("expected balance 1000000, got %s", got)
	}
}

func TestFinalize_InsufficientBalance_NoPartialWrites(t *testing.T) {
	// GIVEN: Balance 5,000,000; expense 6,000,000 against income 500,000
	// WHEN: Finalizing (net delta -5,500,000)
	// THEN: InsufficientBalanceError; no rows; balance still 5,000,000

	f := newFixture(t)
	ctx := context.Background()
	e := f.approvedEvent(t)

	f.addActual(t, e.ID, fundevent.ActualExpense, 6_000_000)
	f.addActual(t, e.ID, fundevent.ActualIncome, 500_000)

	_, err := f.svc.Finalize(ctx, treasurer(), e.ID)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var insErr *ledger.InsufficientBalanceError
	if !errors.As(err, &insErr) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}

	rows, err := f.ledger.LoadBySource(ctx, e.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows after failed finalize, got %d", len(rows))
	}
	if got := f.balance(t); !got.Equal(amt(5_000_000)) {
		t.Errorf("expected untouched balance 5000000, got %s", got)
	}

	got, err := f.svc.Get(ctx, treasurer(), e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Finalized() {
		t.Error("a failed finalize must not mark the event finalized")
	}
}

func TestFinalize_RequiresActuals(t *testing.T) {
	f := newFixture(t)
	e := f.approvedEvent(t)

	_, err := f.svc.Finalize(context.Background(), treasurer(), e.ID)
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFinalize_Refinalize_Idempotent(t *testing.T) {
	// GIVEN: A finalized event (net -4,000,000) that gains a late expense
	// WHEN: Re-finalizing
	// THEN: Old rows are retracted first; balance reflects only the new set

	f := newFixture(t)
	ctx := context.Background()
	e := f.approvedEvent(t)

	f.addActual(t, e.ID, fundevent.ActualExpense, 4_500_000)
	f.addActual(t, e.ID, fundevent.ActualIncome, 500_000)
	if _, err := f.svc.Finalize(ctx, treasurer(), e.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	f.addActual(t, e.ID, fundevent.ActualExpense, 300_000)
	done, err := f.svc.Finalize(ctx, treasurer(), e.ID)
	if err != nil {
		t.Fatalf("re-finalize: %v", err)
	}
	if !done.TotalExpense.Equal(amt(4_800_000)) {
		t.Errorf("expected expense total 4800000, got %s", done.TotalExpense)
	}

	rows, err := f.ledger.LoadBySource(ctx, e.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after regeneration, got %d", len(rows))
	}
	if got := f.balance(t); !got.Equal(amt(700_000)) {
		t.Errorf("expected balance 700000, got %s", got)
	}
}

func TestDelete_FinalizedEvent_RetractsRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.approvedEvent(t)

	f.addActual(t, e.ID, fundevent.ActualExpense, 1_000_000)
	if _, err := f.svc.Finalize(ctx, treasurer(), e.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	admin := workflow.Actor{ID: "user-admin", Role: workflow.RoleAdmin}
	if err := f.svc.Delete(ctx, admin, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := f.balance(t); !got.Equal(amt(5_000_000)) {
		t.Errorf("expected restored balance 5000000, got %s", got)
	}
}

package report_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/ledger/store"
	"github.com/ipupy/treasury-engine/report"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc    *report.Service
	ledger *store.TxMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewTxMemory()
	rules := factory.DefaultRules()

	funds := []ledger.Fund{
		{ID: rules.NationalFundID, Name: "Fondo Nacional", Category: ledger.FundGeneral, Active: true},
	}
	for cat, id := range rules.DesignatedFunds {
		funds = append(funds, ledger.Fund{ID: id, Name: cat, Category: ledger.FundDesignated, Active: true})
	}
	for _, f := range funds {
		if err := mem.SaveFund(ctx, f); err != nil {
			t.Fatalf("seed fund: %v", err)
		}
	}
	if err := mem.SaveChurch(ctx, ledger.Church{ID: "church-5", Name: "Iglesia Central", City: "Asuncion", Active: true}); err != nil {
		t.Fatalf("seed church: %v", err)
	}

	gen := ledger.NewGenerator(mem, ledger.NewFundLockManager())
	return &fixture{
		svc:    report.NewService(report.NewMemStore(), mem, gen, rules),
		ledger: mem,
	}
}

func churchActor() workflow.Actor {
	return workflow.Actor{ID: "user-church", Role: workflow.RoleChurch, ChurchScope: "church-5"}
}

func treasurerActor() workflow.Actor {
	return workflow.Actor{ID: "user-treasurer", Role: workflow.RoleTreasurer}
}

func adminActor() workflow.Actor {
	return workflow.Actor{ID: "user-admin", Role: workflow.RoleAdmin}
}

func exampleInput() report.Input {
	return report.Input{
		ChurchID:  "church-5",
		Month:     9,
		Year:      2025,
		Tithes:    amt(800_000),
		Offerings: amt(400_000),
		Designated: map[string]ledger.Amount{
			"misiones": amt(50_000),
		},
		Expenses: map[string]ledger.Amount{
			"energy": amt(100_000),
			"water":  amt(30_000),
		},
		Donors: []report.DonorEntry{
			{Name: "Juan Benitez", Amount: amt(500_000)},
			{Name: "Maria Gonzalez", Amount: amt(300_000)},
		},
		DepositAmount:  amt(170_050),
		DepositDate:    time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC),
		DepositReceipt: "receipt-0017",
	}
}

func (f *fixture) approvedReport(t *testing.T) *report.Report {
	t.Helper()
	ctx := context.Background()

	r, err := f.svc.Create(ctx, churchActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r, err = f.svc.Approve(ctx, treasurerActor(), r.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return r
}

func (f *fixture) fundBalance(t *testing.T, id ledger.FundID) ledger.Amount {
	t.Helper()
	fund, err := f.ledger.GetFund(context.Background(), id)
	if err != nil {
		t.Fatalf("get fund: %v", err)
	}
	if fund == nil {
		t.Fatalf("fund %s missing", id)
	}
	return fund.CurrentBalance
}

// =============================================================================
// CREATE / UNIQUENESS
// =============================================================================

func TestCreate_DuplicatePeriod_OneWinner(t *testing.T) {
	// GIVEN: Ten concurrent creates for (church-5, 09/2025)
	// WHEN: They race on the uniqueness rule
	// THEN: Exactly one succeeds, the rest get a conflict

	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, churchActor(), exampleInput())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case ledger.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 9 {
		t.Errorf("expected 1 winner and 9 conflicts, got %d/%d", wins, conflicts)
	}
}

func TestCreate_OutOfScope_Forbidden(t *testing.T) {
	f := newFixture(t)
	actor := churchActor()
	actor.ChurchScope = "church-9"

	_, err := f.svc.Create(context.Background(), actor, exampleInput())
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreate_UnknownChurch(t *testing.T) {
	f := newFixture(t)
	in := exampleInput()
	in.ChurchID = "church-404"

	_, err := f.svc.Create(context.Background(), treasurerActor(), in)
	if !ledger.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_DonorSumMismatch_Rejected(t *testing.T) {
	// GIVEN: Donor rows summing 700k against declared tithes 800k
	// WHEN: Submitting
	// THEN: ValidationError; the report stays in draft

	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.Donors = []report.DonorEntry{{Name: "Juan Benitez", Amount: amt(700_000)}}
	r, err := f.svc.Create(ctx, churchActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Submit(ctx, churchActor(), r.ID)
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	got, err := f.svc.Get(ctx, churchActor(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != report.StateDraft {
		t.Errorf("expected draft after failed submit, got %s", got.State)
	}
}

func TestSubmit_DonorSumWithinTolerance_Accepted(t *testing.T) {
	// Donor sum 799,999 against tithes 800,000: inside the ±1 tolerance.
	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.Donors = []report.DonorEntry{{Name: "Juan Benitez", Amount: amt(799_999)}}
	r, err := f.svc.Create(ctx, churchActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_GeneratesLedgerRows(t *testing.T) {
	// GIVEN: A submitted report (national 120k, misiones 50k)
	// WHEN: The treasurer approves
	// THEN: Two system rows exist and both fund balances moved

	f := newFixture(t)
	ctx := context.Background()
	r := f.approvedReport(t)

	if r.State != report.StateApproved {
		t.Fatalf("expected approved, got %s", r.State)
	}
	if r.GenerationFingerprint == "" {
		t.Error("expected a generation fingerprint")
	}

	rows, err := f.ledger.LoadBySource(ctx, r.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 generated rows, got %d", len(rows))
	}
	for _, row := range rows {
		if !row.Origin.IsSystem() {
			t.Errorf("generated row %s is not system-origin", row.ID)
		}
		if row.ChurchID != "church-5" {
			t.Errorf("generated row %s lost its church attribution", row.ID)
		}
	}

	if got := f.fundBalance(t, "fund-nacional"); !got.Equal(amt(120_000)) {
		t.Errorf("national fund balance: expected 120000, got %s", got)
	}
	if got := f.fundBalance(t, "fund-misiones"); !got.Equal(amt(50_000)) {
		t.Errorf("misiones fund balance: expected 50000, got %s", got)
	}
}

func TestApprove_DepositOutsideTolerance_Rejected(t *testing.T) {
	// Expected remittance is 170,000; a 160,000 deposit misses by 10,000,
	// far beyond the ±100 tolerance.
	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.DepositAmount = amt(160_000)
	r, err := f.svc.Create(ctx, churchActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Approve(ctx, treasurerActor(), r.ID)
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := f.fundBalance(t, "fund-nacional"); !got.IsZero() {
		t.Errorf("no rows should be generated on a failed approval, balance %s", got)
	}
}

func TestApprove_MissingReceipt_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := exampleInput()
	in.DepositReceipt = ""
	r, err := f.svc.Create(ctx, churchActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Approve(ctx, treasurerActor(), r.ID)
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestApprove_ChurchRole_Forbidden(t *testing.T) {
	// The submitter tier can never approve, even for its own church.
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, churchActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = f.svc.Approve(ctx, churchActor(), r.ID)
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestApprove_ConcurrentApprovals_OneGeneration(t *testing.T) {
	// GIVEN: A submitted report and two racing approvers
	// WHEN: Both approve concurrently
	// THEN: One wins; the ledger holds exactly one generation

	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, churchActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, treasurerActor(), r.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case ledger.IsConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning approval, got %d", wins)
	}
	if got := f.fundBalance(t, "fund-nacional"); !got.Equal(amt(120_000)) {
		t.Errorf("expected a single generation, balance %s", got)
	}
}

// =============================================================================
// REJECT / REOPEN
// =============================================================================

func TestReject_RequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, churchActor(), exampleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, churchActor(), r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.Reject(ctx, treasurerActor(), r.ID, ""); !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError for empty reason, got %v", err)
	}

	rejected, err := f.svc.Reject(ctx, treasurerActor(), r.ID, "deposit receipt unreadable")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.State != report.StateRejected {
		t.Errorf("expected rejected, got %s", rejected.State)
	}

	reopened, err := f.svc.Reopen(ctx, churchActor(), r.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.State != report.StateDraft || reopened.RejectionReason != "" {
		t.Errorf("expected clean draft after reopen, got %s %q", reopened.State, reopened.RejectionReason)
	}
}

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_BehavesLikeSubmitted(t *testing.T) {
	// An imported historical report skips submission and approves directly.
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Import(ctx, adminActor(), exampleInput())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if r.State != report.StateImported {
		t.Fatalf("expected imported, got %s", r.State)
	}

	approved, err := f.svc.Approve(ctx, treasurerActor(), r.ID)
	if err != nil {
		t.Fatalf("approve imported: %v", err)
	}
	if approved.State != report.StateApproved {
		t.Errorf("expected approved, got %s", approved.State)
	}
}

func TestImport_ChurchRole_Forbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Import(context.Background(), churchActor(), exampleInput())
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// =============================================================================
// UPDATE / ADMIN OVERRIDE
// =============================================================================

func TestUpdate_ApprovedReport_NonAdmin_Forbidden(t *testing.T) {
	f := newFixture(t)
	r := f.approvedReport(t)

	_, err := f.svc.Update(context.Background(), treasurerActor(), r.ID, exampleInput())
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdate_ApprovedReport_AdminRegenerates(t *testing.T) {
	// GIVEN: An approved report with generated rows (national 120k)
	// WHEN: An admin corrects the tithes from 800k to 900k
	// THEN: Old rows are retracted, new rows written, balances match the
	//       corrected figures (national 130k), still exactly 2 rows

	f := newFixture(t)
	ctx := context.Background()
	r := f.approvedReport(t)
	oldFingerprint := r.GenerationFingerprint

	in := exampleInput()
	in.Tithes = amt(900_000)
	in.Donors = []report.DonorEntry{{Name: "Juan Benitez", Amount: amt(900_000)}}
	updated, err := f.svc.Update(ctx, adminActor(), r.ID, in)
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}

	if updated.State != report.StateApproved {
		t.Errorf("expected report to stay approved, got %s", updated.State)
	}
	if updated.GenerationFingerprint == oldFingerprint {
		t.Error("expected a new fingerprint after regeneration")
	}

	rows, err := f.ledger.LoadBySource(ctx, r.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after regeneration, got %d", len(rows))
	}
	if got := f.fundBalance(t, "fund-nacional"); !got.Equal(amt(130_000)) {
		t.Errorf("national fund: expected 130000 after correction, got %s", got)
	}
	if got := f.fundBalance(t, "fund-misiones"); !got.Equal(amt(50_000)) {
		t.Errorf("misiones fund: expected unchanged 50000, got %s", got)
	}
}

func TestUpdate_RegenerateUnchangedInputs_Idempotent(t *testing.T) {
	// Re-running the generator with identical figures is a net no-op.
	f := newFixture(t)
	ctx := context.Background()
	r := f.approvedReport(t)
	fingerprint := r.GenerationFingerprint

	updated, err := f.svc.Update(ctx, adminActor(), r.ID, exampleInput())
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.GenerationFingerprint != fingerprint {
		t.Errorf("identical inputs must keep the fingerprint")
	}
	if got := f.fundBalance(t, "fund-nacional"); !got.Equal(amt(120_000)) {
		t.Errorf("expected unchanged balance 120000, got %s", got)
	}
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_ApprovedReport_RetractsRows(t *testing.T) {
	// GIVEN: An approved report with generated rows
	// WHEN: An admin deletes it
	// THEN: The rows are retracted, balances return to zero, report is gone

	f := newFixture(t)
	ctx := context.Background()
	r := f.approvedReport(t)

	if err := f.svc.Delete(ctx, adminActor(), r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := f.ledger.LoadBySource(ctx, r.Source())
	if err != nil {
		t.Fatalf("load by source: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected retracted rows, found %d", len(rows))
	}
	if got := f.fundBalance(t, "fund-nacional"); !got.IsZero() {
		t.Errorf("expected zero balance after retraction, got %s", got)
	}

	if _, err := f.svc.Get(ctx, adminActor(), r.ID); !ledger.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestDelete_ApprovedReport_NonAdmin_Forbidden(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Delete(context.Background(), treasurerActor(), f.approvedReport(t).ID)
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

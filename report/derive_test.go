package report_test

import (
	"testing"
	"time"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/report"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func amt(v int64) ledger.Amount { return ledger.NewAmount(v) }

// exampleReport is the worked month used across the derive tests:
// tithes 800,000 + offerings 400,000, misiones 50,000, energy 100,000,
// water 30,000.
func exampleReport() *report.Report {
	return &report.Report{
		ID:        "rep-1",
		ChurchID:  "church-5",
		Month:     9,
		Year:      2025,
		State:     report.StateDraft,
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
	}
}

// =============================================================================
// DERIVED FORMULA TESTS
// =============================================================================

func TestCompute_WorkedExample(t *testing.T) {
	// GIVEN: tithes 800k, offerings 400k, misiones 50k, expenses 130k
	// WHEN: Computing derived totals
	// THEN: national=120k, income=1,250k, stipend=950k, balance=0

	r := exampleReport()
	d, err := report.Compute(r, factory.DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  ledger.Amount
		want int64
	}{
		{"national fund", d.NationalFund, 120_000},
		{"total income", d.TotalIncome, 1_250_000},
		{"designated total", d.DesignatedTotal, 50_000},
		{"operating total", d.OperatingTotal, 130_000},
		{"pastoral stipend", d.PastoralStipend, 950_000},
		{"period balance", d.PeriodBalance, 0},
	}
	for _, c := range checks {
		if !c.got.Equal(amt(c.want)) {
			t.Errorf("%s: expected %d, got %s", c.name, c.want, c.got)
		}
	}

	if !d.ExpectedDeposit().Equal(amt(170_000)) {
		t.Errorf("expected deposit 170000, got %s", d.ExpectedDeposit())
	}
}

func TestCompute_NationalFundRounding(t *testing.T) {
	// GIVEN: A base whose 10% is not an integer (100,005 -> 10,000.5)
	// WHEN: Computing
	// THEN: The national fund is rounded half up to 10,001

	r := exampleReport()
	r.Tithes = amt(100_005)
	r.Offerings = ledger.ZeroAmount()
	r.Designated = nil
	r.Expenses = nil

	d, err := report.Compute(r, factory.DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.NationalFund.Equal(amt(10_001)) {
		t.Errorf("expected national fund 10001, got %s", d.NationalFund)
	}
}

func TestCompute_ZeroMonth(t *testing.T) {
	// GIVEN: A month with no activity at all
	// WHEN: Computing
	// THEN: Every derived figure is zero and no error is raised

	r := exampleReport()
	r.Tithes = ledger.ZeroAmount()
	r.Offerings = ledger.ZeroAmount()
	r.Designated = nil
	r.Expenses = nil
	r.Donors = nil

	d, err := report.Compute(r, factory.DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, got := range map[string]ledger.Amount{
		"national":       d.NationalFund,
		"income":         d.TotalIncome,
		"stipend":        d.PastoralStipend,
		"period balance": d.PeriodBalance,
	} {
		if !got.IsZero() {
			t.Errorf("%s: expected zero, got %s", name, got)
		}
	}
}

func TestCompute_ExpensesExceedIncome(t *testing.T) {
	// GIVEN: Operating expenses larger than the month's income
	// WHEN: Computing
	// THEN: A ValidationError, not a negative stipend or balance

	r := exampleReport()
	r.Expenses = map[string]ledger.Amount{"other": amt(2_000_000)}

	_, err := report.Compute(r, factory.DefaultRules())
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// =============================================================================
// INPUT VALIDATION TESTS
// =============================================================================

func TestValidateInputs_RejectsBadValues(t *testing.T) {
	rules := factory.DefaultRules()

	cases := []struct {
		name   string
		mutate func(*report.Report)
	}{
		{"month zero", func(r *report.Report) { r.Month = 0 }},
		{"month thirteen", func(r *report.Report) { r.Month = 13 }},
		{"negative tithes", func(r *report.Report) { r.Tithes = amt(-1) }},
		{"unknown designated category", func(r *report.Report) {
			r.Designated["construccion"] = amt(100)
		}},
		{"unknown expense category", func(r *report.Report) {
			r.Expenses["internet"] = amt(100)
		}},
		{"negative designated amount", func(r *report.Report) {
			r.Designated["misiones"] = amt(-50)
		}},
		{"anonymous donor", func(r *report.Report) {
			r.Donors = append(r.Donors, report.DonorEntry{Amount: amt(100)})
		}},
		{"zero donor amount", func(r *report.Report) {
			r.Donors = append(r.Donors, report.DonorEntry{Name: "x", Amount: amt(0)})
		}},
		{"negative deposit", func(r *report.Report) { r.DepositAmount = amt(-1) }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := exampleReport()
			c.mutate(r)
			err := report.ValidateInputs(r, rules)
			if !ledger.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRecompute_StoresDerived(t *testing.T) {
	r := exampleReport()
	if err := report.Recompute(r, factory.DefaultRules()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Derived.PastoralStipend.Equal(amt(950_000)) {
		t.Errorf("expected stipend 950000, got %s", r.Derived.PastoralStipend)
	}
}

// =============================================================================
// DATE HELPERS
// =============================================================================

func TestTransactionDate_PrefersDepositDate(t *testing.T) {
	r := exampleReport()

	// No deposit date: the period end is used.
	if got, want := r.TransactionDate(), time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected period end %v, got %v", want, got)
	}

	dep := time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)
	r.DepositDate = dep
	if got := r.TransactionDate(); !got.Equal(dep) {
		t.Errorf("expected deposit date %v, got %v", dep, got)
	}
}

func TestPeriodEnd_LeapFebruary(t *testing.T) {
	r := exampleReport()
	r.Month, r.Year = 2, 2024
	if got, want := r.PeriodEnd(), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}


/*
derive.go - Derived-field computation

PURPOSE:
  Computes every derived figure on a report from its raw inputs. The
  computation is a pure function: same inputs produce byte-for-byte the same
  outputs, so recomputation on every raw-input change is safe and the stored
  derived fields can always be re-verified.

FORMULAS (exact, not approximate):
  total income   = tithes + offerings + designated total
  national fund  = round(national% x (tithes + offerings))
  stipend        = max(0, total income - (designated + operating + national))
  period balance = total income - (designated + operating + national + stipend)

  The period balance is zero by construction whenever the stipend is not
  clamped at zero, and equals the (negative) uncovered shortfall otherwise -
  in which case the stipend absorbs nothing and the balance is still
  reported. A non-zero period balance with a positive stipend is a defect
  and Compute fails with ErrInternalInvariant rather than storing it.
*/
package report

import (
	"fmt"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/ledger"
)

// ValidateInputs rejects malformed raw categories before any derivation.
func ValidateInputs(r *Report, rules factory.Rules) error {
	if r.Month < 1 || r.Month > 12 {
		return &ledger.ValidationError{Field: "month", Message: "month must be 1..12"}
	}
	if r.Year < 2000 {
		return &ledger.ValidationError{Field: "year", Message: "year is implausible"}
	}
	if r.Tithes.IsNegative() {
		return &ledger.ValidationError{Field: "tithes", Message: "must be non-negative"}
	}
	if r.Offerings.IsNegative() {
		return &ledger.ValidationError{Field: "offerings", Message: "must be non-negative"}
	}
	for cat, amt := range r.Designated {
		if _, ok := rules.DesignatedFunds[cat]; !ok {
			return &ledger.ValidationError{Field: "designated", Message: fmt.Sprintf("unknown category %q", cat)}
		}
		if amt.IsNegative() {
			return &ledger.ValidationError{Field: "designated", Message: fmt.Sprintf("%s must be non-negative", cat)}
		}
	}
	for cat, amt := range r.Expenses {
		if !rules.IsExpenseCategory(cat) {
			return &ledger.ValidationError{Field: "expenses", Message: fmt.Sprintf("unknown category %q", cat)}
		}
		if amt.IsNegative() {
			return &ledger.ValidationError{Field: "expenses", Message: fmt.Sprintf("%s must be non-negative", cat)}
		}
	}
	for _, d := range r.Donors {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	if r.DepositAmount.IsNegative() {
		return &ledger.ValidationError{Field: "deposit_amount", Message: "must be non-negative"}
	}
	return nil
}

// Compute derives every calculated field from the raw inputs.
func Compute(r *Report, rules factory.Rules) (DerivedTotals, error) {
	designatedTotal := ledger.ZeroAmount()
	for _, amt := range r.Designated {
		designatedTotal = designatedTotal.Add(amt)
	}
	operatingTotal := ledger.ZeroAmount()
	for _, amt := range r.Expenses {
		operatingTotal = operatingTotal.Add(amt)
	}

	base := r.Tithes.Add(r.Offerings)
	national := base.Percent(rules.NationalPercent)
	totalIncome := base.Add(designatedTotal)

	deductions := designatedTotal.Add(operatingTotal).Add(national)
	if deductions.GreaterThan(totalIncome) {
		// User-correctable: the period cannot spend more than it received.
		return DerivedTotals{}, &ledger.ValidationError{
			Field: "expenses",
			Message: fmt.Sprintf("deductions %s exceed total income %s",
				deductions, totalIncome),
		}
	}

	stipend := totalIncome.Sub(deductions).Max(ledger.ZeroAmount())
	periodBalance := totalIncome.Sub(deductions.Add(stipend))

	d := DerivedTotals{
		TotalIncome:     totalIncome,
		NationalFund:    national,
		DesignatedTotal: designatedTotal,
		OperatingTotal:  operatingTotal,
		PastoralStipend: stipend,
		PeriodBalance:   periodBalance,
	}

	// The stipend is the residual, so the balance closes to zero exactly.
	// Anything else is a formula defect, never a user input problem.
	if !periodBalance.IsZero() {
		return DerivedTotals{}, fmt.Errorf(
			"period balance %s is non-zero with stipend %s: %w",
			periodBalance, stipend, ledger.ErrInternalInvariant)
	}
	return d, nil
}

// Recompute validates and re-derives in one step, storing the result.
func Recompute(r *Report, rules factory.Rules) error {
	if err := ValidateInputs(r, rules); err != nil {
		return err
	}
	d, err := Compute(r, rules)
	if err != nil {
		return err
	}
	r.Derived = d
	return nil
}

/*
reconcile.go - Reconciliation validator

PURPOSE:
  Pure functions enforcing the financial reconciliation rules that gate
  workflow transitions:
    - donor-sum-matches-declared-tithes (small absolute tolerance)
    - deposit-amount-matches-expected-total (larger tolerance)
    - non-negative fund balance pre-check

  These functions have no dependencies and no side effects, so the guards in
  both workflows share one implementation and tests can exercise the rules
  directly.

TOLERANCES:
  Tolerances are passed in by the caller (they come from the factory rule-set,
  defaults: donor ±1, deposit ±100). A tolerance is an absolute bound on the
  discrepancy, not a percentage.

SEE ALSO:
  - report/workflow.go: uses donor and deposit checks as transition guards
  - generator.go: uses the balance pre-check on the event expense path
*/
package ledger

import "fmt"

// WithinTolerance reports whether two amounts differ by at most tol.
func WithinTolerance(a, b, tol Amount) bool {
	return !a.Sub(b).Abs().GreaterThan(tol)
}

// CheckDonorSum verifies the donor rows add up to the declared tithe total.
// Returns a ValidationError naming both figures on mismatch.
func CheckDonorSum(donorSum, declaredTithes, tol Amount) error {
	if WithinTolerance(donorSum, declaredTithes, tol) {
		return nil
	}
	return &ValidationError{
		Field: "donors",
		Message: fmt.Sprintf("donor sum %s does not match declared tithes %s (tolerance %s)",
			donorSum, declaredTithes, tol),
	}
}

// CheckDeposit verifies the bank deposit covers the expected remittance
// (national fund contribution + designated fund total).
func CheckDeposit(deposit, expected, tol Amount) error {
	if WithinTolerance(deposit, expected, tol) {
		return nil
	}
	return &ValidationError{
		Field: "deposit_amount",
		Message: fmt.Sprintf("deposit %s does not match expected %s (tolerance %s)",
			deposit, expected, tol),
	}
}

// CheckNonNegative verifies that applying delta to balance stays >= 0.
func CheckNonNegative(fundID FundID, balance, delta Amount) error {
	next := balance.Add(delta)
	if !next.IsNegative() {
		return nil
	}
	return &InsufficientBalanceError{
		FundID:    fundID,
		Available: balance,
		Required:  delta.Neg(),
	}
}

/*
workflow.go - Report transition table

PURPOSE:
  Instantiates the generic approval machine for monthly reports. Guards
  encode the reconciliation gates: donor sum on submission, bank deposit on
  approval, reviewer reason on rejection.

TRANSITIONS:
  draft     -> submitted   guard: inputs valid, donor sum within tolerance
  submitted -> approved    approver; guard: receipt present, deposit matches
  imported  -> approved    same as submitted -> approved
  submitted -> rejected    approver; guard: reason present
  imported  -> rejected    same as submitted -> rejected
  rejected  -> draft       unguarded reopen

  approved is terminal in the table; the admin override edits an approved
  report without a state change (see service.go).
*/
package report

import (
	"context"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

// NewMachine builds the report state machine for a rule-set.
func NewMachine(rules factory.Rules) *workflow.Machine[*Report] {
	submitGuard := func(ctx context.Context, actor workflow.Actor, r *Report) error {
		if err := ValidateInputs(r, rules); err != nil {
			return err
		}
		// The donor list backs the tithe figure; a tithe total with no donor
		// rows (or a drifted sum) cannot be submitted.
		if r.Tithes.IsPositive() {
			return ledger.CheckDonorSum(r.DonorSum(), r.Tithes, rules.DonorTolerance)
		}
		return nil
	}

	approveGuard := func(ctx context.Context, actor workflow.Actor, r *Report) error {
		if r.DepositReceipt == "" {
			return &ledger.ValidationError{
				Field:   "deposit_receipt",
				Message: "approval requires a bank deposit receipt",
			}
		}
		return ledger.CheckDeposit(r.DepositAmount, r.Derived.ExpectedDeposit(), rules.DepositTolerance)
	}

	rejectGuard := func(ctx context.Context, actor workflow.Actor, r *Report) error {
		if r.RejectionReason == "" {
			return &ledger.ValidationError{
				Field:   "rejection_reason",
				Message: "rejection requires a reason for the submitter",
			}
		}
		return nil
	}

	scope := func(actor workflow.Actor, r *Report) error {
		if !actor.InChurchScope(r.ChurchID) {
			return &ledger.ValidationError{
				Field:   "church_id",
				Message: "actor is outside the report's church scope",
			}
		}
		return nil
	}

	return workflow.NewMachine("report", scope, []workflow.Transition[*Report]{
		{From: StateDraft, To: StateSubmitted, Guard: submitGuard},
		{From: StateSubmitted, To: StateApproved, Approver: true, Guard: approveGuard},
		{From: StateImported, To: StateApproved, Approver: true, Guard: approveGuard},
		{From: StateSubmitted, To: StateRejected, Approver: true, Guard: rejectGuard},
		{From: StateImported, To: StateRejected, Approver: true, Guard: rejectGuard},
		{From: StateRejected, To: StateDraft},
	})
}

/*
workflow.go - Fund event transition table

TRANSITIONS:
  draft            -> submitted         guard: budget present, fields complete
  submitted        -> approved          approver; no balance check (projected)
  submitted        -> pending_revision  approver; reviewer comment required
  submitted        -> rejected          approver; reviewer comment required
  pending_revision -> submitted         resubmission, same completeness guard
  draft            -> cancelled         unguarded

  approved, rejected and cancelled are terminal. Finalize is an action on an
  approved event, not a transition (see service.go).
*/
package fundevent

import (
	"context"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

// NewMachine builds the fund event state machine.
func NewMachine() *workflow.Machine[*FundEvent] {
	submitGuard := func(ctx context.Context, actor workflow.Actor, e *FundEvent) error {
		if e.Name == "" {
			return &ledger.ValidationError{Field: "name", Message: "submission requires a name"}
		}
		if e.Description == "" {
			return &ledger.ValidationError{Field: "description", Message: "submission requires a description"}
		}
		if e.EventDate.IsZero() {
			return &ledger.ValidationError{Field: "event_date", Message: "submission requires an event date"}
		}
		if len(e.Budget) == 0 {
			return &ledger.ValidationError{Field: "budget", Message: "submission requires at least one budget item"}
		}
		for _, b := range e.Budget {
			if err := b.Validate(); err != nil {
				return err
			}
		}
		return nil
	}

	commentGuard := func(ctx context.Context, actor workflow.Actor, e *FundEvent) error {
		if e.ReviewerComment == "" {
			return &ledger.ValidationError{
				Field:   "reviewer_comment",
				Message: "the reviewer must explain the decision to the submitter",
			}
		}
		return nil
	}

	scope := func(actor workflow.Actor, e *FundEvent) error {
		if !actor.InFundScope(e.FundID) {
			return &ledger.ValidationError{
				Field:   "fund_id",
				Message: "actor is outside the event's fund scope",
			}
		}
		return nil
	}

	return workflow.NewMachine("fund event", scope, []workflow.Transition[*FundEvent]{
		{From: StateDraft, To: StateSubmitted, Guard: submitGuard},
		{From: StateSubmitted, To: StateApproved, Approver: true},
		{From: StateSubmitted, To: StatePendingRevision, Approver: true, Guard: commentGuard},
		{From: StateSubmitted, To: StateRejected, Approver: true, Guard: commentGuard},
		{From: StatePendingRevision, To: StateSubmitted, Guard: submitGuard},
		{From: StateDraft, To: StateCancelled},
	})
}

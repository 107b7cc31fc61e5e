/*
service.go - Report orchestration

PURPOSE:
  Wires the store, the state machine and the transaction generator into the
  report operations the API exposes. Every state change is persisted with a
  compare-and-swap on the previous state, so two racing approvals resolve to
  exactly one winner and one generator invocation.

APPROVAL SEQUENCE:
  1. Recompute derived figures from the stored raw inputs
  2. Machine validates approved-state entry (receipt, deposit reconciliation)
  3. CAS draft-state row to approved
  4. Generator retracts-and-writes the ledger rows under fund locks
  5. Fingerprint and approval metadata are persisted
  If step 4 fails the state is swapped back, so a report is never approved
  without its ledger rows.
*/
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

type Service struct {
	Reports   Store
	Churches  ledger.ChurchStore
	Generator *ledger.Generator
	Rules     factory.Rules
	Machine   *workflow.Machine[*Report]
}

func NewService(reports Store, churches ledger.ChurchStore, gen *ledger.Generator, rules factory.Rules) *Service {
	return &Service{
		Reports:   reports,
		Churches:  churches,
		Generator: gen,
		Rules:     rules,
		Machine:   NewMachine(rules),
	}
}

// =============================================================================
// INPUT SHAPE
// =============================================================================

// Input carries the user-editable fields of a report. Derived fields are
// never accepted from callers.
type Input struct {
	ChurchID       ledger.ChurchID
	Month          int
	Year           int
	Tithes         ledger.Amount
	Offerings      ledger.Amount
	Designated     map[string]ledger.Amount
	Expenses       map[string]ledger.Amount
	Donors         []DonorEntry
	DepositAmount  ledger.Amount
	DepositDate    time.Time
	DepositReceipt string
	PhotoRef       string
}

func (in Input) apply(r *Report) {
	r.Tithes = in.Tithes
	r.Offerings = in.Offerings
	r.Designated = in.Designated
	r.Expenses = in.Expenses
	r.Donors = in.Donors
	r.DepositAmount = in.DepositAmount
	r.DepositDate = in.DepositDate
	r.DepositReceipt = in.DepositReceipt
	r.PhotoRef = in.PhotoRef
}

// =============================================================================
// CREATE / IMPORT
// =============================================================================

// Create opens a draft report for (church, month, year). Concurrent creates
// for the same period race on the store's uniqueness constraint; exactly one
// wins and the rest receive a ConflictError.
func (s *Service) Create(ctx context.Context, actor workflow.Actor, in Input) (*Report, error) {
	return s.create(ctx, actor, in, StateDraft)
}

// Import enters a historical report directly in the imported state, which
// behaves like submitted. Approver tier only.
func (s *Service) Import(ctx context.Context, actor workflow.Actor, in Input) (*Report, error) {
	if !actor.IsApprover() {
		return nil, fmt.Errorf("importing reports requires an approver role: %w", ledger.ErrForbidden)
	}
	return s.create(ctx, actor, in, StateImported)
}

func (s *Service) create(ctx context.Context, actor workflow.Actor, in Input, state workflow.State) (*Report, error) {
	if !actor.InChurchScope(in.ChurchID) {
		return nil, fmt.Errorf("actor is outside church %s: %w", in.ChurchID, ledger.ErrForbidden)
	}
	church, err := s.Churches.GetChurch(ctx, in.ChurchID)
	if err != nil {
		return nil, err
	}
	if church == nil {
		return nil, fmt.Errorf("church %s: %w", in.ChurchID, ledger.ErrNotFound)
	}

	now := time.Now().UTC()
	r := &Report{
		ID:        uuid.NewString(),
		ChurchID:  in.ChurchID,
		Month:     in.Month,
		Year:      in.Year,
		State:     state,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(r)

	if err := Recompute(r, s.Rules); err != nil {
		return nil, err
	}
	if err := s.Reports.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// READ
// =============================================================================

func (s *Service) Get(ctx context.Context, actor workflow.Actor, id string) (*Report, error) {
	r, err := s.Reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("report %s: %w", id, ledger.ErrNotFound)
	}
	if !actor.InChurchScope(r.ChurchID) {
		return nil, fmt.Errorf("actor is outside church %s: %w", r.ChurchID, ledger.ErrForbidden)
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, actor workflow.Actor, f Filter) ([]Report, error) {
	// Church-scoped actors only ever see their own church.
	if !actor.IsNational() {
		f.ChurchID = actor.ChurchScope
	}
	return s.Reports.List(ctx, f)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update edits the raw inputs and recomputes the derived fields. Draft and
// rejected reports accept edits from anyone in scope; approved reports accept
// edits only from an admin, and the edit retracts and regenerates the
// report's ledger rows so the ledger keeps matching the stored figures.
func (s *Service) Update(ctx context.Context, actor workflow.Actor, id string, in Input) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case StateDraft, StateRejected:
		// editable
	case StateApproved:
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("approved reports are immutable: %w", ledger.ErrForbidden)
		}
	default:
		return nil, &ledger.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("a %s report cannot be edited; reject it first", r.State),
		}
	}

	in.ChurchID = r.ChurchID // period identity is fixed at creation
	in.Month, in.Year = r.Month, r.Year
	in.apply(r)
	if err := Recompute(r, s.Rules); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	if err := s.Reports.Update(ctx, r); err != nil {
		return nil, err
	}

	if r.State == StateApproved {
		if err := s.regenerate(ctx, r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Submit moves a draft to submitted after recomputation and the donor-sum
// reconciliation.
func (s *Service) Submit(ctx context.Context, actor workflow.Actor, id string) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := Recompute(r, s.Rules); err != nil {
		return nil, err
	}
	if err := s.Machine.Transition(ctx, actor, r, r.State, StateSubmitted); err != nil {
		return nil, err
	}

	from := r.State
	now := time.Now().UTC()
	r.State = StateSubmitted
	r.SubmittedAt = &now
	r.UpdatedAt = now
	if err := s.Reports.CompareAndSwapState(ctx, r, from); err != nil {
		return nil, err
	}
	return r, nil
}

// Approve reconciles the deposit, swaps the state, and generates the ledger
// rows. Re-approval after an admin edit is idempotent: the generator retracts
// the previous rows before writing.
func (s *Service) Approve(ctx context.Context, actor workflow.Actor, id string) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := Recompute(r, s.Rules); err != nil {
		return nil, err
	}
	if err := s.Machine.Transition(ctx, actor, r, r.State, StateApproved); err != nil {
		return nil, err
	}

	from := r.State
	now := time.Now().UTC()
	r.State = StateApproved
	r.ApprovedBy = actor.ID
	r.ApprovedAt = &now
	r.UpdatedAt = now
	if err := s.Reports.CompareAndSwapState(ctx, r, from); err != nil {
		return nil, err
	}

	if err := s.regenerate(ctx, r); err != nil {
		// Swap back so the report is never approved without ledger rows.
		r.State = from
		r.ApprovedBy = ""
		r.ApprovedAt = nil
		if casErr := s.Reports.CompareAndSwapState(ctx, r, StateApproved); casErr != nil {
			return nil, fmt.Errorf("generation failed (%v) and state rollback failed: %w", err, casErr)
		}
		return nil, err
	}
	return r, nil
}

// Reject returns a submitted or imported report to the submitter with a
// reason.
func (s *Service) Reject(ctx context.Context, actor workflow.Actor, id, reason string) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	r.RejectionReason = reason
	if err := s.Machine.Transition(ctx, actor, r, r.State, StateRejected); err != nil {
		return nil, err
	}

	from := r.State
	r.State = StateRejected
	r.UpdatedAt = time.Now().UTC()
	if err := s.Reports.CompareAndSwapState(ctx, r, from); err != nil {
		return nil, err
	}
	return r, nil
}

// Reopen returns a rejected report to draft for correction.
func (s *Service) Reopen(ctx context.Context, actor workflow.Actor, id string) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.Machine.Transition(ctx, actor, r, r.State, StateDraft); err != nil {
		return nil, err
	}

	from := r.State
	r.State = StateDraft
	r.RejectionReason = ""
	r.UpdatedAt = time.Now().UTC()
	if err := s.Reports.CompareAndSwapState(ctx, r, from); err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes the report after retracting any generated ledger rows,
// so a deleted report never leaves orphan transactions or a stale balance.
func (s *Service) Delete(ctx context.Context, actor workflow.Actor, id string) error {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if r.State == StateApproved && !actor.IsAdmin() {
		return fmt.Errorf("deleting an approved report requires admin: %w", ledger.ErrForbidden)
	}

	if _, err := s.Generator.Retract(ctx, r.Source()); err != nil {
		return err
	}
	return s.Reports.SoftDelete(ctx, id, time.Now().UTC())
}

// =============================================================================
// GENERATION
// =============================================================================

// Batches maps the report's approved figures to fund batches: the national
// contribution and one remittance per non-zero designated category. Tithes,
// offerings, expenses and the stipend stay in the church's local books and
// produce no rows.
func (s *Service) Batches(r *Report) []ledger.FundBatch {
	date := r.TransactionDate()
	periodConcept := func(label string) string {
		return fmt.Sprintf("%s %02d/%d - church %s", label, r.Month, r.Year, r.ChurchID)
	}

	batches := []ledger.FundBatch{{
		FundID:   s.Rules.NationalFundID,
		ChurchID: r.ChurchID,
		Date:     date,
		Lines: []ledger.CategoryLine{{
			Category: "national_fund",
			Concept:  periodConcept("national fund contribution"),
			Amount:   r.Derived.NationalFund,
		}},
	}}

	for _, cat := range s.Rules.DesignatedCategories() {
		amt, ok := r.Designated[cat]
		if !ok || amt.IsZero() {
			continue
		}
		batches = append(batches, ledger.FundBatch{
			FundID:   s.Rules.DesignatedFunds[cat],
			ChurchID: r.ChurchID,
			Date:     date,
			Lines: []ledger.CategoryLine{{
				Category: cat,
				Concept:  periodConcept(cat + " remittance"),
				Amount:   amt,
			}},
		})
	}
	return batches
}

func (s *Service) regenerate(ctx context.Context, r *Report) error {
	res, err := s.Generator.Regenerate(ctx, r.Source(), s.Batches(r), ledger.GenerateOptions{})
	if err != nil {
		return err
	}
	r.GenerationFingerprint = res.Fingerprint
	now := time.Now().UTC()
	r.GeneratedAt = &now
	return s.Reports.Update(ctx, r)
}

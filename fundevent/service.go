/*
service.go - Fund event orchestration

PURPOSE:
  Wires the store, the state machine and the transaction generator into the
  event operations the API exposes. State changes use compare-and-swap on the
  previous state; finalization nets the actuals against the fund under the
  fund lock with the balance pre-check.

FINALIZE SEQUENCE:
  1. Event must be approved, not yet finalized, with at least one actual line
  2. Totals are derived: income minus expense is the net fund delta
  3. The generator retracts-and-writes under the fund lock, pre-checking that
     the resulting balance stays non-negative
  4. Totals, timestamp and fingerprint are frozen on the event
  A pre-check failure surfaces InsufficientBalanceError and leaves the event,
  the ledger and the balance exactly as they were.
*/
package fundevent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

type Service struct {
	Events    Store
	Funds     ledger.FundStore
	Generator *ledger.Generator
	Machine   *workflow.Machine[*FundEvent]
}

func NewService(events Store, funds ledger.FundStore, gen *ledger.Generator) *Service {
	return &Service{
		Events:    events,
		Funds:     funds,
		Generator: gen,
		Machine:   NewMachine(),
	}
}

// =============================================================================
// INPUT SHAPE
// =============================================================================

// Input carries the user-editable fields of an event.
type Input struct {
	FundID      ledger.FundID
	ChurchID    ledger.ChurchID
	Name        string
	Description string
	EventDate   time.Time
	Budget      []BudgetItem
}

func (in Input) apply(e *FundEvent) {
	e.Name = in.Name
	e.Description = in.Description
	e.EventDate = in.EventDate
	e.Budget = in.Budget
	for i := range e.Budget {
		if e.Budget[i].ID == "" {
			e.Budget[i].ID = uuid.NewString()
		}
	}
}

// =============================================================================
// CREATE / READ
// =============================================================================

func (s *Service) Create(ctx context.Context, actor workflow.Actor, in Input) (*FundEvent, error) {
	if !actor.InFundScope(in.FundID) {
		return nil, fmt.Errorf("actor is outside fund %s: %w", in.FundID, ledger.ErrForbidden)
	}
	fund, err := s.Funds.GetFund(ctx, in.FundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, fmt.Errorf("fund %s: %w", in.FundID, ledger.ErrFundNotFound)
	}
	for _, b := range in.Budget {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	e := &FundEvent{
		ID:        uuid.NewString(),
		FundID:    in.FundID,
		ChurchID:  in.ChurchID,
		State:     StateDraft,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(e)

	if err := s.Events.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, actor workflow.Actor, id string) (*FundEvent, error) {
	e, err := s.Events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("fund event %s: %w", id, ledger.ErrNotFound)
	}
	if !actor.InFundScope(e.FundID) {
		return nil, fmt.Errorf("actor is outside fund %s: %w", e.FundID, ledger.ErrForbidden)
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, actor workflow.Actor, f Filter) ([]FundEvent, error) {
	events, err := s.Events.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if actor.IsNational() {
		return events, nil
	}
	scoped := events[:0]
	for _, e := range events {
		if actor.InFundScope(e.FundID) {
			scoped = append(scoped, e)
		}
	}
	return scoped, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update edits the budget and descriptive fields. Draft and pending_revision
// events are editable; everything else is frozen.
func (s *Service) Update(ctx context.Context, actor workflow.Actor, id string, in Input) (*FundEvent, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch e.State {
	case StateDraft, StatePendingRevision:
		// editable
	default:
		return nil, &ledger.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("a %s event cannot be edited", e.State),
		}
	}
	for _, b := range in.Budget {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	in.apply(e)
	e.UpdatedAt = time.Now().UTC()
	if err := s.Events.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddActual records a realized income or expense line. Actuals arrive after
// the activity, so an approved event accepts them; a finalized one does not
// without re-finalizing, which retracts and regenerates.
func (s *Service) AddActual(ctx context.Context, actor workflow.Actor, id string, line ActualLine) (*FundEvent, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateApproved {
		return nil, &ledger.ValidationError{
			Field:   "state",
			Message: "actuals can only be recorded on an approved event",
		}
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}

	e.Actuals = append(e.Actuals, line)
	e.UpdatedAt = time.Now().UTC()
	if err := s.Events.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) Submit(ctx context.Context, actor workflow.Actor, id string) (*FundEvent, error) {
	return s.transition(ctx, actor, id, StateSubmitted, func(e *FundEvent) {
		now := time.Now().UTC()
		e.SubmittedAt = &now
	})
}

// Approve moves a submitted event to approved. The budget is projected money,
// so no balance is checked here; the check happens at finalization.
func (s *Service) Approve(ctx context.Context, actor workflow.Actor, id string) (*FundEvent, error) {
	return s.transition(ctx, actor, id, StateApproved, func(e *FundEvent) {
		now := time.Now().UTC()
		e.ApprovedBy = actor.ID
		e.ApprovedAt = &now
	})
}

// RequestRevision returns a submitted event to the submitter for changes.
func (s *Service) RequestRevision(ctx context.Context, actor workflow.Actor, id, comment string) (*FundEvent, error) {
	return s.transitionWithComment(ctx, actor, id, StatePendingRevision, comment)
}

func (s *Service) Reject(ctx context.Context, actor workflow.Actor, id, comment string) (*FundEvent, error) {
	return s.transitionWithComment(ctx, actor, id, StateRejected, comment)
}

func (s *Service) Cancel(ctx context.Context, actor workflow.Actor, id string) (*FundEvent, error) {
	return s.transition(ctx, actor, id, StateCancelled, nil)
}

func (s *Service) transition(ctx context.Context, actor workflow.Actor, id string, to workflow.State, mutate func(*FundEvent)) (*FundEvent, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.Machine.Transition(ctx, actor, e, e.State, to); err != nil {
		return nil, err
	}

	from := e.State
	e.State = to
	e.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(e)
	}
	if err := s.Events.CompareAndSwapState(ctx, e, from); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) transitionWithComment(ctx context.Context, actor workflow.Actor, id string, to workflow.State, comment string) (*FundEvent, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	e.ReviewerComment = comment
	if err := s.Machine.Transition(ctx, actor, e, e.State, to); err != nil {
		return nil, err
	}

	from := e.State
	e.State = to
	e.UpdatedAt = time.Now().UTC()
	if err := s.Events.CompareAndSwapState(ctx, e, from); err != nil {
		return nil, err
	}
	return e, nil
}

// =============================================================================
// FINALIZE
// =============================================================================

// Finalize turns the actual lines into ledger transactions. Only valid on an
// approved event with at least one actual; re-finalizing after new actuals is
// idempotent regeneration, never a duplicate.
func (s *Service) Finalize(ctx context.Context, actor workflow.Actor, id string) (*FundEvent, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsApprover() {
		return nil, fmt.Errorf("finalizing requires an approver role: %w", ledger.ErrForbidden)
	}
	if e.State != StateApproved {
		return nil, &ledger.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("only approved events finalize, event is %s", e.State),
		}
	}
	if len(e.Actuals) == 0 {
		return nil, &ledger.ValidationError{
			Field:   "actuals",
			Message: "finalizing requires at least one actual line",
		}
	}

	income, expense := e.ActualTotals()
	batch := ledger.FundBatch{
		FundID:   e.FundID,
		ChurchID: e.ChurchID,
		Date:     e.EventDate,
		Lines: []ledger.CategoryLine{
			{Category: "event_income", Concept: e.Name + " income", Amount: income},
			{Category: "event_expense", Concept: e.Name + " expenses", Amount: expense.Neg()},
		},
	}

	res, err := s.Generator.Regenerate(ctx, e.Source(), []ledger.FundBatch{batch},
		ledger.GenerateOptions{PrecheckBalance: true})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e.TotalIncome = income
	e.TotalExpense = expense
	e.FinalizedAt = &now
	e.GenerationFingerprint = res.Fingerprint
	e.UpdatedAt = now
	if err := s.Events.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes the event after retracting any finalized rows.
func (s *Service) Delete(ctx context.Context, actor workflow.Actor, id string) error {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if e.Finalized() && !actor.IsAdmin() {
		return fmt.Errorf("deleting a finalized event requires admin: %w", ledger.ErrForbidden)
	}

	if _, err := s.Generator.Retract(ctx, e.Source()); err != nil {
		return err
	}
	return s.Events.SoftDelete(ctx, id, time.Now().UTC())
}

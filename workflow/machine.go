/*
Package workflow provides the generic approval state machine shared by the
report and fund event workflows.

PURPOSE:
  The two approval flows in the system (monthly church reports, budgeted fund
  events) are structurally identical: a transition table, per-transition guard
  closures, a scope/authority check, and a compare-and-swap discipline when
  the transition is persisted. Implementing the machine once and
  instantiating it twice guarantees both flows share the same locking and
  idempotence behavior.

KEY CONCEPTS:
  - State/Transition: the table of legal moves with guards
  - Guard: a closure validating the subject before a move (reconciliation
    checks, required fields, reviewer comments)
  - Actor: the caller as resolved by the external identity provider
  - CanTransition: the single capability check used by every entry point,
    returning a tagged allow/deny instead of scattered boolean checks

PERSISTENCE CONTRACT:
  The machine validates; it does not persist. Services persist the new state
  with a compare-and-swap on the old state (UPDATE ... WHERE state = from)
  and surface ErrConflict when the swap loses a race.

SEE ALSO:
  - report/workflow.go: first instantiation
  - fundevent/workflow.go: second instantiation
*/
package workflow

import (
	"context"
	"fmt"

	"github.com/ipupy/treasury-engine/ledger"
)

// =============================================================================
// STATES AND TRANSITIONS
// =============================================================================

type State string

// Guard validates a subject before a transition. A nil guard always passes.
// Guards return ledger.ValidationError for user-correctable problems.
type Guard[T any] func(ctx context.Context, actor Actor, subject T) error

type Transition[T any] struct {
	From State
	To   State

	// Approver restricts the transition to the approver tier (treasurer or
	// admin), enforcing the submitter/approver role separation.
	Approver bool

	Guard Guard[T]
}

// =============================================================================
// MACHINE
// =============================================================================

type Machine[T any] struct {
	Name string

	// Scope checks the actor's authority over the subject itself (church
	// scope for reports, fund scope for events). National-scope roles pass
	// unconditionally; the check is supplied by the instantiating domain.
	Scope func(actor Actor, subject T) error

	transitions map[State]map[State]Transition[T]
}

func NewMachine[T any](name string, scope func(Actor, T) error, transitions []Transition[T]) *Machine[T] {
	m := &Machine[T]{
		Name:        name,
		Scope:       scope,
		transitions: make(map[State]map[State]Transition[T]),
	}
	for _, t := range transitions {
		if m.transitions[t.From] == nil {
			m.transitions[t.From] = make(map[State]Transition[T])
		}
		m.transitions[t.From][t.To] = t
	}
	return m
}

// Defined reports whether the table contains the move at all.
func (m *Machine[T]) Defined(from, to State) bool {
	_, ok := m.transitions[from][to]
	return ok
}

// =============================================================================
// CAPABILITY CHECK
// =============================================================================

// Decision is a tagged allow/deny.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision          { return Decision{Allowed: true} }
func deny(r string) Decision   { return Decision{Reason: r} }

// CanTransition is the single capability check for every workflow entry
// point: transition defined, actor in scope, approver tier where required.
func (m *Machine[T]) CanTransition(actor Actor, subject T, from, to State) Decision {
	t, ok := m.transitions[from][to]
	if !ok {
		return deny(fmt.Sprintf("%s cannot move from %s to %s", m.Name, from, to))
	}
	if t.Approver && !actor.IsApprover() {
		return deny(fmt.Sprintf("%s -> %s requires an approver role", from, to))
	}
	if m.Scope != nil && !actor.IsNational() {
		if err := m.Scope(actor, subject); err != nil {
			return deny(err.Error())
		}
	}
	return allow()
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition validates the move: table lookup, capability, then guard.
// Returns ledger.ValidationError (undefined move or guard failure) or
// ledger.ErrForbidden (capability denial). Persisting the move, with CAS on
// the old state, is the caller's responsibility.
func (m *Machine[T]) Transition(ctx context.Context, actor Actor, subject T, from, to State) error {
	if !m.Defined(from, to) {
		return &ledger.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("%s cannot move from %s to %s", m.Name, from, to),
		}
	}
	if d := m.CanTransition(actor, subject, from, to); !d.Allowed {
		return fmt.Errorf("%s: %w", d.Reason, ledger.ErrForbidden)
	}
	t := m.transitions[from][to]
	if t.Guard != nil {
		if err := t.Guard(ctx, actor, subject); err != nil {
			return err
		}
	}
	return nil
}

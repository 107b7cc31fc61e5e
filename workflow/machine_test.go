package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// TEST FIXTURE - a minimal two-state subject
// =============================================================================

type doc struct {
	Owner ledger.ChurchID
	Valid bool
}

func newDocMachine() *workflow.Machine[*doc] {
	guard := func(ctx context.Context, actor workflow.Actor, d *doc) error {
		if !d.Valid {
			return &ledger.ValidationError{Field: "doc", Message: "document incomplete"}
		}
		return nil
	}
	scope := func(actor workflow.Actor, d *doc) error {
		if !actor.InChurchScope(d.Owner) {
			return &ledger.ValidationError{Field: "owner", Message: "out of scope"}
		}
		return nil
	}
	return workflow.NewMachine("doc", scope, []workflow.Transition[*doc]{
		{From: "open", To: "review", Guard: guard},
		{From: "review", To: "closed", Approver: true},
	})
}

func submitter() workflow.Actor {
	return workflow.Actor{ID: "u1", Role: workflow.RoleChurch, ChurchScope: "church-1"}
}

// =============================================================================
// TESTS
// =============================================================================

func TestTransition_UndefinedMove(t *testing.T) {
	m := newDocMachine()
	err := m.Transition(context.Background(), submitter(), &doc{Owner: "church-1", Valid: true}, "open", "closed")
	if !ledger.IsValidation(err) {
		t.Fatalf("expected ValidationError for undefined move, got %v", err)
	}
}

func TestTransition_GuardFailure(t *testing.T) {
	m := newDocMachine()
	err := m.Transition(context.Background(), submitter(), &doc{Owner: "church-1"}, "open", "review")
	if !ledger.IsValidation(err) {
		t.Fatalf("expected guard ValidationError, got %v", err)
	}
}

func TestTransition_ApproverTier(t *testing.T) {
	m := newDocMachine()
	d := &doc{Owner: "church-1", Valid: true}

	err := m.Transition(context.Background(), submitter(), d, "review", "closed")
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for submitter tier, got %v", err)
	}

	treasurer := workflow.Actor{ID: "u2", Role: workflow.RoleTreasurer}
	if err := m.Transition(context.Background(), treasurer, d, "review", "closed"); err != nil {
		t.Fatalf("approver must pass: %v", err)
	}
}

func TestTransition_ScopeCheck(t *testing.T) {
	m := newDocMachine()
	d := &doc{Owner: "church-2", Valid: true}

	err := m.Transition(context.Background(), submitter(), d, "open", "review")
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden out of scope, got %v", err)
	}

	// National roles bypass the subject scope.
	admin := workflow.Actor{ID: "u3", Role: workflow.RoleAdmin}
	if err := m.Transition(context.Background(), admin, d, "open", "review"); err != nil {
		t.Fatalf("national scope must pass: %v", err)
	}
}

func TestCanTransition_Decision(t *testing.T) {
	m := newDocMachine()
	d := &doc{Owner: "church-1", Valid: true}

	if dec := m.CanTransition(submitter(), d, "open", "review"); !dec.Allowed {
		t.Errorf("expected allow, got deny: %s", dec.Reason)
	}
	if dec := m.CanTransition(submitter(), d, "review", "closed"); dec.Allowed || dec.Reason == "" {
		t.Error("expected a reasoned denial")
	}
}

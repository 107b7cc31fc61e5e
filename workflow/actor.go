/*
actor.go - The caller, as resolved by the external identity provider

PURPOSE:
  The identity/role provider is an external collaborator: given a request it
  returns {actor_id, role, church_scope|null, fund_scopes[]}. This file
  defines that shape and the authority predicates the workflows use. No
  credential verification happens anywhere in this module.

ROLE TIERS:
  church     submitter tier, scoped to one church
  treasurer  approver tier, national scope
  admin      approver tier, national scope, plus override paths
             (editing an approved report with retract-and-regenerate)
*/
package workflow

import "github.com/ipupy/treasury-engine/ledger"

type Role string

const (
	RoleChurch    Role = "church"
	RoleTreasurer Role = "treasurer"
	RoleAdmin     Role = "admin"
)

type Actor struct {
	ID          string
	Role        Role
	ChurchScope ledger.ChurchID // empty means no church scope
	FundScopes  []ledger.FundID
}

// IsNational reports whether the actor operates at organization scope.
func (a Actor) IsNational() bool {
	return a.Role == RoleTreasurer || a.Role == RoleAdmin
}

// IsApprover reports whether the actor is in the approver tier. The
// submitter and approver tiers are distinct: a church role can never approve
// its own submission.
func (a Actor) IsApprover() bool {
	return a.Role == RoleTreasurer || a.Role == RoleAdmin
}

// IsAdmin gates override paths.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// InChurchScope reports whether the actor may mutate entities of a church.
func (a Actor) InChurchScope(id ledger.ChurchID) bool {
	return a.IsNational() || (a.ChurchScope != "" && a.ChurchScope == id)
}

// InFundScope reports whether the actor may mutate entities of a fund.
func (a Actor) InFundScope(id ledger.FundID) bool {
	if a.IsNational() {
		return true
	}
	for _, f := range a.FundScopes {
		if f == id {
			return true
		}
	}
	return false
}

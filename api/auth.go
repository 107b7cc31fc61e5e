/*
auth.go - Actor resolution from trusted headers

PURPOSE:
  Identity and role resolution is an external collaborator: a gateway in
  front of this service authenticates the caller and forwards the resolved
  actor in headers. This middleware only reads that shape; no credential
  verification happens here.

HEADERS:
  X-Actor-Id      required, opaque actor identifier
  X-Actor-Role    required, one of church|treasurer|admin
  X-Church-Scope  optional, the church a church-role actor belongs to
  X-Fund-Scopes   optional, comma-separated fund ids the actor may manage

Requests without a valid actor get 401; an unknown role gets 400.
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

type contextKey int

const actorContextKey contextKey = iota

// WithActor resolves the actor from the trusted headers and stores it on the
// request context. All /api routes sit behind this middleware.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
		role := workflow.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role")))

		if id == "" || role == "" {
			writeError(w, http.StatusUnauthorized, "Missing X-Actor-Id / X-Actor-Role headers", nil)
			return
		}
		switch role {
		case workflow.RoleChurch, workflow.RoleTreasurer, workflow.RoleAdmin:
		default:
			writeError(w, http.StatusBadRequest, "Unknown actor role", nil)
			return
		}

		actor := workflow.Actor{
			ID:          id,
			Role:        role,
			ChurchScope: ledger.ChurchID(strings.TrimSpace(r.Header.Get("X-Church-Scope"))),
		}
		if raw := r.Header.Get("X-Fund-Scopes"); raw != "" {
			for _, f := range strings.Split(raw, ",") {
				if f = strings.TrimSpace(f); f != "" {
					actor.FundScopes = append(actor.FundScopes, ledger.FundID(f))
				}
			}
		}

		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the actor stored by WithActor. Routes are always mounted
// behind the middleware, so the zero actor only appears in tests that skip it.
func actorFrom(r *http.Request) workflow.Actor {
	actor, _ := r.Context().Value(actorContextKey).(workflow.Actor)
	return actor
}

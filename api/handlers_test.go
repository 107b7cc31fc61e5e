/*
handlers_test.go - HTTP-level tests for the API

Tests drive the full router with httptest so the actor middleware, status
mapping, and JSON contract are all exercised together.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAPI(t *testing.T) (*Handler, http.Handler) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rules := factory.DefaultRules()
	h := NewHandler(store, rules)

	// Seed the fund registry and the demo churches the way main() does.
	if err := h.SeedRegistry(context.Background()); err != nil {
		t.Fatalf("Failed to seed registry: %v", err)
	}
	return h, NewRouter(h)
}

type headerSet map[string]string

func churchHeaders(church string) headerSet {
	return headerSet{
		"X-Actor-Id":     "user-" + church,
		"X-Actor-Role":   "church",
		"X-Church-Scope": church,
	}
}

func treasurerHeaders() headerSet {
	return headerSet{"X-Actor-Id": "user-treasurer", "X-Actor-Role": "treasurer"}
}

func adminHeaders() headerSet {
	return headerSet{"X-Actor-Id": "user-admin", "X-Actor-Role": "admin"}
}

func doJSON(t *testing.T, router http.Handler, method, path string, headers headerSet, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func exampleReportBody() ReportRequest {
	return ReportRequest{
		ChurchID:  "church-central",
		Month:     8,
		Year:      2026,
		Tithes:    "800000",
		Offerings: "400000",
		Designated: map[string]string{
			"misiones": "50000",
		},
		Expenses: map[string]string{
			"energy": "100000",
		},
		Donors: []DonorDTO{
			{Name: "Juan Benítez", Document: "1234567", Amount: "500000"},
			{Name: "Ana Ruiz", Document: "7654321", Amount: "300000"},
		},
		DepositAmount:  "170000",
		DepositDate:    "2026-09-03",
		DepositReceipt: "BNF-0081734",
	}
}

// =============================================================================
// ACTOR MIDDLEWARE
// =============================================================================

func TestAPI_RequiresActorHeaders(t *testing.T) {
	// GIVEN: A request without actor headers
	// WHEN: Hitting any API route
	// THEN: 401

	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/funds", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RejectsUnknownRole(t *testing.T) {
	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/funds",
		headerSet{"X-Actor-Id": "u1", "X-Actor-Role": "superuser"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown role, got %d", rec.Code)
	}
}

// =============================================================================
// REPORT LIFECYCLE
// =============================================================================

func TestAPI_ReportLifecycle(t *testing.T) {
	// GIVEN: A church submits its monthly report
	// WHEN: The treasurer approves it
	// THEN: Derived totals are returned and the generated rows land on the
	//       national and misiones funds

	_, router := newTestAPI(t)
	church := churchHeaders("church-central")

	rec := doJSON(t, router, http.MethodPost, "/api/reports", church, exampleReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[ReportDTO](t, rec)
	if created.Derived.NationalFund != "120000" {
		t.Errorf("national fund: expected 120000, got %s", created.Derived.NationalFund)
	}
	if created.Derived.ExpectedDeposit != "170000" {
		t.Errorf("expected deposit: expected 170000, got %s", created.Derived.ExpectedDeposit)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/submit", church, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Submit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if submitted := decodeBody[ReportDTO](t, rec); submitted.State != "submitted" {
		t.Errorf("state after submit: %s", submitted.State)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/approve", treasurerHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	approved := decodeBody[ReportDTO](t, rec)
	if approved.State != "approved" {
		t.Errorf("state after approve: %s", approved.State)
	}
	if approved.Fingerprint == "" {
		t.Error("approved report must carry a generation fingerprint")
	}

	// The generated rows are queryable with aggregates.
	rec = doJSON(t, router, http.MethodGet, "/api/transactions?fund_id=fund-nacional", treasurerHeaders(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Query: expected 200, got %d", rec.Code)
	}
	page := decodeBody[LedgerPageDTO](t, rec)
	if len(page.Transactions) != 1 {
		t.Fatalf("expected 1 national row, got %d", len(page.Transactions))
	}
	if page.Balance != "120000" {
		t.Errorf("national balance: expected 120000, got %s", page.Balance)
	}
}

func TestAPI_DuplicatePeriodConflicts(t *testing.T) {
	_, router := newTestAPI(t)
	church := churchHeaders("church-central")

	if rec := doJSON(t, router, http.MethodPost, "/api/reports", church, exampleReportBody()); rec.Code != http.StatusCreated {
		t.Fatalf("first create failed: %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/api/reports", church, exampleReportBody())
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate period, got %d", rec.Code)
	}
}

func TestAPI_ChurchRoleCannotApprove(t *testing.T) {
	_, router := newTestAPI(t)
	church := churchHeaders("church-central")

	rec := doJSON(t, router, http.MethodPost, "/api/reports", church, exampleReportBody())
	created := decodeBody[ReportDTO](t, rec)
	doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/submit", church, nil)

	rec = doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/approve", church, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for church-role approval, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_OutOfScopeChurchForbidden(t *testing.T) {
	// GIVEN: An actor scoped to church-luque
	// WHEN: Creating a report for church-central
	// THEN: 403

	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/reports", churchHeaders("church-luque"), exampleReportBody())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 out of scope, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RejectRequiresReason(t *testing.T) {
	_, router := newTestAPI(t)
	church := churchHeaders("church-central")

	rec := doJSON(t, router, http.MethodPost, "/api/reports", church, exampleReportBody())
	created := decodeBody[ReportDTO](t, rec)
	doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/submit", church, nil)

	rec = doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/reject", treasurerHeaders(), map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing reason, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/reports/"+created.ID+"/reject", treasurerHeaders(),
		RejectRequest{Reason: "faltan los recibos de luz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with reason, got %d: %s", rec.Code, rec.Body.String())
	}
	if rejected := decodeBody[ReportDTO](t, rec); rejected.State != "rejected" {
		t.Errorf("state after reject: %s", rejected.State)
	}
}

// =============================================================================
// FUND EVENTS
// =============================================================================

func TestAPI_EventFinalizeInsufficientBalance(t *testing.T) {
	// GIVEN: The jóvenes fund holds 1,000,000 and an approved event records
	//        a 2,000,000 expense
	// WHEN: Finalizing
	// THEN: 422 and the balance is untouched

	_, router := newTestAPI(t)
	treasurer := treasurerHeaders()

	rec := doJSON(t, router, http.MethodPost, "/api/transactions", treasurer, ManualEntryRequest{
		FundID:   "fund-jovenes",
		Date:     "2026-07-01",
		Concept:  "saldo inicial",
		AmountIn: "1000000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("manual entry: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events", treasurer, EventRequest{
		FundID:    "fund-jovenes",
		Name:      "Campamento",
		EventDate: "2026-10-09",
		Budget:    []BudgetItemDTO{{Category: "venue", Projected: "1500000"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("event create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	event := decodeBody[EventDTO](t, rec)

	for _, step := range []string{"submit", "approve"} {
		rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/events/%s/%s", event.ID, step), treasurer, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/"+event.ID+"/actuals", treasurer, ActualRequest{
		Type: "expense", Description: "predio", Amount: "2000000", ReceiptRef: "F-001-0001",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("actuals: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/events/"+event.ID+"/finalize", treasurer, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for insufficient balance, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/funds/fund-jovenes", treasurer, nil)
	if fund := decodeBody[FundDTO](t, rec); fund.CurrentBalance != "1000000" {
		t.Errorf("balance must be untouched: %s", fund.CurrentBalance)
	}
}

// =============================================================================
// MANUAL ENTRIES
// =============================================================================

func TestAPI_ManualEntryRequiresApprover(t *testing.T) {
	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/transactions", churchHeaders("church-central"), ManualEntryRequest{
		FundID: "fund-nacional", Date: "2026-08-01", Concept: "x", AmountIn: "1000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for church-role manual entry, got %d", rec.Code)
	}
}

func TestAPI_ManualWithdrawalOverdraw(t *testing.T) {
	// GIVEN: An empty fund
	// WHEN: Entering a withdrawal
	// THEN: 422, no row written

	_, router := newTestAPI(t)
	treasurer := treasurerHeaders()

	rec := doJSON(t, router, http.MethodPost, "/api/transactions", treasurer, ManualEntryRequest{
		FundID: "fund-damas", Date: "2026-08-01", Concept: "compra", AmountOut: "50000",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for overdraw, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/transactions?fund_id=fund-damas", treasurer, nil)
	if page := decodeBody[LedgerPageDTO](t, rec); len(page.Transactions) != 0 {
		t.Errorf("no row must be written on overdraw, got %d", len(page.Transactions))
	}
}

// =============================================================================
// SCENARIOS + AUDIT
// =============================================================================

func TestAPI_DriftScenarioAndAudit(t *testing.T) {
	// GIVEN: The drift scenario corrupted the damas balance cache
	// WHEN: The admin runs an audit sweep
	// THEN: The drifted fund is reported repaired and the cache matches the
	//       ledger again

	_, router := newTestAPI(t)
	admin := adminHeaders()

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", admin,
		LoadScenarioRequest{ScenarioID: "drift"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scenario load: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/audit", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	results := decodeBody[[]RecalcResultDTO](t, rec)

	repaired := 0
	for _, res := range results {
		if res.Repaired {
			repaired++
			if res.FundID != "fund-damas" {
				t.Errorf("unexpected drifted fund: %s", res.FundID)
			}
			if res.Computed != "250000" {
				t.Errorf("computed balance: expected 250000, got %s", res.Computed)
			}
		}
	}
	if repaired != 1 {
		t.Fatalf("expected exactly 1 repaired fund, got %d", repaired)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/funds/fund-damas", admin, nil)
	if fund := decodeBody[FundDTO](t, rec); fund.CurrentBalance != "250000" {
		t.Errorf("cache must match the ledger after repair: %s", fund.CurrentBalance)
	}
}

func TestAPI_ScenarioLoadRequiresAdmin(t *testing.T) {
	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", treasurerHeaders(),
		LoadScenarioRequest{ScenarioID: "drift"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", rec.Code)
	}
}

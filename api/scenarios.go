/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates churches, funds, and
	reports or events that demonstrate specific workflows.

AVAILABLE SCENARIOS:

	monthly-cycle:  Two churches, one month of reports through approval
	fund-event:     An approved youth-camp event with budget and actuals
	drift:          A fund with a deliberately corrupted balance cache

HOW SCENARIOS WORK:
 1. Seed the fund registry from the active rule-set
 2. Seed churches
 3. Drive the workflows through the same services the API uses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "monthly-cycle"}

NOTE:

	Scenarios write into the live database. Only use in development/demo
	environments, against a fresh database file.

SEE ALSO:
  - handlers.go: shared handler context
  - factory/rules.go: the rule-set the fund registry is seeded from
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ipupy/treasury-engine/fundevent"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/report"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-cycle",
		Name:        "Monthly Report Cycle",
		Description: "Two churches submit their monthly reports; one is approved, generating national and designated fund rows",
	},
	{
		ID:          "fund-event",
		Name:        "Fund Event",
		Description: "A youth-camp event with budget, approval, actuals, and finalization against the jóvenes fund",
	},
	{
		ID:          "drift",
		Name:        "Balance Drift",
		Description: "A fund whose cached balance was corrupted, for exercising the audit sweep",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds the database with the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "Loading scenarios requires the admin role", nil)
		return
	}
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "monthly-cycle":
		err = h.loadMonthlyCycleScenario(ctx)
	case "fund-event":
		err = h.loadFundEventScenario(ctx)
	case "drift":
		err = h.loadDriftScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// SHARED SEED DATA
// =============================================================================

// SeedRegistry creates the funds named by the rule-set and the demo churches.
// SaveFund and SaveChurch upsert, so reloading a scenario is harmless.
func (h *Handler) SeedRegistry(ctx context.Context) error {
	funds := []ledger.Fund{
		{ID: h.Rules.NationalFundID, Name: "Fondo Nacional", Category: ledger.FundGeneral, Active: true},
	}
	for category, fundID := range h.Rules.DesignatedFunds {
		funds = append(funds, ledger.Fund{
			ID: fundID, Name: category, Category: ledger.FundDesignated, Active: true,
		})
	}
	for _, f := range funds {
		if err := h.Store.SaveFund(ctx, f); err != nil {
			return fmt.Errorf("seeding fund %s: %w", f.ID, err)
		}
	}

	churches := []ledger.Church{
		{ID: "church-central", Name: "Iglesia Central", City: "Asunción", Pastor: "Carlos Agüero", Phone: "+595 21 555 001", Active: true},
		{ID: "church-luque", Name: "Iglesia de Luque", City: "Luque", Pastor: "Rubén Ortiz", Phone: "+595 21 555 002", Active: true},
	}
	for _, c := range churches {
		if err := h.Store.SaveChurch(ctx, c); err != nil {
			return fmt.Errorf("seeding church %s: %w", c.ID, err)
		}
	}
	return nil
}

func scenarioTreasurer() workflow.Actor {
	return workflow.Actor{ID: "demo-treasurer", Role: workflow.RoleTreasurer}
}

func scenarioChurchActor(church ledger.ChurchID) workflow.Actor {
	return workflow.Actor{ID: "demo-" + string(church), Role: workflow.RoleChurch, ChurchScope: church}
}

// =============================================================================
// SCENARIO: MONTHLY REPORT CYCLE
// =============================================================================

func (h *Handler) loadMonthlyCycleScenario(ctx context.Context) error {
	if err := h.SeedRegistry(ctx); err != nil {
		return err
	}

	// Iglesia Central: a complete report carried through approval.
	// 10% of 1,200,000 = 120,000 national; + 50,000 misiones = 170,000 deposit.
	central := report.Input{
		ChurchID:  "church-central",
		Month:     8,
		Year:      2026,
		Tithes:    ledger.NewAmount(800000),
		Offerings: ledger.NewAmount(400000),
		Designated: map[string]ledger.Amount{
			"misiones": ledger.NewAmount(50000),
		},
		Expenses: map[string]ledger.Amount{
			"energy": ledger.NewAmount(100000),
			"water":  ledger.NewAmount(30000),
		},
		Donors: []report.DonorEntry{
			{Name: "Juan Benítez", Document: "1234567", Amount: ledger.NewAmount(500000)},
			{Name: "Ana Ruiz", Document: "7654321", Amount: ledger.NewAmount(300000)},
		},
		DepositAmount:  ledger.NewAmount(170000),
		DepositDate:    time.Date(2026, time.September, 3, 0, 0, 0, 0, time.UTC),
		DepositReceipt: "BNF-0081734",
	}

	submitter := scenarioChurchActor("church-central")
	rep, err := h.Reports.Create(ctx, submitter, central)
	if err != nil {
		return err
	}
	if _, err := h.Reports.Submit(ctx, submitter, rep.ID); err != nil {
		return err
	}
	if _, err := h.Reports.Approve(ctx, scenarioTreasurer(), rep.ID); err != nil {
		return err
	}

	// Iglesia de Luque: a draft still being filled in.
	luque := report.Input{
		ChurchID:  "church-luque",
		Month:     8,
		Year:      2026,
		Tithes:    ledger.NewAmount(350000),
		Offerings: ledger.NewAmount(120000),
		Donors: []report.DonorEntry{
			{Name: "María Duarte", Document: "2223334", Amount: ledger.NewAmount(350000)},
		},
	}
	_, err = h.Reports.Create(ctx, scenarioChurchActor("church-luque"), luque)
	return err
}

// =============================================================================
// SCENARIO: FUND EVENT
// =============================================================================

func (h *Handler) loadFundEventScenario(ctx context.Context) error {
	if err := h.SeedRegistry(ctx); err != nil {
		return err
	}

	// Give the jóvenes fund a starting balance via a manual entry.
	fund := h.Rules.DesignatedFunds["jovenes"]
	treasurer := scenarioTreasurer()
	_, err := h.Ledger.Append(ctx, ledger.Transaction{
		Date:     time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
		FundID:   fund,
		Concept:  "saldo inicial jóvenes",
		AmountIn: ledger.NewAmount(5000000),
		Origin:   ledger.ManualOrigin(treasurer.ID),
	})
	if err != nil {
		return err
	}

	e, err := h.Events.Create(ctx, treasurer, fundevent.Input{
		FundID:      fund,
		ChurchID:    "church-central",
		Name:        "Campamento de Jóvenes 2026",
		Description: "Campamento anual, tres días en San Bernardino",
		EventDate:   time.Date(2026, time.October, 9, 0, 0, 0, 0, time.UTC),
		Budget: []fundevent.BudgetItem{
			{Category: "venue", Description: "Predio y alojamiento", Projected: ledger.NewAmount(3000000)},
			{Category: "food", Description: "Comidas", Projected: ledger.NewAmount(1500000)},
		},
	})
	if err != nil {
		return err
	}
	if _, err := h.Events.Submit(ctx, treasurer, e.ID); err != nil {
		return err
	}
	if _, err := h.Events.Approve(ctx, treasurer, e.ID); err != nil {
		return err
	}

	actuals := []fundevent.ActualLine{
		{Type: fundevent.ActualExpense, Description: "Predio", Amount: ledger.NewAmount(2800000), ReceiptRef: "F-001-0004412"},
		{Type: fundevent.ActualExpense, Description: "Comidas", Amount: ledger.NewAmount(1400000), ReceiptRef: "F-001-0004488"},
		{Type: fundevent.ActualIncome, Description: "Inscripciones", Amount: ledger.NewAmount(900000)},
	}
	for _, line := range actuals {
		if _, err := h.Events.AddActual(ctx, treasurer, e.ID, line); err != nil {
			return err
		}
	}
	_, err = h.Events.Finalize(ctx, treasurer, e.ID)
	return err
}

// =============================================================================
// SCENARIO: BALANCE DRIFT
// =============================================================================

func (h *Handler) loadDriftScenario(ctx context.Context) error {
	if err := h.SeedRegistry(ctx); err != nil {
		return err
	}

	fund := h.Rules.DesignatedFunds["damas"]
	treasurer := scenarioTreasurer()
	if _, err := h.Ledger.Append(ctx, ledger.Transaction{
		Date:     time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
		FundID:   fund,
		Concept:  "ofrenda damas",
		AmountIn: ledger.NewAmount(250000),
		Origin:   ledger.ManualOrigin(treasurer.ID),
	}); err != nil {
		return err
	}

	// Corrupt the cache directly; the audit sweep must find and repair it.
	if _, err := h.Store.AdjustBalance(ctx, fund, ledger.NewAmount(7777), false); err != nil {
		return err
	}
	return nil
}

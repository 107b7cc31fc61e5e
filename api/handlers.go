/*
handlers.go - HTTP API handlers for the treasury engine

PURPOSE:
  Exposes the treasury core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Registry:
    GET    /api/churches               List churches
    POST   /api/churches               Create/update church (approver)
    GET    /api/churches/{id}          Get church
    GET    /api/funds                  List funds (?include_inactive=true)
    POST   /api/funds                  Create/update fund (approver)
    GET    /api/funds/{id}             Get fund with cached balance
    POST   /api/funds/{id}/recalculate Recompute balance from rows (approver)

  Ledger:
    GET    /api/transactions           Query rows + aggregates
    POST   /api/transactions           Manual entry (approver)

  Reports:
    GET    /api/reports                List (church actors see their own)
    POST   /api/reports                Create draft
    POST   /api/reports/import         Enter a historical report (approver)
    GET    /api/reports/{id}           Get with derived totals
    PUT    /api/reports/{id}           Update inputs
    DELETE /api/reports/{id}           Retract rows + soft delete
    POST   /api/reports/{id}/submit    draft -> submitted
    POST   /api/reports/{id}/approve   submitted -> approved + generate rows
    POST   /api/reports/{id}/reject    submitted -> rejected (reason required)
    POST   /api/reports/{id}/reopen    rejected -> draft

  Fund events:
    GET    /api/events                 List
    POST   /api/events                 Create draft
    GET    /api/events/{id}            Get with budget and actuals
    PUT    /api/events/{id}            Update (draft / pending_revision)
    DELETE /api/events/{id}            Retract rows + soft delete
    POST   /api/events/{id}/submit
    POST   /api/events/{id}/approve
    POST   /api/events/{id}/revision   Back to pending_revision (comment)
    POST   /api/events/{id}/reject     (comment required)
    POST   /api/events/{id}/cancel
    POST   /api/events/{id}/actuals    Record an actual income/expense line
    POST   /api/events/{id}/finalize   Net actuals into the fund ledger

  Admin:
    POST   /api/admin/audit            Immediate drift sweep (admin)

ERROR HANDLING:
  Domain errors map to HTTP status via the ledger error taxonomy:
  - 400: validation errors
  - 403: actor outside scope or tier
  - 404: missing entity or fund
  - 409: duplicate period, lost state race
  - 422: balance pre-check failure
  - 503: fund lock timeout (retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution middleware
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ipupy/treasury-engine/factory"
	"github.com/ipupy/treasury-engine/fundevent"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/report"
	"github.com/ipupy/treasury-engine/store/sqlite"
	"github.com/ipupy/treasury-engine/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *ledger.Ledger
	Reports *report.Service
	Events  *fundevent.Service
	Rules   factory.Rules

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services over one store. All services share the
// same lock manager so report generation and manual entries serialize per
// fund.
func NewHandler(store *sqlite.Store, rules factory.Rules) *Handler {
	locks := ledger.NewFundLockManager()
	gen := ledger.NewGenerator(store, locks)
	return &Handler{
		Store:    store,
		Ledger:   ledger.NewLedger(store, locks),
		Reports:  report.NewService(store.Reports(), store, gen, rules),
		Events:   fundevent.NewService(store.Events(), store, gen),
		Rules:    rules,
		validate: validator.New(),
	}
}

// decode parses and validates a request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ledger.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return &ledger.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// =============================================================================
// CHURCH HANDLERS
// =============================================================================

func (h *Handler) ListChurches(w http.ResponseWriter, r *http.Request) {
	churches, err := h.Store.ListChurches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list churches", err)
		return
	}
	dtos := make([]ChurchDTO, len(churches))
	for i, c := range churches {
		dtos[i] = toChurchDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetChurch(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetChurch(r.Context(), ledger.ChurchID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get church", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Church not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toChurchDTO(*c))
}

func (h *Handler) SaveChurch(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsApprover() {
		writeError(w, http.StatusForbidden, "Managing churches requires an approver role", nil)
		return
	}
	var req ChurchRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	c := ledger.Church{
		ID:     ledger.ChurchID(req.ID),
		Name:   req.Name,
		City:   req.City,
		Pastor: req.Pastor,
		Phone:  req.Phone,
		Active: true,
	}
	if err := h.Store.SaveChurch(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save church", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChurchDTO(c))
}

// =============================================================================
// FUND HANDLERS
// =============================================================================

func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	funds, err := h.Store.ListFunds(r.Context(), includeInactive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list funds", err)
		return
	}
	dtos := make([]FundDTO, len(funds))
	for i, f := range funds {
		dtos[i] = toFundDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	f, err := h.Store.GetFund(r.Context(), ledger.FundID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get fund", err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "Fund not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toFundDTO(*f))
}

func (h *Handler) SaveFund(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsApprover() {
		writeError(w, http.StatusForbidden, "Managing funds requires an approver role", nil)
		return
	}
	var req FundRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	f := ledger.Fund{
		ID:       ledger.FundID(req.ID),
		Name:     req.Name,
		Category: ledger.FundCategory(req.Category),
		Active:   true,
	}
	if err := h.Store.SaveFund(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fund", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundDTO(f))
}

func (h *Handler) RecalculateFund(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsApprover() {
		writeError(w, http.StatusForbidden, "Recalculation requires an approver role", nil)
		return
	}
	result, err := h.Ledger.RecalculateBalance(r.Context(), ledger.FundID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcDTO(*result))
}

func toRecalcDTO(res ledger.RecalcResult) RecalcResultDTO {
	return RecalcResultDTO{
		FundID:   string(res.FundID),
		Cached:   res.Cached.String(),
		Computed: res.Computed.String(),
		Drift:    res.Drift().String(),
		Repaired: res.Repaired,
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) QueryTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		FundID:   ledger.FundID(q.Get("fund_id")),
		ChurchID: ledger.ChurchID(q.Get("church_id")),
	}
	var err error
	if f.From, err = parseDateField("from", q.Get("from")); err != nil {
		writeDomainError(w, err)
		return
	}
	if f.To, err = parseDateField("to", q.Get("to")); err != nil {
		writeDomainError(w, err)
		return
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	txs, totals, err := h.Ledger.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerPageDTO{
		Transactions: toTransactionDTOs(txs),
		TotalIn:      totals.TotalIn.String(),
		TotalOut:     totals.TotalOut.String(),
		Balance:      totals.Balance.String(),
	})
}

func (h *Handler) CreateManualEntry(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.IsApprover() {
		writeError(w, http.StatusForbidden, "Manual entries require an approver role", nil)
		return
	}
	var req ManualEntryRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	date, err := parseDateField("date", req.Date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amountIn, err := parseAmountField("amount_in", req.AmountIn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amountOut, err := parseAmountField("amount_out", req.AmountOut)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tx, err := h.Ledger.Append(r.Context(), ledger.Transaction{
		Date:        date,
		FundID:      ledger.FundID(req.FundID),
		ChurchID:    ledger.ChurchID(req.ChurchID),
		Concept:     req.Concept,
		ProviderRef: req.ProviderRef,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Origin:      ledger.ManualOrigin(actor.ID),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := report.Filter{
		ChurchID: ledger.ChurchID(q.Get("church_id")),
		State:    workflow.State(q.Get("state")),
	}
	if v := q.Get("year"); v != "" {
		f.Year, _ = strconv.Atoi(v)
	}
	if v := q.Get("month"); v != "" {
		f.Month, _ = strconv.Atoi(v)
	}

	reports, err := h.Reports.List(r.Context(), actorFrom(r), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTOs(reports))
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	h.createReport(w, r, h.Reports.Create)
}

// ImportReport enters a historical report directly in the imported state.
func (h *Handler) ImportReport(w http.ResponseWriter, r *http.Request) {
	h.createReport(w, r, h.Reports.Import)
}

func (h *Handler) createReport(w http.ResponseWriter, r *http.Request,
	create func(ctx context.Context, actor workflow.Actor, in report.Input) (*report.Report, error)) {

	var req ReportRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rep, err := create(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(rep))
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rep, err := h.Reports.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.Reports.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	h.transitionReport(w, r, h.Reports.Submit)
}

func (h *Handler) ApproveReport(w http.ResponseWriter, r *http.Request) {
	h.transitionReport(w, r, h.Reports.Approve)
}

func (h *Handler) ReopenReport(w http.ResponseWriter, r *http.Request) {
	h.transitionReport(w, r, h.Reports.Reopen)
}

func (h *Handler) transitionReport(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, actor workflow.Actor, id string) (*report.Report, error)) {

	rep, err := move(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) RejectReport(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	rep, err := h.Reports.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

// =============================================================================
// FUND EVENT HANDLERS
// =============================================================================

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := fundevent.Filter{
		FundID:   ledger.FundID(q.Get("fund_id")),
		ChurchID: ledger.ChurchID(q.Get("church_id")),
		State:    workflow.State(q.Get("state")),
	}
	events, err := h.Events.List(r.Context(), actorFrom(r), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	e, err := h.Events.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(e))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Events.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	e, err := h.Events.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	h.transitionEvent(w, r, h.Events.Submit)
}

func (h *Handler) ApproveEvent(w http.ResponseWriter, r *http.Request) {
	h.transitionEvent(w, r, h.Events.Approve)
}

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	h.transitionEvent(w, r, h.Events.Cancel)
}

func (h *Handler) FinalizeEvent(w http.ResponseWriter, r *http.Request) {
	h.transitionEvent(w, r, h.Events.Finalize)
}

func (h *Handler) transitionEvent(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, actor workflow.Actor, id string) (*fundevent.FundEvent, error)) {

	e, err := move(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) RequestEventRevision(w http.ResponseWriter, r *http.Request) {
	h.commentEvent(w, r, h.Events.RequestRevision)
}

func (h *Handler) RejectEvent(w http.ResponseWriter, r *http.Request) {
	h.commentEvent(w, r, h.Events.Reject)
}

func (h *Handler) commentEvent(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, actor workflow.Actor, id, comment string) (*fundevent.FundEvent, error)) {

	var req CommentRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	e, err := move(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) AddEventActual(w http.ResponseWriter, r *http.Request) {
	var req ActualRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	line, err := req.toLine()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	e, err := h.Events.AddActual(r.Context(), actorFrom(r), chi.URLParam(r, "id"), line)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAudit sweeps every fund through RecalculateBalance and reports drift.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "Auditing requires the admin role", nil)
		return
	}
	funds, err := h.Store.ListFunds(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list funds", err)
		return
	}
	results := make([]RecalcResultDTO, 0, len(funds))
	for _, f := range funds {
		res, err := h.Ledger.RecalculateBalance(r.Context(), f.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if res.Repaired {
			log.Printf("audit: fund %s drifted by %s, repaired", f.ID, res.Drift())
		}
		results = append(results, toRecalcDTO(*res))
	}
	writeJSON(w, http.StatusOK, results)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto the HTTP status taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

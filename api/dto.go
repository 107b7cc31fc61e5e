/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Monetary values cross the wire as decimal strings ("800000"), never as
  floats. Parsing goes through ledger.ParseAmount; an unparsable amount is a
  400. Absent amounts count as zero.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run them
  through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: The rule-set JSON shape (same validator)
*/
package api

import (
	"time"

	"github.com/ipupy/treasury-engine/fundevent"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/report"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REGISTRY TYPES
// =============================================================================

type ChurchDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Pastor    string `json:"pastor,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

type ChurchRequest struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	City   string `json:"city"`
	Pastor string `json:"pastor"`
	Phone  string `json:"phone"`
}

type FundDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	CurrentBalance string `json:"current_balance"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at,omitempty"`
}

type FundRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required,oneof=general designated"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

type TransactionDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	FundID      string `json:"fund_id"`
	ChurchID    string `json:"church_id,omitempty"`
	SourceKind  string `json:"source_kind,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Concept     string `json:"concept"`
	ProviderRef string `json:"provider_ref,omitempty"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Origin      string `json:"origin"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ManualEntryRequest is a treasurer-entered ledger row. Exactly one of
// amount_in / amount_out must be non-zero; the domain enforces it.
type ManualEntryRequest struct {
	FundID      string `json:"fund_id" validate:"required"`
	ChurchID    string `json:"church_id"`
	Date        string `json:"date" validate:"required"`
	Concept     string `json:"concept" validate:"required"`
	ProviderRef string `json:"provider_ref"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
}

// LedgerPageDTO is a transaction query result with aggregates computed at
// query time.
type LedgerPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	TotalIn      string           `json:"total_in"`
	TotalOut     string           `json:"total_out"`
	Balance      string           `json:"balance"`
}

type RecalcResultDTO struct {
	FundID   string `json:"fund_id"`
	Cached   string `json:"cached"`
	Computed string `json:"computed"`
	Drift    string `json:"drift"`
	Repaired bool   `json:"repaired"`
}

// =============================================================================
// REPORT TYPES
// =============================================================================

type DonorDTO struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Document string `json:"document,omitempty"`
	Amount   string `json:"amount"`
}

type DerivedDTO struct {
	TotalIncome     string `json:"total_income"`
	NationalFund    string `json:"national_fund"`
	DesignatedTotal string `json:"designated_total"`
	OperatingTotal  string `json:"operating_total"`
	PastoralStipend string `json:"pastoral_stipend"`
	PeriodBalance   string `json:"period_balance"`
	ExpectedDeposit string `json:"expected_deposit"`
}

type ReportDTO struct {
	ID             string            `json:"id"`
	ChurchID       string            `json:"church_id"`
	Month          int               `json:"month"`
	Year           int               `json:"year"`
	State          string            `json:"state"`
	Tithes         string            `json:"tithes"`
	Offerings      string            `json:"offerings"`
	Designated     map[string]string `json:"designated,omitempty"`
	Expenses       map[string]string `json:"expenses,omitempty"`
	Donors         []DonorDTO        `json:"donors,omitempty"`
	DepositAmount  string            `json:"deposit_amount"`
	DepositDate    string            `json:"deposit_date,omitempty"`
	DepositReceipt string            `json:"deposit_receipt,omitempty"`
	PhotoRef       string            `json:"photo_ref,omitempty"`
	Derived        DerivedDTO        `json:"derived"`
	SubmittedAt    string            `json:"submitted_at,omitempty"`
	ApprovedBy     string            `json:"approved_by,omitempty"`
	ApprovedAt     string            `json:"approved_at,omitempty"`
	Rejection      string            `json:"rejection_reason,omitempty"`
	Fingerprint    string            `json:"generation_fingerprint,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

type ReportRequest struct {
	ChurchID       string            `json:"church_id" validate:"required"`
	Month          int               `json:"month" validate:"required,min=1,max=12"`
	Year           int               `json:"year" validate:"required,min=2000"`
	Tithes         string            `json:"tithes"`
	Offerings      string            `json:"offerings"`
	Designated     map[string]string `json:"designated"`
	Expenses       map[string]string `json:"expenses"`
	Donors         []DonorDTO        `json:"donors"`
	DepositAmount  string            `json:"deposit_amount"`
	DepositDate    string            `json:"deposit_date"`
	DepositReceipt string            `json:"deposit_receipt"`
	PhotoRef       string            `json:"photo_ref"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// FUND EVENT TYPES
// =============================================================================

type BudgetItemDTO struct {
	ID          string `json:"id,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Projected   string `json:"projected"`
}

type ActualLineDTO struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	ReceiptRef  string `json:"receipt_ref,omitempty"`
}

type EventDTO struct {
	ID           string          `json:"id"`
	FundID       string          `json:"fund_id"`
	ChurchID     string          `json:"church_id,omitempty"`
	State        string          `json:"state"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	EventDate    string          `json:"event_date,omitempty"`
	Budget       []BudgetItemDTO `json:"budget,omitempty"`
	Actuals      []ActualLineDTO `json:"actuals,omitempty"`
	TotalIncome  string          `json:"total_income"`
	TotalExpense string          `json:"total_expense"`
	FinalizedAt  string          `json:"finalized_at,omitempty"`
	Comment      string          `json:"reviewer_comment,omitempty"`
	Fingerprint  string          `json:"generation_fingerprint,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
}

type EventRequest struct {
	FundID      string          `json:"fund_id" validate:"required"`
	ChurchID    string          `json:"church_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	EventDate   string          `json:"event_date"`
	Budget      []BudgetItemDTO `json:"budget"`
}

type ActualRequest struct {
	Type        string `json:"type" validate:"required,oneof=income expense"`
	Description string `json:"description"`
	Amount      string `json:"amount" validate:"required"`
	ReceiptRef  string `json:"receipt_ref"`
}

type CommentRequest struct {
	Comment string `json:"comment" validate:"required"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func amountMapDTO(m map[string]ledger.Amount) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func optDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toChurchDTO(c ledger.Church) ChurchDTO {
	return ChurchDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		City:      c.City,
		Pastor:    c.Pastor,
		Phone:     c.Phone,
		Active:    c.Active,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func toFundDTO(f ledger.Fund) FundDTO {
	return FundDTO{
		ID:             string(f.ID),
		Name:           f.Name,
		Category:       string(f.Category),
		CurrentBalance: f.CurrentBalance.String(),
		Active:         f.Active,
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		Date:        tx.Date.Format(dateLayout),
		FundID:      string(tx.FundID),
		ChurchID:    string(tx.ChurchID),
		SourceKind:  string(tx.Source.Kind),
		SourceID:    tx.Source.ID,
		Concept:     tx.Concept,
		ProviderRef: tx.ProviderRef,
		AmountIn:    tx.AmountIn.String(),
		AmountOut:   tx.AmountOut.String(),
		Origin:      string(tx.Origin),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toReportDTO(r *report.Report) ReportDTO {
	donors := make([]DonorDTO, len(r.Donors))
	for i, d := range r.Donors {
		donors[i] = DonorDTO{ID: d.ID, Name: d.Name, Document: d.Document, Amount: d.Amount.String()}
	}
	return ReportDTO{
		ID:             r.ID,
		ChurchID:       string(r.ChurchID),
		Month:          r.Month,
		Year:           r.Year,
		State:          string(r.State),
		Tithes:         r.Tithes.String(),
		Offerings:      r.Offerings.String(),
		Designated:     amountMapDTO(r.Designated),
		Expenses:       amountMapDTO(r.Expenses),
		Donors:         donors,
		DepositAmount:  r.DepositAmount.String(),
		DepositDate:    optDate(r.DepositDate),
		DepositReceipt: r.DepositReceipt,
		PhotoRef:       r.PhotoRef,
		Derived: DerivedDTO{
			TotalIncome:     r.Derived.TotalIncome.String(),
			NationalFund:    r.Derived.NationalFund.String(),
			DesignatedTotal: r.Derived.DesignatedTotal.String(),
			OperatingTotal:  r.Derived.OperatingTotal.String(),
			PastoralStipend: r.Derived.PastoralStipend.String(),
			PeriodBalance:   r.Derived.PeriodBalance.String(),
			ExpectedDeposit: r.Derived.ExpectedDeposit().String(),
		},
		SubmittedAt: optTime(r.SubmittedAt),
		ApprovedBy:  r.ApprovedBy,
		ApprovedAt:  optTime(r.ApprovedAt),
		Rejection:   r.RejectionReason,
		Fingerprint: r.GenerationFingerprint,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func toReportDTOs(rs []report.Report) []ReportDTO {
	dtos := make([]ReportDTO, len(rs))
	for i := range rs {
		dtos[i] = toReportDTO(&rs[i])
	}
	return dtos
}

func toEventDTO(e *fundevent.FundEvent) EventDTO {
	budget := make([]BudgetItemDTO, len(e.Budget))
	for i, b := range e.Budget {
		budget[i] = BudgetItemDTO{ID: b.ID, Category: b.Category, Description: b.Description, Projected: b.Projected.String()}
	}
	actuals := make([]ActualLineDTO, len(e.Actuals))
	for i, a := range e.Actuals {
		actuals[i] = ActualLineDTO{ID: a.ID, Type: string(a.Type), Description: a.Description, Amount: a.Amount.String(), ReceiptRef: a.ReceiptRef}
	}
	return EventDTO{
		ID:           e.ID,
		FundID:       string(e.FundID),
		ChurchID:     string(e.ChurchID),
		State:        string(e.State),
		Name:         e.Name,
		Description:  e.Description,
		EventDate:    optDate(e.EventDate),
		Budget:       budget,
		Actuals:      actuals,
		TotalIncome:  e.TotalIncome.String(),
		TotalExpense: e.TotalExpense.String(),
		FinalizedAt:  optTime(e.FinalizedAt),
		Comment:      e.ReviewerComment,
		Fingerprint:  e.GenerationFingerprint,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
}

func toEventDTOs(es []fundevent.FundEvent) []EventDTO {
	dtos := make([]EventDTO, len(es))
	for i := range es {
		dtos[i] = toEventDTO(&es[i])
	}
	return dtos
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

// parseAmountField treats an absent amount as zero.
func parseAmountField(field, value string) (ledger.Amount, error) {
	if value == "" {
		return ledger.ZeroAmount(), nil
	}
	a, err := ledger.ParseAmount(value)
	if err != nil {
		return ledger.Amount{}, &ledger.ValidationError{Field: field, Message: "not a valid amount"}
	}
	return a, nil
}

func parseAmountMapField(field string, values map[string]string) (map[string]ledger.Amount, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]ledger.Amount, len(values))
	for k, v := range values {
		a, err := parseAmountField(field+"."+k, v)
		if err != nil {
			return nil, err
		}
		out[k] = a
	}
	return out, nil
}

func parseDateField(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (req ReportRequest) toInput() (report.Input, error) {
	var in report.Input
	var err error

	in.ChurchID = ledger.ChurchID(req.ChurchID)
	in.Month, in.Year = req.Month, req.Year
	if in.Tithes, err = parseAmountField("tithes", req.Tithes); err != nil {
		return in, err
	}
	if in.Offerings, err = parseAmountField("offerings", req.Offerings); err != nil {
		return in, err
	}
	if in.Designated, err = parseAmountMapField("designated", req.Designated); err != nil {
		return in, err
	}
	if in.Expenses, err = parseAmountMapField("expenses", req.Expenses); err != nil {
		return in, err
	}
	for _, d := range req.Donors {
		amount, err := parseAmountField("donors.amount", d.Amount)
		if err != nil {
			return in, err
		}
		in.Donors = append(in.Donors, report.DonorEntry{
			ID: d.ID, Name: d.Name, Document: d.Document, Amount: amount,
		})
	}
	if in.DepositAmount, err = parseAmountField("deposit_amount", req.DepositAmount); err != nil {
		return in, err
	}
	if in.DepositDate, err = parseDateField("deposit_date", req.DepositDate); err != nil {
		return in, err
	}
	in.DepositReceipt = req.DepositReceipt
	in.PhotoRef = req.PhotoRef
	return in, nil
}

func (req EventRequest) toInput() (fundevent.Input, error) {
	var in fundevent.Input
	var err error

	in.FundID = ledger.FundID(req.FundID)
	in.ChurchID = ledger.ChurchID(req.ChurchID)
	in.Name = req.Name
	in.Description = req.Description
	if in.EventDate, err = parseDateField("event_date", req.EventDate); err != nil {
		return in, err
	}
	for _, b := range req.Budget {
		projected, err := parseAmountField("budget.projected", b.Projected)
		if err != nil {
			return in, err
		}
		in.Budget = append(in.Budget, fundevent.BudgetItem{
			ID: b.ID, Category: b.Category, Description: b.Description, Projected: projected,
		})
	}
	return in, nil
}

func (req ActualRequest) toLine() (fundevent.ActualLine, error) {
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return fundevent.ActualLine{}, err
	}
	return fundevent.ActualLine{
		Type:        fundevent.ActualKind(req.Type),
		Description: req.Description,
		Amount:      amount,
		ReceiptRef:  req.ReceiptRef,
	}, nil
}

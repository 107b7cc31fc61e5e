/*
reports.go - report.Store on SQLite

The (church, month, year) uniqueness lives in a partial unique index over
live rows; Create maps its violation to ConflictError so concurrent creators
resolve to one winner. State transitions are compare-and-swap UPDATEs.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/report"
	"github.com/ipupy/treasury-engine/workflow"
)

var _ report.Store = (*ReportStore)(nil)

// ReportStore is the report.Store view over the shared database handle.
type ReportStore struct {
	*Store
}

// Reports returns the monthly-report persistence view.
func (s *Store) Reports() *ReportStore {
	return &ReportStore{s}
}

const reportColumns = `id, church_id, month, year, state, tithes, offerings,
	designated_json, expenses_json, deposit_amount, deposit_date, deposit_receipt,
	photo_ref, total_income, national_fund, designated_total, operating_total,
	pastoral_stipend, period_balance, submitted_at, approved_by, approved_at,
	rejection_reason, generation_fingerprint, generated_at, created_by,
	created_at, updated_at, deleted_at`

func (s *ReportStore) Create(ctx context.Context, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	designated, expenses, err := marshalCategories(r)
	if err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reportArgs(r, designated, expenses)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ConflictError{
				Resource: "report",
				Message: fmt.Sprintf("a report for church %s period %02d/%d already exists",
					r.ChurchID, r.Month, r.Year),
			}
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}

	if err := replaceDonors(ctx, sqlTx, r); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *ReportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, err
	}

	var r *report.Report
	if rows.Next() {
		if r, err = scanReport(rows); err != nil {
			rows.Close()
			return nil, err
		}
	}
	// Release the connection before the donor query.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	if err := s.loadDonors(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ReportStore) Update(ctx context.Context, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	designated, expenses, err := marshalCategories(r)
	if err != nil {
		return err
	}

	// State is deliberately not written here; transitions go through
	// CompareAndSwapState.
	res, err := sqlTx.ExecContext(ctx, `
		UPDATE reports SET
			tithes = ?, offerings = ?, designated_json = ?, expenses_json = ?,
			deposit_amount = ?, deposit_date = ?, deposit_receipt = ?, photo_ref = ?,
			total_income = ?, national_fund = ?, designated_total = ?,
			operating_total = ?, pastoral_stipend = ?, period_balance = ?,
			generation_fingerprint = ?, generated_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		r.Tithes.String(), r.Offerings.String(), designated, expenses,
		r.DepositAmount.String(), nullDate(r.DepositDate), nullString(r.DepositReceipt),
		nullString(r.PhotoRef),
		r.Derived.TotalIncome.String(), r.Derived.NationalFund.String(),
		r.Derived.DesignatedTotal.String(), r.Derived.OperatingTotal.String(),
		r.Derived.PastoralStipend.String(), r.Derived.PeriodBalance.String(),
		nullString(r.GenerationFingerprint), nullTime(r.GeneratedAt),
		r.UpdatedAt.UTC().Format(time.RFC3339),
		r.ID)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s: %w", r.ID, ledger.ErrNotFound)
	}

	if err := replaceDonors(ctx, sqlTx, r); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *ReportStore) CompareAndSwapState(ctx context.Context, r *report.Report, from workflow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET
			state = ?, submitted_at = ?, approved_by = ?, approved_at = ?,
			rejection_reason = ?, updated_at = ?
		WHERE id = ? AND state = ? AND deleted_at IS NULL`,
		r.State, nullTime(r.SubmittedAt), nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectionReason), r.UpdatedAt.UTC().Format(time.RFC3339),
		r.ID, from)
	if err != nil {
		return fmt.Errorf("failed to swap report state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.ConflictError{
			Resource: "report",
			Message:  fmt.Sprintf("state is no longer %s", from),
		}
	}
	return nil
}

func (s *ReportStore) List(ctx context.Context, f report.Filter) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + reportColumns + ` FROM reports WHERE deleted_at IS NULL`
	var args []any
	if f.ChurchID != "" {
		query += ` AND church_id = ?`
		args = append(args, f.ChurchID)
	}
	if f.Year != 0 {
		query += ` AND year = ?`
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		query += ` AND month = ?`
		args = append(args, f.Month)
	}
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, f.State)
	}
	query += ` ORDER BY year DESC, month DESC, church_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the connection before the per-report donor queries.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadDonors(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *ReportStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func reportArgs(r *report.Report, designated, expenses string) []any {
	return []any{
		r.ID, r.ChurchID, r.Month, r.Year, r.State,
		r.Tithes.String(), r.Offerings.String(), designated, expenses,
		r.DepositAmount.String(), nullDate(r.DepositDate), nullString(r.DepositReceipt),
		nullString(r.PhotoRef),
		r.Derived.TotalIncome.String(), r.Derived.NationalFund.String(),
		r.Derived.DesignatedTotal.String(), r.Derived.OperatingTotal.String(),
		r.Derived.PastoralStipend.String(), r.Derived.PeriodBalance.String(),
		nullTime(r.SubmittedAt), nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectionReason), nullString(r.GenerationFingerprint),
		nullTime(r.GeneratedAt), nullString(r.CreatedBy),
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(r.DeletedAt),
	}
}

func scanReport(rows *sql.Rows) (*report.Report, error) {
	var (
		r                          report.Report
		tithes, offerings          string
		designatedJSON, expJSON    string
		depositAmount              string
		depositDate                sql.NullString
		depositReceipt, photoRef   sql.NullString
		income, national, desigTot string
		operating, stipend, period string
		submittedAt, approvedAt    sql.NullString
		approvedBy, reason         sql.NullString
		fingerprint, generatedAt   sql.NullString
		createdBy                  sql.NullString
		createdAt, updatedAt       string
		deletedAt                  sql.NullString
	)
	err := rows.Scan(
		&r.ID, &r.ChurchID, &r.Month, &r.Year, &r.State, &tithes, &offerings,
		&designatedJSON, &expJSON, &depositAmount, &depositDate, &depositReceipt,
		&photoRef, &income, &national, &desigTot, &operating, &stipend, &period,
		&submittedAt, &approvedBy, &approvedAt, &reason, &fingerprint, &generatedAt,
		&createdBy, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	amounts := map[*ledger.Amount]string{
		&r.Tithes: tithes, &r.Offerings: offerings, &r.DepositAmount: depositAmount,
		&r.Derived.TotalIncome: income, &r.Derived.NationalFund: national,
		&r.Derived.DesignatedTotal: desigTot, &r.Derived.OperatingTotal: operating,
		&r.Derived.PastoralStipend: stipend, &r.Derived.PeriodBalance: period,
	}
	for dst, raw := range amounts {
		if *dst, err = ledger.ParseAmount(raw); err != nil {
			return nil, err
		}
	}
	if r.Designated, err = unmarshalAmountMap(designatedJSON); err != nil {
		return nil, err
	}
	if r.Expenses, err = unmarshalAmountMap(expJSON); err != nil {
		return nil, err
	}

	if depositDate.Valid {
		r.DepositDate, _ = time.Parse(time.RFC3339, depositDate.String)
	}
	r.DepositReceipt = depositReceipt.String
	r.PhotoRef = photoRef.String
	r.SubmittedAt = parseTimePtr(submittedAt)
	r.ApprovedBy = approvedBy.String
	r.ApprovedAt = parseTimePtr(approvedAt)
	r.RejectionReason = reason.String
	r.GenerationFingerprint = fingerprint.String
	r.GeneratedAt = parseTimePtr(generatedAt)
	r.CreatedBy = createdBy.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	r.DeletedAt = parseTimePtr(deletedAt)
	return &r, nil
}

func (s *ReportStore) loadDonors(ctx context.Context, r *report.Report) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, document, amount FROM donor_entries
		WHERE report_id = ? ORDER BY rowid`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var d report.DonorEntry
		var name, document sql.NullString
		var amount string
		if err := rows.Scan(&d.ID, &name, &document, &amount); err != nil {
			return err
		}
		d.Name, d.Document = name.String, document.String
		if d.Amount, err = ledger.ParseAmount(amount); err != nil {
			return err
		}
		r.Donors = append(r.Donors, d)
	}
	return rows.Err()
}

func replaceDonors(ctx context.Context, db executor, r *report.Report) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM donor_entries WHERE report_id = ?`, r.ID); err != nil {
		return err
	}
	for _, d := range r.Donors {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO donor_entries (id, report_id, name, document, amount)
			VALUES (?, ?, ?, ?, ?)`,
			d.ID, r.ID, nullString(d.Name), nullString(d.Document), d.Amount.String(),
		); err != nil {
			return fmt.Errorf("failed to insert donor entry: %w", err)
		}
	}
	return nil
}

func marshalCategories(r *report.Report) (designated, expenses string, err error) {
	d, err := marshalAmountMap(r.Designated)
	if err != nil {
		return "", "", err
	}
	e, err := marshalAmountMap(r.Expenses)
	if err != nil {
		return "", "", err
	}
	return d, e, nil
}

func marshalAmountMap(m map[string]ledger.Amount) (string, error) {
	raw := make(map[string]string, len(m))
	for k, v := range m {
		raw[k] = v.String()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalAmountMap(data string) (map[string]ledger.Amount, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode amount map: %w", err)
	}
	m := make(map[string]ledger.Amount, len(raw))
	for k, v := range raw {
		amt, err := ledger.ParseAmount(v)
		if err != nil {
			return nil, err
		}
		m[k] = amt
	}
	return m, nil
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

/*
events.go - fundevent.Store on SQLite

Budget items and actual lines live in child tables replaced wholesale on
update; the event row itself follows the same compare-and-swap discipline as
reports.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ipupy/treasury-engine/fundevent"
	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/workflow"
)

var _ fundevent.Store = (*EventStore)(nil)

// EventStore is the fundevent.Store view over the shared database handle.
type EventStore struct {
	*Store
}

// Events returns the fund-event persistence view.
func (s *Store) Events() *EventStore {
	return &EventStore{s}
}

const eventColumns = `id, fund_id, church_id, state, name, description, event_date,
	submitted_at, approved_by, approved_at, reviewer_comment, total_income,
	total_expense, finalized_at, generation_fingerprint, created_by,
	created_at, updated_at, deleted_at`

func (s *EventStore) Create(ctx context.Context, e *fundevent.FundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO fund_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventArgs(e)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ConflictError{Resource: "fund_event", Message: "event id already exists"}
		}
		return fmt.Errorf("failed to insert fund event: %w", err)
	}
	if err := replaceEventLines(ctx, sqlTx, e); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *EventStore) Get(ctx context.Context, id string) (*fundevent.FundEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM fund_events
		WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, err
	}

	var e *fundevent.FundEvent
	if rows.Next() {
		if e, err = scanEvent(rows); err != nil {
			rows.Close()
			return nil, err
		}
	}
	// Release the connection before the child-table queries.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	if err := s.loadEventLines(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *EventStore) Update(ctx context.Context, e *fundevent.FundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE fund_events SET
			name = ?, description = ?, event_date = ?, reviewer_comment = ?,
			total_income = ?, total_expense = ?, finalized_at = ?,
			generation_fingerprint = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		e.Name, nullString(e.Description), nullDate(e.EventDate),
		nullString(e.ReviewerComment),
		e.TotalIncome.String(), e.TotalExpense.String(), nullTime(e.FinalizedAt),
		nullString(e.GenerationFingerprint), e.UpdatedAt.UTC().Format(time.RFC3339),
		e.ID)
	if err != nil {
		return fmt.Errorf("failed to update fund event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fund event %s: %w", e.ID, ledger.ErrNotFound)
	}

	if err := replaceEventLines(ctx, sqlTx, e); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *EventStore) CompareAndSwapState(ctx context.Context, e *fundevent.FundEvent, from workflow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fund_events SET
			state = ?, submitted_at = ?, approved_by = ?, approved_at = ?,
			reviewer_comment = ?, updated_at = ?
		WHERE id = ? AND state = ? AND deleted_at IS NULL`,
		e.State, nullTime(e.SubmittedAt), nullString(e.ApprovedBy), nullTime(e.ApprovedAt),
		nullString(e.ReviewerComment), e.UpdatedAt.UTC().Format(time.RFC3339),
		e.ID, from)
	if err != nil {
		return fmt.Errorf("failed to swap event state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.ConflictError{
			Resource: "fund_event",
			Message:  fmt.Sprintf("state is no longer %s", from),
		}
	}
	return nil
}

func (s *EventStore) List(ctx context.Context, f fundevent.Filter) ([]fundevent.FundEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + eventColumns + ` FROM fund_events WHERE deleted_at IS NULL`
	var args []any
	if f.FundID != "" {
		query += ` AND fund_id = ?`
		args = append(args, f.FundID)
	}
	if f.ChurchID != "" {
		query += ` AND church_id = ?`
		args = append(args, f.ChurchID)
	}
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, f.State)
	}
	query += ` ORDER BY event_date DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []fundevent.FundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the connection before the per-event child queries.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadEventLines(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *EventStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fund_events SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to delete fund event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fund event %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func eventArgs(e *fundevent.FundEvent) []any {
	return []any{
		e.ID, e.FundID, nullString(string(e.ChurchID)), e.State, e.Name,
		nullString(e.Description), nullDate(e.EventDate),
		nullTime(e.SubmittedAt), nullString(e.ApprovedBy), nullTime(e.ApprovedAt),
		nullString(e.ReviewerComment),
		e.TotalIncome.String(), e.TotalExpense.String(), nullTime(e.FinalizedAt),
		nullString(e.GenerationFingerprint), nullString(e.CreatedBy),
		e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(e.DeletedAt),
	}
}

func scanEvent(rows *sql.Rows) (*fundevent.FundEvent, error) {
	var (
		e                        fundevent.FundEvent
		churchID, description    sql.NullString
		eventDate                sql.NullString
		submittedAt, approvedAt  sql.NullString
		approvedBy, comment      sql.NullString
		income, expense          string
		finalizedAt, fingerprint sql.NullString
		createdBy                sql.NullString
		createdAt, updatedAt     string
		deletedAt                sql.NullString
	)
	err := rows.Scan(
		&e.ID, &e.FundID, &churchID, &e.State, &e.Name, &description, &eventDate,
		&submittedAt, &approvedBy, &approvedAt, &comment, &income, &expense,
		&finalizedAt, &fingerprint, &createdBy, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fund event: %w", err)
	}

	e.ChurchID = ledger.ChurchID(churchID.String)
	e.Description = description.String
	if eventDate.Valid {
		e.EventDate, _ = time.Parse(time.RFC3339, eventDate.String)
	}
	e.SubmittedAt = parseTimePtr(submittedAt)
	e.ApprovedBy = approvedBy.String
	e.ApprovedAt = parseTimePtr(approvedAt)
	e.ReviewerComment = comment.String
	if e.TotalIncome, err = ledger.ParseAmount(income); err != nil {
		return nil, err
	}
	if e.TotalExpense, err = ledger.ParseAmount(expense); err != nil {
		return nil, err
	}
	e.FinalizedAt = parseTimePtr(finalizedAt)
	e.GenerationFingerprint = fingerprint.String
	e.CreatedBy = createdBy.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	e.DeletedAt = parseTimePtr(deletedAt)
	return &e, nil
}

func (s *EventStore) loadEventLines(ctx context.Context, e *fundevent.FundEvent) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, description, projected FROM budget_items
		WHERE event_id = ? ORDER BY rowid`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var b fundevent.BudgetItem
		var description sql.NullString
		var projected string
		if err := rows.Scan(&b.ID, &b.Category, &description, &projected); err != nil {
			return err
		}
		b.Description = description.String
		if b.Projected, err = ledger.ParseAmount(projected); err != nil {
			return err
		}
		e.Budget = append(e.Budget, b)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	actuals, err := s.db.QueryContext(ctx, `
		SELECT id, line_type, description, amount, receipt_ref FROM actual_lines
		WHERE event_id = ? ORDER BY rowid`, e.ID)
	if err != nil {
		return err
	}
	defer actuals.Close()
	for actuals.Next() {
		var a fundevent.ActualLine
		var description, receipt sql.NullString
		var amount string
		if err := actuals.Scan(&a.ID, &a.Type, &description, &amount, &receipt); err != nil {
			return err
		}
		a.Description = description.String
		a.ReceiptRef = receipt.String
		if a.Amount, err = ledger.ParseAmount(amount); err != nil {
			return err
		}
		e.Actuals = append(e.Actuals, a)
	}
	return actuals.Err()
}

func replaceEventLines(ctx context.Context, db executor, e *fundevent.FundEvent) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM budget_items WHERE event_id = ?`, e.ID); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM actual_lines WHERE event_id = ?`, e.ID); err != nil {
		return err
	}
	for _, b := range e.Budget {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO budget_items (id, event_id, category, description, projected)
			VALUES (?, ?, ?, ?, ?)`,
			b.ID, e.ID, b.Category, nullString(b.Description), b.Projected.String(),
		); err != nil {
			return fmt.Errorf("failed to insert budget item: %w", err)
		}
	}
	for _, a := range e.Actuals {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO actual_lines (id, event_id, line_type, description, amount, receipt_ref)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, e.ID, a.Type, nullString(a.Description), a.Amount.String(), nullString(a.ReceiptRef),
		); err != nil {
			return fmt.Errorf("failed to insert actual line: %w", err)
		}
	}
	return nil
}

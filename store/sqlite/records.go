/*
records.go - Commission record, pay period, and audit persistence

PURPOSE:
  The write-heavy half of the store. Status transitions here are
  compare-and-swap statements; the engine decides what a zero-row update
  means. Audit entries are append-only and read back in insert order.

SEE ALSO:
  - sqlite.go: store plumbing, plans, agents, assignments
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steeltrade/commission-engine/engine"
)

// =============================================================================
// COMMISSION RECORDS (engine.RecordStore)
// =============================================================================

const recordColumns = `
	id, invoice_id, invoice_number, agent_id, sale_amount, sale_date,
	commission_rate, commission_amount, status, pay_period_id,
	payment_reference, supersedes_id, created_at, last_modified_at
`

func (s *Store) InsertRecord(ctx context.Context, rec engine.CommissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRecord(ctx, s.db, rec)
}

func (ts *txStore) InsertRecord(ctx context.Context, rec engine.CommissionRecord) error {
	return ts.parent.insertRecord(ctx, ts.q, rec)
}

func (s *Store) insertRecord(ctx context.Context, q queryer, rec engine.CommissionRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO commission_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.InvoiceID, rec.InvoiceNumber, rec.AgentID,
		rec.SaleAmount.String(), formatTime(rec.SaleDate),
		rec.CommissionRate.String(), rec.CommissionAmount.String(),
		string(rec.Status), rec.PayPeriodID,
		rec.PaymentReference, rec.SupersedesID,
		formatTime(rec.CreatedAt), formatTime(rec.LastModifiedAt),
	)
	if isUniqueConstraintError(err) {
		// The partial unique index caught a concurrent insert for the same
		// invoice that slipped past the engine's pre-check.
		return &engine.DuplicateInvoiceError{InvoiceID: rec.InvoiceID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert commission record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id engine.RecordID) (*engine.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRecord(ctx, s.db, id)
}

func (ts *txStore) GetRecord(ctx context.Context, id engine.RecordID) (*engine.CommissionRecord, error) {
	return ts.parent.getRecord(ctx, ts.q, id)
}

func (s *Store) getRecord(ctx context.Context, q queryer, id engine.RecordID) (*engine.CommissionRecord, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM commission_records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *Store) ActiveRecordByInvoice(ctx context.Context, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRecordByInvoice(ctx, s.db, invoiceID)
}

func (ts *txStore) ActiveRecordByInvoice(ctx context.Context, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	return ts.parent.activeRecordByInvoice(ctx, ts.q, invoiceID)
}

func (s *Store) activeRecordByInvoice(ctx context.Context, q queryer, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM commission_records
		WHERE invoice_id = ? AND status NOT IN ('REVERSED', 'VOIDED')
	`, invoiceID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *Store) LatestRecordByInvoice(ctx context.Context, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestRecordByInvoice(ctx, s.db, invoiceID)
}

func (ts *txStore) LatestRecordByInvoice(ctx context.Context, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	return ts.parent.latestRecordByInvoice(ctx, ts.q, invoiceID)
}

func (s *Store) latestRecordByInvoice(ctx context.Context, q queryer, invoiceID engine.InvoiceID) (*engine.CommissionRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM commission_records
		WHERE invoice_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, invoiceID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *Store) ListRecords(ctx context.Context, filter engine.RecordFilter) ([]engine.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRecords(ctx, s.db, filter)
}

func (ts *txStore) ListRecords(ctx context.Context, filter engine.RecordFilter) ([]engine.CommissionRecord, error) {
	return ts.parent.listRecords(ctx, ts.q, filter)
}

func (s *Store) listRecords(ctx context.Context, q queryer, filter engine.RecordFilter) ([]engine.CommissionRecord, error) {
	query := "SELECT " + recordColumns + " FROM commission_records WHERE 1=1"
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.PayPeriodID != "" {
		query += " AND pay_period_id = ?"
		args = append(args, filter.PayPeriodID)
	}
	if filter.InvoiceID != "" {
		query += " AND invoice_id = ?"
		args = append(args, filter.InvoiceID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(filter.Since))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission records: %w", err)
	}
	defer rows.Close()

	var records []engine.CommissionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *Store) UpdateRecordStatus(ctx context.Context, id engine.RecordID, from, to engine.CommissionStatus, paymentRef string, modifiedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRecordStatus(ctx, s.db, id, from, to, paymentRef, modifiedAt)
}

func (ts *txStore) UpdateRecordStatus(ctx context.Context, id engine.RecordID, from, to engine.CommissionStatus, paymentRef string, modifiedAt time.Time) (bool, error) {
	return ts.parent.updateRecordStatus(ctx, ts.q, id, from, to, paymentRef, modifiedAt)
}

func (s *Store) updateRecordStatus(ctx context.Context, q queryer, id engine.RecordID, from, to engine.CommissionStatus, paymentRef string, modifiedAt time.Time) (bool, error) {
	// Compare-and-swap: the WHERE clause re-checks the expected status, so
	// a lost race shows up as zero affected rows rather than a bad write.
	res, err := q.ExecContext(ctx, `
		UPDATE commission_records
		SET status = ?,
		    payment_reference = CASE WHEN ? = '' THEN payment_reference ELSE ? END,
		    last_modified_at = ?
		WHERE id = ? AND status = ?
	`, string(to), paymentRef, paymentRef, formatTime(modifiedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update record status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) UpdateRecordAmount(ctx context.Context, id engine.RecordID, amount decimal.Decimal, modifiedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRecordAmount(ctx, s.db, id, amount, modifiedAt)
}

func (ts *txStore) UpdateRecordAmount(ctx context.Context, id engine.RecordID, amount decimal.Decimal, modifiedAt time.Time) (bool, error) {
	return ts.parent.updateRecordAmount(ctx, ts.q, id, amount, modifiedAt)
}

func (s *Store) updateRecordAmount(ctx context.Context, q queryer, id engine.RecordID, amount decimal.Decimal, modifiedAt time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE commission_records
		SET commission_amount = ?, last_modified_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, amount.String(), formatTime(modifiedAt), id)
	if err != nil {
		return false, fmt.Errorf("failed to update record amount: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRecord(row rowScanner) (*engine.CommissionRecord, error) {
	var (
		rec                      engine.CommissionRecord
		saleAmount, rate, amount string
		status                   string
		saleDate                 string
		createdAt, modifiedAt    string
	)
	if err := row.Scan(
		&rec.ID, &rec.InvoiceID, &rec.InvoiceNumber, &rec.AgentID,
		&saleAmount, &saleDate, &rate, &amount, &status, &rec.PayPeriodID,
		&rec.PaymentReference, &rec.SupersedesID, &createdAt, &modifiedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.SaleAmount, err = decimal.NewFromString(saleAmount); err != nil {
		return nil, fmt.Errorf("failed to decode sale amount: %w", err)
	}
	if rec.CommissionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("failed to decode commission rate: %w", err)
	}
	if rec.CommissionAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to decode commission amount: %w", err)
	}
	rec.Status = engine.CommissionStatus(status)
	rec.SaleDate = parseTime(saleDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.LastModifiedAt = parseTime(modifiedAt)
	return &rec, nil
}

// =============================================================================
// PAY PERIODS (engine.PeriodStore)
// =============================================================================

const periodColumns = "id, start_date, end_date, status, created_at, updated_at"

func (s *Store) InsertPeriod(ctx context.Context, p engine.PayPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPeriod(ctx, s.db, p)
}

func (ts *txStore) InsertPeriod(ctx context.Context, p engine.PayPeriod) error {
	return ts.parent.insertPeriod(ctx, ts.q, p)
}

func (s *Store) insertPeriod(ctx context.Context, q queryer, p engine.PayPeriod) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pay_periods (`+periodColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, formatTime(p.StartDate), formatTime(p.EndDate), string(p.Status),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert pay period: %w", err)
	}
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, id engine.PeriodID) (*engine.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPeriod(ctx, s.db, id)
}

func (ts *txStore) GetPeriod(ctx context.Context, id engine.PeriodID) (*engine.PayPeriod, error) {
	return ts.parent.getPeriod(ctx, ts.q, id)
}

func (s *Store) getPeriod(ctx context.Context, q queryer, id engine.PeriodID) (*engine.PayPeriod, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+periodColumns+" FROM pay_periods WHERE id = ?", id)
	p, err := scanPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListPeriods(ctx context.Context) ([]engine.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPeriods(ctx, s.db)
}

func (ts *txStore) ListPeriods(ctx context.Context) ([]engine.PayPeriod, error) {
	return ts.parent.listPeriods(ctx, ts.q)
}

func (s *Store) listPeriods(ctx context.Context, q queryer) ([]engine.PayPeriod, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+periodColumns+" FROM pay_periods ORDER BY start_date ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query pay periods: %w", err)
	}
	defer rows.Close()

	var periods []engine.PayPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func (s *Store) OpenPeriodCovering(ctx context.Context, date time.Time) (*engine.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.periodCovering(ctx, s.db, date, true)
}

func (ts *txStore) OpenPeriodCovering(ctx context.Context, date time.Time) (*engine.PayPeriod, error) {
	return ts.parent.periodCovering(ctx, ts.q, date, true)
}

func (s *Store) PeriodCovering(ctx context.Context, date time.Time) (*engine.PayPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.periodCovering(ctx, s.db, date, false)
}

func (ts *txStore) PeriodCovering(ctx context.Context, date time.Time) (*engine.PayPeriod, error) {
	return ts.parent.periodCovering(ctx, ts.q, date, false)
}

func (s *Store) periodCovering(ctx context.Context, q queryer, date time.Time, openOnly bool) (*engine.PayPeriod, error) {
	// RFC3339 UTC strings order the same as the times they encode, so the
	// range check works as plain string comparison. End of day on end_date
	// still matches because end_date is midnight and we compare dates.
	day := formatTime(date.UTC().Truncate(24 * time.Hour))
	query := `
		SELECT ` + periodColumns + `
		FROM pay_periods
		WHERE start_date <= ? AND end_date >= ?
	`
	args := []any{day, day}
	if openOnly {
		query += " AND status = ?"
		args = append(args, string(engine.PeriodOpen))
	}
	query += " ORDER BY start_date ASC LIMIT 1"

	row := q.QueryRowContext(ctx, query, args...)
	p, err := scanPeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) UpdatePeriodStatus(ctx context.Context, id engine.PeriodID, from, to engine.PeriodStatus, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePeriodStatus(ctx, s.db, id, from, to, updatedAt)
}

func (ts *txStore) UpdatePeriodStatus(ctx context.Context, id engine.PeriodID, from, to engine.PeriodStatus, updatedAt time.Time) (bool, error) {
	return ts.parent.updatePeriodStatus(ctx, ts.q, id, from, to, updatedAt)
}

func (s *Store) updatePeriodStatus(ctx context.Context, q queryer, id engine.PeriodID, from, to engine.PeriodStatus, updatedAt time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE pay_periods SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), formatTime(updatedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update period status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanPeriod(row rowScanner) (*engine.PayPeriod, error) {
	var (
		p                    engine.PayPeriod
		status               string
		start, end           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &start, &end, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = engine.PeriodStatus(status)
	p.StartDate = parseTime(start)
	p.EndDate = parseTime(end)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// AUDIT ENTRIES (engine.AuditStore, append-only)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry engine.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(ctx, s.db, entry)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry engine.AuditEntry) error {
	return ts.parent.appendAudit(ctx, ts.q, entry)
}

func (s *Store) appendAudit(ctx context.Context, q queryer, entry engine.AuditEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, record_id, event_type, actor_id, old_value, new_value, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.RecordID, string(entry.EventType), entry.ActorID,
		entry.OldValue, entry.NewValue, entry.Notes, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AuditTrail(ctx context.Context, recordID engine.RecordID) ([]engine.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auditTrail(ctx, s.db, recordID)
}

func (ts *txStore) AuditTrail(ctx context.Context, recordID engine.RecordID) ([]engine.AuditEntry, error) {
	return ts.parent.auditTrail(ctx, ts.q, recordID)
}

func (s *Store) auditTrail(ctx context.Context, q queryer, recordID engine.RecordID) ([]engine.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, record_id, event_type, actor_id, old_value, new_value, notes, created_at
		FROM audit_entries
		WHERE record_id = ?
		ORDER BY seq ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []engine.AuditEntry
	for rows.Next() {
		var (
			entry     engine.AuditEntry
			eventType string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.RecordID, &eventType, &entry.ActorID,
			&entry.OldValue, &entry.NewValue, &entry.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.EventType = engine.AuditEventType(eventType)
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

/*
ledger.go - The commission record state machine

PURPOSE:
  CommissionLedger is the authoritative owner of per-invoice commission
  records. Every lifecycle operation couples a compare-and-swap status
  change with its audit entry in a single database transaction.

STATE MACHINE:

        create
          |
          v
      PENDING --approve--> APPROVED --pay--> PAID
          |                    |
          +--reverse/void------+
            (REVERSED/VOIDED and PAID are terminal)

CONCURRENCY:
  Operations serialize per record id through keyed locks, and the status
  swap itself is guarded in SQL (UPDATE ... WHERE status = ?). Two
  concurrent approvals on the same record: one wins, the other gets
  ErrConcurrentModification or an InvalidStateTransitionError.

ONE RECORD PER INVOICE:
  An invoice carries at most one active commission. After a reversal or
  void, a fresh record may be created for the same invoice; it references
  the superseded record.

SEE ALSO:
  - resolver.go: rate computation at creation time
  - period.go: pay-period assignment and payment runs
  - audit.go: entry types written by every transition
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// COMMISSION LEDGER
// =============================================================================

// CommissionLedger owns commission records and their lifecycle.
type CommissionLedger struct {
	store    TxStore
	resolver *RateResolver
	periods  *PayPeriodManager
	config   Config
	logger   *zap.Logger
	locks    *keyedLocks
}

func NewCommissionLedger(store TxStore, resolver *RateResolver, periods *PayPeriodManager, config Config, logger *zap.Logger) *CommissionLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommissionLedger{
		store:    store,
		resolver: resolver,
		periods:  periods,
		config:   config,
		logger:   logger,
		locks:    newKeyedLocks(),
	}
}

// CreateInput carries the invoice-sale facts posted by the upstream system.
type CreateInput struct {
	InvoiceID     InvoiceID
	InvoiceNumber string
	AgentID       AgentID
	SaleAmount    decimal.Decimal
	SaleDate      time.Time
	ActingUserID  string
}

// Create computes the commission for an invoice sale and opens a PENDING
// record, assigning it to the pay period covering the sale date (creating
// one if needed). Writes CREATED and ACCRUED audit entries atomically with
// the record itself.
//
// A TierResolutionError here is logged and returned, but must never block
// the upstream invoice posting: the caller treats commission creation as
// best-effort and retriable.
func (l *CommissionLedger) Create(ctx context.Context, in CreateInput) (*CommissionRecord, error) {
	if in.InvoiceID == "" {
		return nil, &ValidationError{Field: "invoiceId", Message: "invoice id is required"}
	}
	if in.AgentID == "" {
		return nil, &ValidationError{Field: "agentId", Message: "agent id is required"}
	}
	if in.SaleAmount.IsNegative() {
		return nil, &ValidationError{Field: "saleAmount", Message: "sale amount cannot be negative"}
	}
	if in.SaleDate.IsZero() {
		return nil, &ValidationError{Field: "saleDate", Message: "sale date is required"}
	}

	unlock := l.locks.Lock("invoice:" + string(in.InvoiceID))
	defer unlock()

	agent, err := l.store.GetAgent(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("create commission: %w", ErrAgentNotFound)
	}

	rate, amount, err := l.resolver.ComputeCommission(ctx, in.AgentID, in.SaleAmount, in.SaleDate)
	if err != nil {
		if errors.Is(err, ErrTierResolution) {
			l.logger.Warn("tier resolution failed, invoice left without commission",
				zap.String("invoice_id", string(in.InvoiceID)),
				zap.String("agent_id", string(in.AgentID)),
				zap.String("sale_amount", in.SaleAmount.String()),
				zap.Error(err))
		}
		return nil, err
	}

	now := time.Now().UTC()
	var rec *CommissionRecord

	err = l.store.WithTx(ctx, func(s Store) error {
		existing, err := s.ActiveRecordByInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &DuplicateInvoiceError{InvoiceID: in.InvoiceID, ExistingID: existing.ID}
		}

		// A prior REVERSED/VOIDED record for this invoice is superseded,
		// not forgotten.
		var supersedes RecordID
		if latest, err := s.LatestRecordByInvoice(ctx, in.InvoiceID); err != nil {
			return err
		} else if latest != nil {
			supersedes = latest.ID
		}

		period, err := l.periods.ensurePeriodIn(ctx, s, in.SaleDate)
		if err != nil {
			return err
		}

		rec = &CommissionRecord{
			ID:               RecordID(uuid.NewString()),
			InvoiceID:        in.InvoiceID,
			InvoiceNumber:    in.InvoiceNumber,
			AgentID:          in.AgentID,
			SaleAmount:       in.SaleAmount,
			SaleDate:         in.SaleDate.UTC(),
			CommissionRate:   rate,
			CommissionAmount: amount,
			Status:           StatusPending,
			PayPeriodID:      period.ID,
			SupersedesID:     supersedes,
			CreatedAt:        now,
			LastModifiedAt:   now,
		}
		if err := s.InsertRecord(ctx, *rec); err != nil {
			return err
		}

		created := AuditEntry{
			ID:        EntryID(uuid.NewString()),
			RecordID:  rec.ID,
			EventType: EventCreated,
			ActorID:   in.ActingUserID,
			Notes:     fmt.Sprintf("commission created for invoice %s", in.InvoiceNumber),
			CreatedAt: now,
		}
		if err := s.AppendAudit(ctx, created); err != nil {
			return err
		}

		accruedValue := amount.String()
		accrued := AuditEntry{
			ID:        EntryID(uuid.NewString()),
			RecordID:  rec.ID,
			EventType: EventAccrued,
			ActorID:   in.ActingUserID,
			NewValue:  &accruedValue,
			Notes:     fmt.Sprintf("accrued at %s%% of %s", rate, in.SaleAmount),
			CreatedAt: now,
		}
		return s.AppendAudit(ctx, accrued)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("commission created",
		zap.String("record_id", string(rec.ID)),
		zap.String("invoice_id", string(in.InvoiceID)),
		zap.String("amount", amount.String()))
	return rec, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// Approve moves a PENDING record to APPROVED.
func (l *CommissionLedger) Approve(ctx context.Context, id RecordID, actingUserID string) (*CommissionRecord, error) {
	return l.transition(ctx, transitionSpec{
		op:      "approve",
		id:      id,
		from:    []CommissionStatus{StatusPending},
		to:      StatusApproved,
		event:   EventApproved,
		actorID: actingUserID,
	})
}

// MarkPaid moves an APPROVED record to PAID, stamping the payment reference.
func (l *CommissionLedger) MarkPaid(ctx context.Context, id RecordID, actingUserID, paymentRef string) (*CommissionRecord, error) {
	if paymentRef == "" {
		return nil, &ValidationError{Field: "paymentReference", Message: "payment reference is required"}
	}
	return l.transition(ctx, transitionSpec{
		op:         "markPaid",
		id:         id,
		from:       []CommissionStatus{StatusApproved},
		to:         StatusPaid,
		event:      EventPaid,
		actorID:    actingUserID,
		paymentRef: paymentRef,
		notes:      fmt.Sprintf("paid (ref %s)", paymentRef),
	})
}

// Reverse terminally reverses a PENDING or APPROVED record. A non-empty
// reason is mandatory.
func (l *CommissionLedger) Reverse(ctx context.Context, id RecordID, reason, actingUserID string) (*CommissionRecord, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "reversal reason is required"}
	}
	return l.transition(ctx, transitionSpec{
		op:      "reverse",
		id:      id,
		from:    []CommissionStatus{StatusPending, StatusApproved},
		to:      StatusReversed,
		event:   EventReversed,
		actorID: actingUserID,
		notes:   reason,
	})
}

// Void terminally voids a record from any non-terminal state. A non-empty
// reason is mandatory.
func (l *CommissionLedger) Void(ctx context.Context, id RecordID, reason, actingUserID string) (*CommissionRecord, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "void reason is required"}
	}
	return l.transition(ctx, transitionSpec{
		op:      "void",
		id:      id,
		from:    []CommissionStatus{StatusPending, StatusApproved},
		to:      StatusVoided,
		event:   EventVoided,
		actorID: actingUserID,
		notes:   reason,
	})
}

// Adjust rewrites the commission amount of a PENDING record during the
// configured grace window. The old and new amounts land in the ADJUSTED
// audit entry; the amount is never silently overwritten outside it.
func (l *CommissionLedger) Adjust(ctx context.Context, id RecordID, newAmount decimal.Decimal, reason, actingUserID string) (*CommissionRecord, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "adjustment reason is required"}
	}
	if !newAmount.IsPositive() {
		return nil, &ValidationError{Field: "newAmount", Message: "commission amount must be positive"}
	}

	unlock := l.locks.Lock(string(id))
	defer unlock()

	now := time.Now().UTC()
	var out *CommissionRecord

	err := l.store.WithTx(ctx, func(s Store) error {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrRecordNotFound
		}
		if rec.Status != StatusPending {
			return &InvalidStateTransitionError{Op: "adjust", ID: string(id), From: string(rec.Status), To: string(StatusPending)}
		}
		if deadline := rec.GracePeriodEnd(l.config.GracePeriodDays); now.After(deadline) {
			return &GracePeriodExpiredError{RecordID: id, CreatedAt: rec.CreatedAt, Deadline: deadline}
		}
		if newAmount.GreaterThan(rec.CommissionAmount) {
			return &ValidationError{Field: "newAmount", Message: "adjusted amount cannot exceed current amount"}
		}

		ok, err := s.UpdateRecordAmount(ctx, id, newAmount, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentModification
		}

		oldValue := rec.CommissionAmount.String()
		newValue := newAmount.String()
		entry := AuditEntry{
			ID:        EntryID(uuid.NewString()),
			RecordID:  id,
			EventType: EventAdjusted,
			ActorID:   actingUserID,
			OldValue:  &oldValue,
			NewValue:  &newValue,
			Notes:     reason,
			CreatedAt: now,
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}

		rec.CommissionAmount = newAmount
		rec.LastModifiedAt = now
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a record by id.
func (l *CommissionLedger) Get(ctx context.Context, id RecordID) (*CommissionRecord, error) {
	rec, err := l.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// GetByInvoice returns the active record for an invoice.
func (l *CommissionLedger) GetByInvoice(ctx context.Context, invoiceID InvoiceID) (*CommissionRecord, error) {
	rec, err := l.store.ActiveRecordByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// List returns records matching the filter.
func (l *CommissionLedger) List(ctx context.Context, filter RecordFilter) ([]CommissionRecord, error) {
	return l.store.ListRecords(ctx, filter)
}

// =============================================================================
// TRANSITION PLUMBING
// =============================================================================

type transitionSpec struct {
	op         string
	id         RecordID
	from       []CommissionStatus
	to         CommissionStatus
	event      AuditEventType
	actorID    string
	paymentRef string
	notes      string
}

func (l *CommissionLedger) transition(ctx context.Context, spec transitionSpec) (*CommissionRecord, error) {
	unlock := l.locks.Lock(string(spec.id))
	defer unlock()

	now := time.Now().UTC()
	var out *CommissionRecord

	err := l.store.WithTx(ctx, func(s Store) error {
		rec, err := s.GetRecord(ctx, spec.id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrRecordNotFound
		}

		legal := false
		for _, from := range spec.from {
			if rec.Status == from {
				legal = true
				break
			}
		}
		if !legal {
			return &InvalidStateTransitionError{Op: spec.op, ID: string(spec.id), From: string(rec.Status), To: string(spec.to)}
		}

		ok, err := s.UpdateRecordStatus(ctx, spec.id, rec.Status, spec.to, spec.paymentRef, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentModification
		}

		entry := AuditEntry{
			ID:        EntryID(uuid.NewString()),
			RecordID:  spec.id,
			EventType: spec.event,
			ActorID:   spec.actorID,
			Notes:     spec.notes,
			CreatedAt: now,
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}

		rec.Status = spec.to
		if spec.paymentRef != "" {
			rec.PaymentReference = spec.paymentRef
		}
		rec.LastModifiedAt = now
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("commission transition",
		zap.String("record_id", string(spec.id)),
		zap.String("op", spec.op),
		zap.String("status", string(spec.to)))
	return out, nil
}

/*
audit.go - Append-only audit trail for commission records

PURPOSE:
  Every state change to a commission record produces exactly one audit
  entry, written in the same database transaction as the change itself.
  The trail is the full explanation of how a record reached its current
  state.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. SYNCHRONOUS: written inside the ledger/period transaction, so a
     visible state change always has its entry and vice versa
  3. BOUNDED: the state machine caps the trail at a handful of entries
     per record, so reads are always finite

WHO WRITES:
  Only CommissionLedger and PayPeriodManager append entries, as part of
  their atomic transitions. External callers read via Trail().

SEE ALSO:
  - ledger.go: writes CREATED/ACCRUED/ADJUSTED/APPROVED/PAID/REVERSED/VOIDED
  - store.go: AuditStore interface
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditEventType string

const (
	EventCreated  AuditEventType = "CREATED"
	EventAccrued  AuditEventType = "ACCRUED"
	EventAdjusted AuditEventType = "ADJUSTED"
	EventApproved AuditEventType = "APPROVED"
	EventPaid     AuditEventType = "PAID"
	EventReversed AuditEventType = "REVERSED"
	EventVoided   AuditEventType = "VOIDED"
)

// AuditEntry records who did what to a commission record, when.
// OldValue/NewValue are set for ADJUSTED (the amounts) and otherwise nil.
type AuditEntry struct {
	ID        EntryID
	RecordID  RecordID
	EventType AuditEventType
	ActorID   string
	OldValue  *string
	NewValue  *string
	Notes     string
	CreatedAt time.Time
}

// =============================================================================
// AUDIT TRAIL - Read-side wrapper
// =============================================================================

// AuditTrail exposes the read side of the audit log. Appends go through
// the store inside ledger transactions, never through this type.
type AuditTrail struct {
	store AuditStore
}

func NewAuditTrail(store AuditStore) *AuditTrail {
	return &AuditTrail{store: store}
}

// Trail returns the entries for a record in creation order.
func (a *AuditTrail) Trail(ctx context.Context, recordID RecordID) ([]AuditEntry, error) {
	return a.store.AuditTrail(ctx, recordID)
}

/*
store.go - Persistence interfaces for the commission engine

PURPOSE:
  Defines the boundary between domain logic and the database. The engine
  only ever talks to these interfaces; store/sqlite provides the concrete
  implementation.

APPEND-ONLY CONTRACT:
  audit_entries and plan_assignments are insert-only. There is no update
  or delete method for either; corrections happen through new rows
  (a new assignment, a new audit event).

OPTIMISTIC CONCURRENCY:
  Status changes on records and periods go through compare-and-swap
  updates (UPDATE ... WHERE id=? AND status=?). A swap that matches zero
  rows means another writer won; the engine surfaces that as
  ErrConcurrentModification or an InvalidStateTransitionError depending
  on what it re-reads.

ATOMICITY:
  Every lifecycle transition couples a status change with its audit entry
  inside WithTx. Either both land or neither does.

SEE ALSO:
  - store/sqlite/sqlite.go: concrete implementation
  - ledger.go: the main consumer of RecordStore + AuditStore
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN / AGENT / ASSIGNMENT STORES
// =============================================================================

type PlanStore interface {
	SavePlan(ctx context.Context, plan CommissionPlan) error
	GetPlan(ctx context.Context, id PlanID) (*CommissionPlan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]CommissionPlan, error)
	// DeletePlan hard-deletes a plan. Only legal for plans that were never
	// assigned; the catalog enforces that and soft-deactivates otherwise.
	DeletePlan(ctx context.Context, id PlanID) error
}

type AgentStore interface {
	SaveAgent(ctx context.Context, agent Agent) error
	GetAgent(ctx context.Context, id AgentID) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
}

// AssignmentStore is insert-only: assignments are immutable history.
type AssignmentStore interface {
	SaveAssignment(ctx context.Context, a PlanAssignment) error
	// AssignmentsByAgent returns all assignments for the agent ordered by
	// effective date ascending.
	AssignmentsByAgent(ctx context.Context, agentID AgentID) ([]PlanAssignment, error)
	PlanHasAssignments(ctx context.Context, planID PlanID) (bool, error)
}

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordFilter narrows ListRecords. Zero values mean "no filter".
type RecordFilter struct {
	Status      CommissionStatus
	AgentID     AgentID
	PayPeriodID PeriodID
	InvoiceID   InvoiceID
	Since       time.Time
	Limit       int
}

type RecordStore interface {
	InsertRecord(ctx context.Context, rec CommissionRecord) error
	GetRecord(ctx context.Context, id RecordID) (*CommissionRecord, error)
	// ActiveRecordByInvoice returns the non-REVERSED/VOIDED record for the
	// invoice, or nil when the invoice has no active commission.
	ActiveRecordByInvoice(ctx context.Context, invoiceID InvoiceID) (*CommissionRecord, error)
	// LatestRecordByInvoice returns the most recent record regardless of
	// status, or nil. Used to link superseding records.
	LatestRecordByInvoice(ctx context.Context, invoiceID InvoiceID) (*CommissionRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]CommissionRecord, error)

	// UpdateRecordStatus performs the compare-and-swap status transition,
	// also stamping payment reference (may be empty) and last-modified time.
	// Returns false when the record was not in the expected `from` status.
	UpdateRecordStatus(ctx context.Context, id RecordID, from, to CommissionStatus, paymentRef string, modifiedAt time.Time) (bool, error)

	// UpdateRecordAmount rewrites the commission amount during the grace
	// window. Legal only while the record is PENDING; the guard is part of
	// the statement, and false means the guard failed.
	UpdateRecordAmount(ctx context.Context, id RecordID, amount decimal.Decimal, modifiedAt time.Time) (bool, error)
}

// =============================================================================
// PERIOD STORE
// =============================================================================

type PeriodStore interface {
	InsertPeriod(ctx context.Context, p PayPeriod) error
	GetPeriod(ctx context.Context, id PeriodID) (*PayPeriod, error)
	ListPeriods(ctx context.Context) ([]PayPeriod, error)
	// OpenPeriodCovering returns the OPEN period whose date range contains
	// the given date, or nil.
	OpenPeriodCovering(ctx context.Context, date time.Time) (*PayPeriod, error)
	// PeriodCovering returns any period containing the date, or nil.
	PeriodCovering(ctx context.Context, date time.Time) (*PayPeriod, error)
	// UpdatePeriodStatus is the compare-and-swap guard on the period
	// lifecycle. Returns false when the period was not in `from`.
	UpdatePeriodStatus(ctx context.Context, id PeriodID, from, to PeriodStatus, updatedAt time.Time) (bool, error)
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

type AuditStore interface {
	// AppendAudit persists an entry. This is the only write operation;
	// entries are never updated or deleted.
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// AuditTrail returns entries for a record in append order.
	AuditTrail(ctx context.Context, recordID RecordID) ([]AuditEntry, error)
}

// =============================================================================
// COMBINED STORE + TRANSACTIONS
// =============================================================================

// Store aggregates every persistence concern the engine needs.
type Store interface {
	PlanStore
	AgentStore
	AssignmentStore
	RecordStore
	PeriodStore
	AuditStore
}

// TxStore adds transaction support. Lifecycle transitions require it:
// the status swap and its audit entry must commit together.
type TxStore interface {
	Store

	// WithTx executes fn within a database transaction. fn receives a
	// Store bound to that transaction; returning an error rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

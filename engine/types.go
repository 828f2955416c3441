/*
Package engine implements the commission engine for the steel-trading backend.

PURPOSE:
  This package contains the domain types and operations for computing,
  tracking, and settling sales commissions: tiered rate plans, per-invoice
  commission records with an approval/payment lifecycle, pay-period
  aggregation, bulk workflow actions, and an append-only audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - CommissionPlan / Tier: rate schedules bracketed by sale amount
  - PlanAssignment: effective-dated link between an agent and a plan
  - CommissionRecord: one commission per invoice, with lifecycle status
  - PayPeriod: accounting bucket grouping records by sale date
  - Agent: sales person referenced by assignments and records

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all amounts and rates, never float64
  2. Immutability: assignments and audit entries are insert-only
  3. Type Safety: distinct ID types prevent mixing plan/agent/record ids
  4. Explicit identity: every mutation carries the acting user id

SEE ALSO:
  - plan.go: plan validation and catalog operations
  - ledger.go: the commission record state machine
  - period.go: pay-period lifecycle and aggregation
  - audit.go: audit trail types
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	PlanID       string
	AssignmentID string
	AgentID      string
	RecordID     string
	PeriodID     string
	EntryID      string
	InvoiceID    string
)

// =============================================================================
// COMMISSION PLAN - Tiered rate schedule
// =============================================================================

// Tier is a sale-amount bracket with a flat commission rate.
// The bracket is half-open: [MinAmount, MaxAmount). A nil MaxAmount means
// the bracket is unbounded above.
type Tier struct {
	MinAmount decimal.Decimal
	MaxAmount *decimal.Decimal
	Rate      decimal.Decimal // percent, 0-100
}

// Contains reports whether the sale amount falls inside this bracket.
// Lower bound inclusive, upper bound exclusive.
func (t Tier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	if t.MaxAmount != nil && amount.GreaterThanOrEqual(*t.MaxAmount) {
		return false
	}
	return true
}

// CommissionPlan is a named rate schedule. Tiers are kept sorted ascending
// by MinAmount and partition [0, inf) with no gaps or overlaps.
type CommissionPlan struct {
	ID          PlanID
	Name        string
	Description string
	IsActive    bool
	Tiers       []Tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlanAssignment links an agent to a plan from an effective date onward.
// Assignments are immutable once written: corrections create a new
// assignment with a new effective date, never rewrite history.
type PlanAssignment struct {
	ID            AssignmentID
	AgentID       AgentID
	PlanID        PlanID
	EffectiveDate time.Time
	CreatedAt     time.Time
	CreatedBy     string
}

// =============================================================================
// AGENT - Sales person
// =============================================================================

// Agent is a sales person. DefaultRate, when set, is the flat fallback
// percentage used if no plan assignment covers a sale date.
type Agent struct {
	ID          AgentID
	Name        string
	Email       string
	DefaultRate *decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
}

// =============================================================================
// COMMISSION RECORD - One commission per invoice
// =============================================================================

type CommissionStatus string

const (
	StatusPending  CommissionStatus = "PENDING"
	StatusApproved CommissionStatus = "APPROVED"
	StatusPaid     CommissionStatus = "PAID"
	StatusReversed CommissionStatus = "REVERSED"
	StatusVoided   CommissionStatus = "VOIDED"
)

// ValidStatus reports whether s is a known commission status.
func ValidStatus(s CommissionStatus) bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusReversed, StatusVoided:
		return true
	}
	return false
}

// CommissionRecord is the authoritative per-invoice commission. The amount
// is computed once at creation; later corrections are ADJUSTED audit events
// plus a new amount, never a silent overwrite.
type CommissionRecord struct {
	ID               RecordID
	InvoiceID        InvoiceID
	InvoiceNumber    string
	AgentID          AgentID
	SaleAmount       decimal.Decimal
	SaleDate         time.Time
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	Status           CommissionStatus
	PayPeriodID      PeriodID
	PaymentReference string
	// SupersedesID links a re-created record to the REVERSED/VOIDED one it
	// replaces for the same invoice.
	SupersedesID   RecordID
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// GracePeriodEnd returns the deadline for amount adjustments.
func (r CommissionRecord) GracePeriodEnd(graceDays int) time.Time {
	return r.CreatedAt.Add(time.Duration(graceDays) * 24 * time.Hour)
}

// =============================================================================
// PAY PERIOD - Settlement bucket
// =============================================================================

type PeriodStatus string

const (
	PeriodOpen       PeriodStatus = "OPEN"
	PeriodClosed     PeriodStatus = "CLOSED"
	PeriodProcessing PeriodStatus = "PROCESSING"
	PeriodPaid       PeriodStatus = "PAID"
)

// PayPeriod groups commission records by sale-date range. Lifecycle is
// strictly linear: OPEN -> CLOSED -> PROCESSING -> PAID.
type PayPeriod struct {
	ID        PeriodID
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PeriodSummary carries the derived aggregates for a period. These are
// recomputed from member records on every read, never cached as truth.
type PeriodSummary struct {
	Period          PayPeriod
	TotalAmount     decimal.Decimal
	AgentCount      int
	CommissionCount int
	StatusCounts    map[CommissionStatus]int
}

// =============================================================================
// ENGINE CONFIG - Policy knobs
// =============================================================================

// Config holds policy values the business has not pinned down as constants.
type Config struct {
	// GracePeriodDays is the adjustment window after record creation.
	GracePeriodDays int

	// DefaultRate is the flat fallback percentage when neither a plan
	// assignment nor an agent-level default covers a sale.
	DefaultRate decimal.Decimal

	// RequireApprovalBeforeClose makes ClosePeriod fail while any member
	// record is still PENDING.
	RequireApprovalBeforeClose bool
}

// DefaultConfig mirrors the policy the frontend assumes: a 15-day
// adjustment window and no automatic fallback rate.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays: 15,
		DefaultRate:     decimal.Zero,
	}
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses s, returning zero on malformed input. Test helper
// convenience, mirrors decimal.RequireFromString without the panic.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr returns a pointer to d. Useful for optional tier bounds.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

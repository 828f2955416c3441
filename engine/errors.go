/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; bulk operations surface them
  per item instead of aborting the batch.

ERROR CATEGORIES:
  1. Validation errors - bad plan/tier/request input, rejected before persistence
  2. Not-found errors  - unknown plan/agent/record/period
  3. Conflict errors   - duplicate invoices, illegal lifecycle moves,
                         concurrent modification

USAGE:
  if errors.Is(err, engine.ErrNoPlanAssigned) { ... }

  var stateErr *engine.InvalidStateTransitionError
  if errors.As(err, &stateErr) { ... }
*/
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("commission plan not found")

	// ErrPlanInactive is returned when assigning a soft-deactivated plan.
	ErrPlanInactive = errors.New("commission plan is inactive")

	// ErrAgentNotFound is returned when a referenced agent doesn't exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrRecordNotFound is returned when a commission record doesn't exist.
	ErrRecordNotFound = errors.New("commission record not found")

	// ErrPeriodNotFound is returned when a pay period doesn't exist.
	ErrPeriodNotFound = errors.New("pay period not found")

	// ErrNoPlanAssigned is returned when no assignment covers the sale date.
	// RateResolver owns the fallback policy; callers normally never see this.
	ErrNoPlanAssigned = errors.New("no commission plan assigned")

	// ErrConcurrentModification is returned when the compare-and-swap status
	// update detects that another writer got there first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidTransition is the sentinel under InvalidStateTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGracePeriodExpired is the sentinel under GracePeriodExpiredError.
	ErrGracePeriodExpired = errors.New("grace period expired")

	// ErrDuplicateInvoice is the sentinel under DuplicateInvoiceError.
	ErrDuplicateInvoice = errors.New("active commission already exists for invoice")

	// ErrTierResolution is the sentinel under TierResolutionError.
	ErrTierResolution = errors.New("no tier matches sale amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports invalid caller input, rejected before persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DuplicateInvoiceError is returned when creating a commission for an
// invoice that already has an active (non-REVERSED/VOIDED) record.
type DuplicateInvoiceError struct {
	InvoiceID  InvoiceID
	ExistingID RecordID
}

func (e *DuplicateInvoiceError) Error() string {
	return fmt.Sprintf("invoice %s already has active commission %s", e.InvoiceID, e.ExistingID)
}

func (e *DuplicateInvoiceError) Unwrap() error { return ErrDuplicateInvoice }

// InvalidStateTransitionError reports an illegal lifecycle move on a
// commission record or pay period.
type InvalidStateTransitionError struct {
	Op   string // "approve", "markPaid", "adjust", "reverse", "void", "close", "process"
	ID   string
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s: illegal transition %s -> %s", e.Op, e.ID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidTransition }

// GracePeriodExpiredError reports an adjustment attempted past the window.
type GracePeriodExpiredError struct {
	RecordID  RecordID
	CreatedAt time.Time
	Deadline  time.Time
}

func (e *GracePeriodExpiredError) Error() string {
	return fmt.Sprintf("grace period for commission %s expired %s",
		e.RecordID, e.Deadline.UTC().Format("2006-01-02"))
}

func (e *GracePeriodExpiredError) Unwrap() error { return ErrGracePeriodExpired }

// TierResolutionError reports a gap in a plan's tier schedule. This is a
// data-integrity failure: creation aborts but the upstream invoice posting
// must not be blocked by it.
type TierResolutionError struct {
	PlanID     PlanID
	SaleAmount decimal.Decimal
}

func (e *TierResolutionError) Error() string {
	return fmt.Sprintf("plan %s has no tier covering sale amount %s", e.PlanID, e.SaleAmount)
}

func (e *TierResolutionError) Unwrap() error { return ErrTierResolution }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrNoPlanAssigned)
}

// IsConflict reports whether the error is a state or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError reports whether the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrGracePeriodExpired) ||
		IsConflict(err)
}

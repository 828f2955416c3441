/*
plan.go - Commission plan catalog and tier validation

PURPOSE:
  Owns commission plans (tiered rate schedules) and agent-plan
  assignments. Validation happens here, before anything is persisted:
  a plan's tiers must partition [0, inf) with no gaps and no overlaps.

TIER INVARIANT:
  - at least one tier
  - sorted ascending by MinAmount, first MinAmount == 0
  - each tier's MaxAmount equals the next tier's MinAmount
  - the last tier is unbounded (MaxAmount == nil)
  - rates are percentages in [0, 100]

ASSIGNMENT MODEL:
  An agent holds a history of assignments. The one with the latest
  effective date <= the sale date is authoritative. Assignments are
  never mutated; corrections add a new assignment. Backdating is
  permitted (and audited through the assignment row itself).

SEE ALSO:
  - resolver.go: consumes ResolveActivePlan for rate computation
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// TIER VALIDATION
// =============================================================================

// ValidateTiers enforces the partition invariant on a tier schedule.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return &ValidationError{Field: "tiers", Message: "plan must have at least one tier"}
	}

	for i, t := range tiers {
		if t.MinAmount.IsNegative() {
			return &ValidationError{Field: "tiers", Message: fmt.Sprintf("tier %d has negative min amount", i)}
		}
		if t.Rate.IsNegative() || t.Rate.GreaterThan(hundred) {
			return &ValidationError{Field: "tiers", Message: fmt.Sprintf("tier %d rate must be between 0 and 100", i)}
		}
		if t.MaxAmount != nil && !t.MaxAmount.GreaterThan(t.MinAmount) {
			return &ValidationError{Field: "tiers", Message: fmt.Sprintf("tier %d max amount must exceed min amount", i)}
		}
	}

	if !tiers[0].MinAmount.IsZero() {
		return &ValidationError{Field: "tiers", Message: "first tier must start at 0"}
	}

	for i := 0; i < len(tiers)-1; i++ {
		if tiers[i].MaxAmount == nil {
			return &ValidationError{Field: "tiers", Message: fmt.Sprintf("tier %d is unbounded but not last", i)}
		}
		// No gap, no overlap: next bracket starts exactly where this ends.
		if !tiers[i].MaxAmount.Equal(tiers[i+1].MinAmount) {
			return &ValidationError{Field: "tiers", Message: fmt.Sprintf("tier %d and %d do not form a contiguous partition", i, i+1)}
		}
	}

	if tiers[len(tiers)-1].MaxAmount != nil {
		return &ValidationError{Field: "tiers", Message: "last tier must be unbounded"}
	}

	return nil
}

// FindTier returns the single tier containing the amount, or an error on a
// schedule gap. Lower bound inclusive, upper bound exclusive.
func FindTier(tiers []Tier, amount decimal.Decimal) (Tier, error) {
	for _, t := range tiers {
		if t.Contains(amount) {
			return t, nil
		}
	}
	return Tier{}, ErrTierResolution
}

// =============================================================================
// PLAN CATALOG
// =============================================================================

// PlanCatalog stores commission plans and agent-plan assignments.
type PlanCatalog struct {
	store Store
}

func NewPlanCatalog(store Store) *PlanCatalog {
	return &PlanCatalog{store: store}
}

// CreatePlan validates the tier schedule and persists a new plan.
func (c *PlanCatalog) CreatePlan(ctx context.Context, name, description string, tiers []Tier, isActive bool) (*CommissionPlan, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "plan name is required"}
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	plan := CommissionPlan{
		ID:          PlanID(uuid.NewString()),
		Name:        name,
		Description: description,
		IsActive:    isActive,
		Tiers:       tiers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.store.SavePlan(ctx, plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// UpdatePlan replaces a plan's name, description, tiers, and active flag.
// Tier edits are re-validated against the partition invariant.
func (c *PlanCatalog) UpdatePlan(ctx context.Context, id PlanID, name, description string, tiers []Tier, isActive bool) (*CommissionPlan, error) {
	existing, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPlanNotFound
	}
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "plan name is required"}
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}

	existing.Name = name
	existing.Description = description
	existing.Tiers = tiers
	existing.IsActive = isActive
	existing.UpdatedAt = time.Now().UTC()

	if err := c.store.SavePlan(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeletePlan removes a plan. Plans that have ever been assigned are
// soft-deactivated instead of hard-deleted so historical rate lookups
// keep working. Returns true when the plan was only deactivated.
func (c *PlanCatalog) DeletePlan(ctx context.Context, id PlanID) (deactivatedOnly bool, err error) {
	plan, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return false, err
	}
	if plan == nil {
		return false, ErrPlanNotFound
	}

	assigned, err := c.store.PlanHasAssignments(ctx, id)
	if err != nil {
		return false, err
	}
	if assigned {
		plan.IsActive = false
		plan.UpdatedAt = time.Now().UTC()
		return true, c.store.SavePlan(ctx, *plan)
	}
	return false, c.store.DeletePlan(ctx, id)
}

// GetPlan returns a plan by id.
func (c *PlanCatalog) GetPlan(ctx context.Context, id PlanID) (*CommissionPlan, error) {
	plan, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// ListPlans returns plans, optionally only active ones.
func (c *PlanCatalog) ListPlans(ctx context.Context, activeOnly bool) ([]CommissionPlan, error) {
	return c.store.ListPlans(ctx, activeOnly)
}

// AssignPlan links an agent to a plan from the effective date onward.
// Inactive plans cannot take new assignments.
func (c *PlanCatalog) AssignPlan(ctx context.Context, agentID AgentID, planID PlanID, effectiveDate time.Time, actingUserID string) (*PlanAssignment, error) {
	plan, err := c.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("assign plan %s: %w", planID, ErrPlanInactive)
	}

	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}

	assignment := PlanAssignment{
		ID:            AssignmentID(uuid.NewString()),
		AgentID:       agentID,
		PlanID:        planID,
		EffectiveDate: effectiveDate.UTC().Truncate(24 * time.Hour),
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     actingUserID,
	}
	if err := c.store.SaveAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ResolveActivePlan returns the plan from the assignment with the latest
// effective date <= asOf. ErrNoPlanAssigned when no assignment covers it.
func (c *PlanCatalog) ResolveActivePlan(ctx context.Context, agentID AgentID, asOf time.Time) (*CommissionPlan, error) {
	assignments, err := c.store.AssignmentsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	day := asOf.UTC().Truncate(24 * time.Hour)
	var current *PlanAssignment
	for i := range assignments {
		a := assignments[i]
		if a.EffectiveDate.After(day) {
			continue
		}
		if current == nil || a.EffectiveDate.After(current.EffectiveDate) {
			current = &assignments[i]
		}
	}
	if current == nil {
		return nil, ErrNoPlanAssigned
	}

	plan, err := c.store.GetPlan(ctx, current.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		// Assignment pointing at a missing plan is corrupt data.
		return nil, errors.Join(ErrPlanNotFound, fmt.Errorf("assignment %s references plan %s", current.ID, current.PlanID))
	}
	return plan, nil
}

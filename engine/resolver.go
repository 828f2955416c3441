/*
resolver.go - Rate resolution and commission computation

PURPOSE:
  Given a sales person and a sale (amount + date), resolve the applicable
  plan and compute the commission. The whole sale amount is rated at the
  single matching tier - tiers are NOT applied progressively/marginally.
  That is a deliberate business rule: the source system displays one flat
  percentage per bracket with no blended calculation across brackets.

FALLBACK POLICY (owned here, not by the catalog):
  1. plan resolved from the agent's assignments
  2. agent-level default rate, when configured
  3. engine-wide Config.DefaultRate

EDGE CASES:
  - saleAmount == 0 selects tier 0 and yields amount 0
  - amounts exactly on a boundary belong to the tier whose MinAmount
    equals them (half-open brackets, lower bound inclusive)
  - a schedule gap yields TierResolutionError; the caller logs it and
    leaves the invoice commission-less rather than blocking invoicing
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateResolver computes commission rates and amounts.
type RateResolver struct {
	catalog *PlanCatalog
	store   AgentStore
	config  Config
}

func NewRateResolver(catalog *PlanCatalog, store AgentStore, config Config) *RateResolver {
	return &RateResolver{catalog: catalog, store: store, config: config}
}

// ComputeCommission resolves the rate for the sale and returns
// (rate percent, commission amount). The amount is rounded to 2 places.
func (r *RateResolver) ComputeCommission(ctx context.Context, agentID AgentID, saleAmount decimal.Decimal, saleDate time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if saleAmount.IsNegative() {
		return decimal.Zero, decimal.Zero, &ValidationError{Field: "saleAmount", Message: "sale amount cannot be negative"}
	}

	rate, err := r.resolveRate(ctx, agentID, saleAmount, saleDate)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	amount := saleAmount.Mul(rate).Div(hundred).Round(2)
	return rate, amount, nil
}

func (r *RateResolver) resolveRate(ctx context.Context, agentID AgentID, saleAmount decimal.Decimal, saleDate time.Time) (decimal.Decimal, error) {
	plan, err := r.catalog.ResolveActivePlan(ctx, agentID, saleDate)
	if err == nil {
		tier, terr := FindTier(plan.Tiers, saleAmount)
		if terr != nil {
			return decimal.Zero, &TierResolutionError{PlanID: plan.ID, SaleAmount: saleAmount}
		}
		return tier.Rate, nil
	}
	if !errors.Is(err, ErrNoPlanAssigned) {
		return decimal.Zero, err
	}

	// No plan covers the sale date: fall back to the agent's flat rate,
	// then the engine default.
	agent, aerr := r.store.GetAgent(ctx, agentID)
	if aerr != nil {
		return decimal.Zero, aerr
	}
	if agent == nil {
		return decimal.Zero, fmt.Errorf("resolve rate: %w", ErrAgentNotFound)
	}
	if agent.DefaultRate != nil {
		return *agent.DefaultRate, nil
	}
	return r.config.DefaultRate, nil
}

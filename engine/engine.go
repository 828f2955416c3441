/*
engine.go - Component wiring and agent management

PURPOSE:
  Engine bundles the catalog, resolver, ledger, period manager, workflow,
  and audit trail over a single store, in the dependency order they need.
  The API layer holds one Engine and nothing else.
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine wires every commission component over one store.
type Engine struct {
	Catalog  *PlanCatalog
	Resolver *RateResolver
	Ledger   *CommissionLedger
	Periods  *PayPeriodManager
	Workflow *ApprovalWorkflow
	Audit    *AuditTrail

	store  TxStore
	config Config
}

// New wires the engine. A nil logger disables logging.
func New(store TxStore, config Config, logger *zap.Logger) *Engine {
	if config.GracePeriodDays <= 0 {
		config.GracePeriodDays = DefaultConfig().GracePeriodDays
	}

	catalog := NewPlanCatalog(store)
	resolver := NewRateResolver(catalog, store, config)
	periods := NewPayPeriodManager(store, config, logger)
	ledger := NewCommissionLedger(store, resolver, periods, config, logger)
	periods.ledger = ledger

	return &Engine{
		Catalog:  catalog,
		Resolver: resolver,
		Ledger:   ledger,
		Periods:  periods,
		Workflow: NewApprovalWorkflow(ledger, store, config),
		Audit:    NewAuditTrail(store),
		store:    store,
		config:   config,
	}
}

// Config returns the policy configuration the engine was wired with.
func (e *Engine) Config() Config { return e.config }

// =============================================================================
// AGENT MANAGEMENT
// =============================================================================

// UpsertAgent creates or updates an agent's commission settings.
func (e *Engine) UpsertAgent(ctx context.Context, id AgentID, name, email string, defaultRate *decimal.Decimal, isActive bool) (*Agent, error) {
	if id == "" {
		id = AgentID(uuid.NewString())
	}
	if defaultRate != nil && (defaultRate.IsNegative() || defaultRate.GreaterThan(hundred)) {
		return nil, &ValidationError{Field: "defaultRate", Message: "rate must be between 0 and 100"}
	}

	existing, err := e.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	agent := Agent{
		ID:          id,
		Name:        name,
		Email:       email,
		DefaultRate: defaultRate,
		IsActive:    isActive,
		CreatedAt:   time.Now().UTC(),
	}
	if existing != nil {
		agent.CreatedAt = existing.CreatedAt
		if agent.Name == "" {
			agent.Name = existing.Name
		}
		if agent.Email == "" {
			agent.Email = existing.Email
		}
	} else if agent.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "agent name is required"}
	}

	if err := e.store.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent returns an agent by id.
func (e *Engine) GetAgent(ctx context.Context, id AgentID) (*Agent, error) {
	agent, err := e.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// ListAgents returns all agents.
func (e *Engine) ListAgents(ctx context.Context) ([]Agent, error) {
	return e.store.ListAgents(ctx)
}

/*
Package sqlite provides the SQLite-backed implementation of the engine
storage interfaces.

PURPOSE:
  Implements engine.TxStore over database/sql + mattn/go-sqlite3. The
  same patterns apply to PostgreSQL in production - only dialect details
  differ.

KEY TABLES:
  plans               rate schedules, tiers as a JSON column
  agents              sales people and their fallback rates
  plan_assignments    effective-dated agent-plan links (insert-only)
  commission_records  one commission per invoice, lifecycle status
  pay_periods         settlement buckets
  audit_entries       append-only event log (no UPDATE, no DELETE)

INVARIANTS ENFORCED HERE:
  - A partial unique index keeps at most one active (non-REVERSED/VOIDED)
    commission per invoice, backstopping the engine's check.
  - Status changes are compare-and-swap: UPDATE ... WHERE status = ?, and
    the affected-row count tells the engine whether it won.
  - audit_entries ordering is (created_at, seq) with seq monotonically
    increasing, so trails read back in append order.

CONCURRENCY:
  sync.RWMutex on top of WAL mode. WithTx runs the callback against a
  transaction-bound store; the inner store never re-takes the mutex, so
  reads inside a transaction can't deadlock against the writer lock.

DECIMALS AND DATES:
  decimal values are stored as TEXT via String() to keep exactness;
  timestamps are RFC3339 UTC TEXT, which also compares correctly as
  strings in range queries.

SEE ALSO:
  - engine/store.go: interface contracts
  - records.go: commission record, pay period, and audit persistence
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/steeltrade/commission-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and a pooled
	// ":memory:" database would otherwise be a different database per
	// connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		tiers_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		default_rate TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Insert-only: assignments are immutable history.
	CREATE TABLE IF NOT EXISTS plan_assignments (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_agent
		ON plan_assignments(agent_id, effective_date);
	CREATE INDEX IF NOT EXISTS idx_assignments_plan
		ON plan_assignments(plan_id);

	CREATE TABLE IF NOT EXISTS commission_records (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		sale_amount TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		pay_period_id TEXT NOT NULL,
		payment_reference TEXT NOT NULL DEFAULT '',
		supersedes_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_modified_at TEXT NOT NULL
	);

	-- At most one active commission per invoice. Reversed/voided records
	-- stay behind for history and supersede links.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_active_invoice
		ON commission_records(invoice_id)
		WHERE status NOT IN ('REVERSED', 'VOIDED');

	CREATE INDEX IF NOT EXISTS idx_records_status
		ON commission_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_agent
		ON commission_records(agent_id, sale_date);
	CREATE INDEX IF NOT EXISTS idx_records_period
		ON commission_records(pay_period_id);
	CREATE INDEX IF NOT EXISTS idx_records_invoice
		ON commission_records(invoice_id, created_at);

	CREATE TABLE IF NOT EXISTS pay_periods (
		id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_range
		ON pay_periods(start_date, end_date);

	-- Append-only audit log. seq keeps append order even within the same
	-- created_at timestamp.
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		record_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		old_value TEXT,
		new_value TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record
		ON audit_entries(record_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (engine.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The store passed to fn
// is bound to the transaction and does not re-take the mutex.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore delegates every operation to the parent's unlocked helpers,
// bound to the open transaction.
type txStore struct {
	q      *sql.Tx
	parent *Store
}

// =============================================================================
// PLANS (engine.PlanStore)
// =============================================================================

// tierJSON is the persisted tier shape inside tiers_json.
type tierJSON struct {
	MinAmount string  `json:"min_amount"`
	MaxAmount *string `json:"max_amount"`
	Rate      string  `json:"rate"`
}

func encodeTiers(tiers []engine.Tier) (string, error) {
	out := make([]tierJSON, len(tiers))
	for i, t := range tiers {
		out[i] = tierJSON{MinAmount: t.MinAmount.String(), Rate: t.Rate.String()}
		if t.MaxAmount != nil {
			max := t.MaxAmount.String()
			out[i].MaxAmount = &max
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeTiers(raw string) ([]engine.Tier, error) {
	var in []tierJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("failed to decode tiers: %w", err)
	}
	tiers := make([]engine.Tier, len(in))
	for i, t := range in {
		min, err := decimal.NewFromString(t.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tier min: %w", err)
		}
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tier rate: %w", err)
		}
		tiers[i] = engine.Tier{MinAmount: min, Rate: rate}
		if t.MaxAmount != nil {
			max, err := decimal.NewFromString(*t.MaxAmount)
			if err != nil {
				return nil, fmt.Errorf("failed to decode tier max: %w", err)
			}
			tiers[i].MaxAmount = &max
		}
	}
	return tiers, nil
}

func (s *Store) SavePlan(ctx context.Context, plan engine.CommissionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePlan(ctx, s.db, plan)
}

func (ts *txStore) SavePlan(ctx context.Context, plan engine.CommissionPlan) error {
	return ts.parent.savePlan(ctx, ts.q, plan)
}

func (s *Store) savePlan(ctx context.Context, q queryer, plan engine.CommissionPlan) error {
	tiersJSON, err := encodeTiers(plan.Tiers)
	if err != nil {
		return fmt.Errorf("failed to encode tiers: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO plans (id, name, description, is_active, tiers_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active,
			tiers_json = excluded.tiers_json,
			updated_at = excluded.updated_at
	`,
		plan.ID, plan.Name, plan.Description, boolToInt(plan.IsActive), tiersJSON,
		formatTime(plan.CreatedAt), formatTime(plan.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id engine.PlanID) (*engine.CommissionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlan(ctx, s.db, id)
}

func (ts *txStore) GetPlan(ctx context.Context, id engine.PlanID) (*engine.CommissionPlan, error) {
	return ts.parent.getPlan(ctx, ts.q, id)
}

func (s *Store) getPlan(ctx context.Context, q queryer, id engine.PlanID) (*engine.CommissionPlan, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, tiers_json, created_at, updated_at
		FROM plans WHERE id = ?
	`, id)
	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return plan, err
}

func (s *Store) ListPlans(ctx context.Context, activeOnly bool) ([]engine.CommissionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPlans(ctx, s.db, activeOnly)
}

func (ts *txStore) ListPlans(ctx context.Context, activeOnly bool) ([]engine.CommissionPlan, error) {
	return ts.parent.listPlans(ctx, ts.q, activeOnly)
}

func (s *Store) listPlans(ctx context.Context, q queryer, activeOnly bool) ([]engine.CommissionPlan, error) {
	query := `
		SELECT id, name, description, is_active, tiers_json, created_at, updated_at
		FROM plans
	`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []engine.CommissionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (s *Store) DeletePlan(ctx context.Context, id engine.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	return err
}

func (ts *txStore) DeletePlan(ctx context.Context, id engine.PlanID) error {
	_, err := ts.q.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*engine.CommissionPlan, error) {
	var (
		plan      engine.CommissionPlan
		isActive  int
		tiersRaw  string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&plan.ID, &plan.Name, &plan.Description, &isActive, &tiersRaw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	tiers, err := decodeTiers(tiersRaw)
	if err != nil {
		return nil, err
	}
	plan.Tiers = tiers
	plan.IsActive = isActive != 0
	plan.CreatedAt = parseTime(createdAt)
	plan.UpdatedAt = parseTime(updatedAt)
	return &plan, nil
}

// =============================================================================
// AGENTS (engine.AgentStore)
// =============================================================================

func (s *Store) SaveAgent(ctx context.Context, agent engine.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAgent(ctx, s.db, agent)
}

func (ts *txStore) SaveAgent(ctx context.Context, agent engine.Agent) error {
	return ts.parent.saveAgent(ctx, ts.q, agent)
}

func (s *Store) saveAgent(ctx context.Context, q queryer, agent engine.Agent) error {
	var rate any
	if agent.DefaultRate != nil {
		rate = agent.DefaultRate.String()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO agents (id, name, email, default_rate, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			default_rate = excluded.default_rate,
			is_active = excluded.is_active
	`, agent.ID, agent.Name, agent.Email, rate, boolToInt(agent.IsActive), formatTime(agent.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id engine.AgentID) (*engine.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAgent(ctx, s.db, id)
}

func (ts *txStore) GetAgent(ctx context.Context, id engine.AgentID) (*engine.Agent, error) {
	return ts.parent.getAgent(ctx, ts.q, id)
}

func (s *Store) getAgent(ctx context.Context, q queryer, id engine.AgentID) (*engine.Agent, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, email, default_rate, is_active, created_at
		FROM agents WHERE id = ?
	`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return agent, err
}

func (s *Store) ListAgents(ctx context.Context) ([]engine.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAgents(ctx, s.db)
}

func (ts *txStore) ListAgents(ctx context.Context) ([]engine.Agent, error) {
	return ts.parent.listAgents(ctx, ts.q)
}

func (s *Store) listAgents(ctx context.Context, q queryer) ([]engine.Agent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, email, default_rate, is_active, created_at
		FROM agents ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []engine.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*engine.Agent, error) {
	var (
		agent     engine.Agent
		rate      sql.NullString
		isActive  int
		createdAt string
	)
	if err := row.Scan(&agent.ID, &agent.Name, &agent.Email, &rate, &isActive, &createdAt); err != nil {
		return nil, err
	}
	if rate.Valid {
		d, err := decimal.NewFromString(rate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decode agent rate: %w", err)
		}
		agent.DefaultRate = &d
	}
	agent.IsActive = isActive != 0
	agent.CreatedAt = parseTime(createdAt)
	return &agent, nil
}

// =============================================================================
// ASSIGNMENTS (engine.AssignmentStore, insert-only)
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a engine.PlanAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAssignment(ctx, s.db, a)
}

func (ts *txStore) SaveAssignment(ctx context.Context, a engine.PlanAssignment) error {
	return ts.parent.saveAssignment(ctx, ts.q, a)
}

func (s *Store) saveAssignment(ctx context.Context, q queryer, a engine.PlanAssignment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO plan_assignments (id, agent_id, plan_id, effective_date, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.AgentID, a.PlanID, formatTime(a.EffectiveDate), formatTime(a.CreatedAt), a.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) AssignmentsByAgent(ctx context.Context, agentID engine.AgentID) ([]engine.PlanAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignmentsByAgent(ctx, s.db, agentID)
}

func (ts *txStore) AssignmentsByAgent(ctx context.Context, agentID engine.AgentID) ([]engine.PlanAssignment, error) {
	return ts.parent.assignmentsByAgent(ctx, ts.q, agentID)
}

func (s *Store) assignmentsByAgent(ctx context.Context, q queryer, agentID engine.AgentID) ([]engine.PlanAssignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, agent_id, plan_id, effective_date, created_at, created_by
		FROM plan_assignments
		WHERE agent_id = ?
		ORDER BY effective_date ASC, created_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []engine.PlanAssignment
	for rows.Next() {
		var (
			a             engine.PlanAssignment
			effectiveDate string
			createdAt     string
		)
		if err := rows.Scan(&a.ID, &a.AgentID, &a.PlanID, &effectiveDate, &createdAt, &a.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.EffectiveDate = parseTime(effectiveDate)
		a.CreatedAt = parseTime(createdAt)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *Store) PlanHasAssignments(ctx context.Context, planID engine.PlanID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.planHasAssignments(ctx, s.db, planID)
}

func (ts *txStore) PlanHasAssignments(ctx context.Context, planID engine.PlanID) (bool, error) {
	return ts.parent.planHasAssignments(ctx, ts.q, planID)
}

func (s *Store) planHasAssignments(ctx context.Context, q queryer, planID engine.PlanID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM plan_assignments WHERE plan_id = ?", planID,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

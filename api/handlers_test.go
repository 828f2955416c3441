/*
handlers_test.go - HTTP-level tests over a real in-memory store

Exercises the full stack: router, tolerant request decoding, engine,
SQLite. No mocks.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeltrade/commission-engine/api"
	"github.com/steeltrade/commission-engine/engine"
	"github.com/steeltrade/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	*httptest.Server
	eng   *engine.Engine
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := engine.New(store, engine.DefaultConfig(), nil)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(eng, nil)))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, eng: eng, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Acting-User", "test-admin")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// seedAgentWithPlan sets up an agent on [0,10000) 2% / [10000,inf) 3%,
// effective 2026-01-01, through the engine directly.
func (ts *testServer) seedAgentWithPlan(t *testing.T, agentID string) {
	t.Helper()
	ctx := context.Background()

	_, err := ts.eng.UpsertAgent(ctx, engine.AgentID(agentID), "Test Agent", "", nil, true)
	require.NoError(t, err)

	plan, err := ts.eng.Catalog.CreatePlan(ctx, "Standard", "", []engine.Tier{
		{MinAmount: engine.MustDecimal("0"), MaxAmount: engine.DecimalPtr(engine.MustDecimal("10000")), Rate: engine.MustDecimal("2")},
		{MinAmount: engine.MustDecimal("10000"), Rate: engine.MustDecimal("3")},
	}, true)
	require.NoError(t, err)

	_, err = ts.eng.Catalog.AssignPlan(ctx, engine.AgentID(agentID), plan.ID,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "seed")
	require.NoError(t, err)
}

// =============================================================================
// PLANS
// =============================================================================

func TestAPI_PlanLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create with snake_case tier bounds.
	resp, created := ts.do(t, "POST", "/api/commissions/plans", map[string]any{
		"name": "Steel Standard",
		"tiers": []map[string]any{
			{"min_amount": 0, "max_amount": 10000, "rate": 2},
			{"min_amount": 10000, "max_amount": nil, "rate": 3},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	planID := created["id"].(string)
	require.NotEmpty(t, planID)

	resp, listed := ts.do(t, "GET", "/api/commissions/plans?isActive=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plans := listed["plans"].([]any)
	require.Len(t, plans, 1)
	tiers := plans[0].(map[string]any)["tiers"].([]any)
	require.Len(t, tiers, 2)
	assert.Nil(t, tiers[1].(map[string]any)["maxAmount"], "responses use camelCase")

	// Invalid tier edit is a 400.
	resp, _ = ts.do(t, "PUT", "/api/commissions/plans/"+planID, map[string]any{
		"name":  "Broken",
		"tiers": []map[string]any{{"min_amount": 100, "rate": 2}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unassigned plan deletes hard.
	resp, deleted := ts.do(t, "DELETE", "/api/commissions/plans/"+planID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, deleted["deleted"])
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestAPI_Calculate_SnakeAndCamelInput(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	// snake_case body
	resp, tx := ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"invoice_number": "INV-001",
		"agent_id":       "agent-1",
		"sale_amount":    15000,
		"sale_date":      "2026-02-10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "PENDING", tx["status"])
	assert.InDelta(t, 3.0, tx["commissionRate"].(float64), 1e-9)
	assert.InDelta(t, 450.0, tx["commissionAmount"].(float64), 1e-9)

	// camelCase body, string amount
	resp, tx = ts.do(t, "POST", "/api/commissions/calculate/inv-2", map[string]any{
		"invoiceNumber": "INV-002",
		"agentId":       "agent-1",
		"saleAmount":    "5000",
		"saleDate":      "2026-02-11",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.InDelta(t, 2.0, tx["commissionRate"].(float64), 1e-9)
	assert.InDelta(t, 100.0, tx["commissionAmount"].(float64), 1e-9)
}

func TestAPI_Calculate_DuplicateInvoiceConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	body := map[string]any{
		"agent_id": "agent-1", "sale_amount": 5000, "sale_date": "2026-02-10",
	}
	resp, _ := ts.do(t, "POST", "/api/commissions/calculate/inv-1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/commissions/calculate/inv-1", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Calculate_MissingFieldsRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"sale_amount": 5000,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CalculateBatch_BestEffort(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	resp, body := ts.do(t, "POST", "/api/commissions/calculate-batch", map[string]any{
		"invoices": []map[string]any{
			{"invoice_id": "inv-1", "agent_id": "agent-1", "sale_amount": 15000, "sale_date": "2026-02-10"},
			{"invoice_id": "inv-2", "agent_id": "ghost", "sale_amount": 100, "sale_date": "2026-02-10"},
			{"invoiceId": "inv-3", "agentId": "agent-1", "saleAmount": 2000, "saleDate": "2026-02-12"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := body["results"].([]any)
	require.Len(t, results, 3)

	ok1 := results[0].(map[string]any)
	assert.NotNil(t, ok1["transaction"])
	failed := results[1].(map[string]any)
	assert.Contains(t, failed["error"], "agent not found")
	assert.Nil(t, failed["transaction"])
	ok3 := results[2].(map[string]any)
	assert.NotNil(t, ok3["transaction"], "camelCase items work in batches too")
}

// =============================================================================
// TRANSACTIONS AND BULK ACTIONS
// =============================================================================

func TestAPI_BulkApprove_PartialResult(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	_, tx1 := ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 5000, "sale_date": "2026-02-10",
	})
	id1 := tx1["id"].(string)

	resp, result := ts.do(t, "POST", "/api/commissions/transactions/approve", map[string]any{
		"transaction_ids": []string{id1, "ghost"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "partial success is still a 200")

	assert.Equal(t, []any{id1}, result["succeeded"].([]any))
	failed := result["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "ghost", failed[0].(map[string]any)["id"])

	// The approval actor came from the X-Acting-User header.
	trail, err := ts.eng.Audit.Trail(context.Background(), engine.RecordID(id1))
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, engine.EventApproved, last.EventType)
	assert.Equal(t, "test-admin", last.ActorID)
}

func TestAPI_ListTransactions_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	_, tx1 := ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 5000, "sale_date": "2026-02-10",
	})
	ts.do(t, "POST", "/api/commissions/calculate/inv-2", map[string]any{
		"agent_id": "agent-1", "sale_amount": 6000, "sale_date": "2026-02-11",
	})
	ts.do(t, "POST", "/api/commissions/transactions/approve", map[string]any{
		"transaction_ids": []string{tx1["id"].(string)},
	})

	resp, body := ts.do(t, "GET", "/api/commissions/transactions?status=APPROVED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txns := body["transactions"].([]any)
	require.Len(t, txns, 1)
	assert.Equal(t, tx1["id"], txns[0].(map[string]any)["id"])

	resp, _ = ts.do(t, "GET", "/api/commissions/transactions?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// INVOICE-SCOPED ROUTES
// =============================================================================

func TestAPI_InvoiceRoutes_ApprovePayAdjust(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 15000, "sale_date": "2026-02-10",
	})

	// Adjust while pending, with the frontend's field names.
	resp, adjusted := ts.do(t, "PUT", "/api/commissions/invoice/inv-1/adjust", map[string]any{
		"newCommissionAmount": 400,
		"reason":              "partial return",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 400.0, adjusted["commissionAmount"].(float64), 1e-9)

	resp, approved := ts.do(t, "POST", "/api/commissions/invoice/inv-1/approve", map[string]any{
		"approvedByUserId": "manager-7",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", approved["status"])

	resp, paid := ts.do(t, "POST", "/api/commissions/invoice/inv-1/pay", map[string]any{
		"payment_reference": "WIRE-9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PAID", paid["status"])
	assert.Equal(t, "WIRE-9", paid["paymentReference"])

	// Paying again is an illegal transition.
	resp, _ = ts.do(t, "POST", "/api/commissions/invoice/inv-1/pay", map[string]any{
		"payment_reference": "WIRE-10",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_InvoiceCommission_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "GET", "/api/commissions/invoice/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Adjust_ExpiredGraceIs422(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.eng.UpsertAgent(ctx, "agent-1", "Ana", "", nil, true)
	require.NoError(t, err)

	stale := time.Now().UTC().AddDate(0, 0, -20)
	require.NoError(t, ts.store.InsertRecord(ctx, engine.CommissionRecord{
		ID:               "rec-stale",
		InvoiceID:        "inv-stale",
		AgentID:          "agent-1",
		SaleAmount:       engine.MustDecimal("1000"),
		SaleDate:         stale,
		CommissionRate:   engine.MustDecimal("2"),
		CommissionAmount: engine.MustDecimal("20"),
		Status:           engine.StatusPending,
		PayPeriodID:      "period-seed",
		CreatedAt:        stale,
		LastModifiedAt:   stale,
	}))

	resp, _ := ts.do(t, "PUT", "/api/commissions/invoice/inv-stale/adjust", map[string]any{
		"new_commission_amount": 10,
		"reason":                "too late",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_AuditTrailEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 15000, "sale_date": "2026-02-10",
	})
	ts.do(t, "POST", "/api/commissions/invoice/inv-1/approve", nil)

	resp, body := ts.do(t, "GET", "/api/invoices/inv-1/commission-audit-trail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	trail := body["auditTrail"].([]any)
	require.Len(t, trail, 3)
	events := make([]string, len(trail))
	for i, e := range trail {
		events[i] = e.(map[string]any)["eventType"].(string)
	}
	assert.Equal(t, []string{"CREATED", "ACCRUED", "APPROVED"}, events)

	resp, _ = ts.do(t, "GET", "/api/invoices/unknown/commission-audit-trail", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// QUEUES, AGENTS, PERIODS, DASHBOARD
// =============================================================================

func TestAPI_PendingApprovals(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 5000, "sale_date": "2026-02-10",
	})

	resp, body := ts.do(t, "GET", "/api/commissions/pending-approvals?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pending := body["pendingApprovals"].([]any)
	require.Len(t, pending, 1)
	item := pending[0].(map[string]any)
	assert.Equal(t, "PENDING", item["status"])
	assert.NotEmpty(t, item["gracePeriodEndDate"])
	assert.InDelta(t, 15, item["daysUntilDeadline"].(float64), 1)
}

func TestAPI_UpdateAgent_WithPlanAssignment(t *testing.T) {
	ts := newTestServer(t)

	_, plan := ts.do(t, "POST", "/api/commissions/plans", map[string]any{
		"name":  "Standard",
		"tiers": []map[string]any{{"min_amount": 0, "rate": 5}},
	})

	resp, body := ts.do(t, "PUT", "/api/commissions/agents/agent-9", map[string]any{
		"name":           "New Agent",
		"default_rate":   1.5,
		"plan_id":        plan["id"],
		"effective_date": "2026-01-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	agent := body["agent"].(map[string]any)
	assert.Equal(t, "agent-9", agent["id"])
	assert.InDelta(t, 1.5, agent["defaultRate"].(float64), 1e-9)
	require.NotNil(t, body["assignment"])

	resp, listed := ts.do(t, "GET", "/api/commissions/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, listed["agents"].([]any), 1)
}

func TestAPI_PayPeriodLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	_, tx := ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 15000, "sale_date": "2026-02-10",
	})
	periodID := tx["payPeriodId"].(string)

	ts.do(t, "POST", "/api/commissions/transactions/approve", map[string]any{
		"transaction_ids": []string{tx["id"].(string)},
	})

	resp, closed := ts.do(t, "POST", fmt.Sprintf("/api/commissions/pay-periods/%s/close", periodID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CLOSED", closed["status"])
	assert.InDelta(t, 450.0, closed["totalAmount"].(float64), 1e-9)

	resp, run := ts.do(t, "POST", fmt.Sprintf("/api/commissions/pay-periods/%s/process", periodID), map[string]any{
		"payment_reference": "PAYRUN-FEB",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, run["completed"])
	assert.Len(t, run["paid"].([]any), 1)

	resp, listed := ts.do(t, "GET", "/api/commissions/pay-periods", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	periods := listed["payPeriods"].([]any)
	require.Len(t, periods, 1)
	assert.Equal(t, "PAID", periods[0].(map[string]any)["status"])

	// Closing an already paid period conflicts.
	resp, _ = ts.do(t, "POST", fmt.Sprintf("/api/commissions/pay-periods/%s/close", periodID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Dashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 15000, "sale_date": "2026-02-10",
	})

	resp, body := ts.do(t, "GET", "/api/commissions/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	summary := body["summary"].(map[string]any)
	assert.InDelta(t, 450.0, summary["totalAmount"].(float64), 1e-9)
	assert.Len(t, body["trendData"].([]any), 6)
	require.NotEmpty(t, body["topAgents"].([]any))
	assert.NotEmpty(t, body["recentTransactions"].([]any))
}

func TestAPI_SalesPersonCommissions(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAgentWithPlan(t, "agent-1")

	ts.do(t, "POST", "/api/commissions/calculate/inv-1", map[string]any{
		"agent_id": "agent-1", "sale_amount": 5000, "sale_date": "2026-02-10",
	})

	resp, body := ts.do(t, "GET", "/api/commissions/sales-person/agent-1?status=PENDING&daysBack=365", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["commissions"].([]any), 1)

	resp, body = ts.do(t, "GET", "/api/commissions/sales-person/agent-other", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["commissions"])
}

/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Plans:
    GET    /api/commissions/plans                 List plans (?isActive=)
    POST   /api/commissions/plans                 Create plan
    PUT    /api/commissions/plans/{id}            Update plan
    DELETE /api/commissions/plans/{id}            Delete (or deactivate) plan

  Agents:
    GET    /api/commissions/agents                List agents
    PUT    /api/commissions/agents/{userId}       Update settings, optionally assign a plan

  Transactions:
    GET    /api/commissions/transactions          List (?status=&agent_id=&pay_period_id=)
    POST   /api/commissions/transactions/approve  Bulk approve
    POST   /api/commissions/transactions/mark-paid Bulk mark paid

  Calculation:
    POST   /api/commissions/calculate/{invoiceId} Create commission for an invoice
    POST   /api/commissions/calculate-batch       Best-effort batch create

  Invoice-scoped:
    GET    /api/commissions/invoice/{invoiceId}           Active commission
    POST   /api/commissions/invoice/{invoiceId}/approve
    POST   /api/commissions/invoice/{invoiceId}/pay
    PUT    /api/commissions/invoice/{invoiceId}/adjust
    GET    /api/invoices/{invoiceId}/commission-audit-trail

  Queues and reporting:
    GET    /api/commissions/pending-approvals     Pending queue with deadlines
    GET    /api/commissions/sales-person/{agentId} Agent history
    GET    /api/commissions/dashboard             Dashboard payload

  Pay periods:
    GET    /api/commissions/pay-periods
    POST   /api/commissions/pay-periods
    POST   /api/commissions/pay-periods/{id}/close
    POST   /api/commissions/pay-periods/{id}/process

ACTING USER:
  Every mutation records who performed it. The id comes from the
  X-Acting-User header or an explicit body field, never ambient state.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate invoice, illegal transition, lost race)
  - 422: Grace period expired
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/steeltrade/commission-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Logger *zap.Logger
}

// NewHandler creates a new handler over the engine. A nil logger disables
// request logging.
func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: eng, Logger: logger}
}

// actingUser resolves who performs a mutation: the X-Acting-User header
// wins, then the accepted body fields.
func actingUser(r *http.Request, body rawObject) string {
	if id := r.Header.Get("X-Acting-User"); id != "" {
		return id
	}
	if body == nil {
		return ""
	}
	return body.str("acting_user_id", "actingUserId", "approved_by_user_id", "approvedByUserId", "user_id", "userId")
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns commission plans, optionally only active ones.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("isActive") == "true" ||
		r.URL.Query().Get("is_active") == "true"

	plans, err := h.Engine.Catalog.ListPlans(r.Context(), activeOnly)
	if err != nil {
		h.writeEngineError(w, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": dtos})
}

func (h *Handler) planRequest(r *http.Request) (*CreatePlanRequest, rawObject, error) {
	body, err := decodeBody(r.Body)
	if err != nil {
		return nil, nil, err
	}
	tiers, err := parseTiers(body.objects("tiers"))
	if err != nil {
		return nil, nil, err
	}
	req := &CreatePlanRequest{
		Name:        body.str("name", "plan_name", "planName"),
		Description: body.str("description"),
		IsActive:    body.boolean(true, "is_active", "isActive"),
		Tiers:       tiers,
	}
	if err := validate.Struct(req); err != nil {
		return nil, nil, err
	}
	return req, body, nil
}

// CreatePlan creates a commission plan from a tier schedule.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, _, err := h.planRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan request", err)
		return
	}

	plan, err := h.Engine.Catalog.CreatePlan(r.Context(), req.Name, req.Description, req.Tiers, req.IsActive)
	if err != nil {
		h.writeEngineError(w, "Failed to create plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*plan))
}

// UpdatePlan replaces a plan's name, description, tiers, and active flag.
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id := engine.PlanID(chi.URLParam(r, "id"))
	req, _, err := h.planRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan request", err)
		return
	}

	plan, err := h.Engine.Catalog.UpdatePlan(r.Context(), id, req.Name, req.Description, req.Tiers, req.IsActive)
	if err != nil {
		h.writeEngineError(w, "Failed to update plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// DeletePlan deletes a plan, or deactivates it when assignments exist.
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	id := engine.PlanID(chi.URLParam(r, "id"))

	deactivatedOnly, err := h.Engine.Catalog.DeletePlan(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to delete plan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":     !deactivatedOnly,
		"deactivated": deactivatedOnly,
	})
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// ListAgents returns all agents with their commission settings.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Engine.ListAgents(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list agents", err)
		return
	}

	dtos := make([]AgentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = toAgentDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": dtos})
}

// UpdateAgent upserts an agent's commission settings and optionally assigns
// a plan with an effective date in the same call.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := engine.AgentID(chi.URLParam(r, "userId"))
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rate, err := body.dec("default_rate", "defaultRate", "commission_rate", "commissionRate")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}

	agent, err := h.Engine.UpsertAgent(r.Context(), id,
		body.str("name"), body.str("email"), rate,
		body.boolean(true, "is_active", "isActive"))
	if err != nil {
		h.writeEngineError(w, "Failed to update agent", err)
		return
	}

	resp := map[string]any{"agent": toAgentDTO(*agent)}

	// Optional plan assignment piggybacked on the settings update.
	if planID := body.str("plan_id", "planId"); planID != "" {
		effective, err := body.date("effective_date", "effectiveDate")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective date", err)
			return
		}
		if effective.IsZero() {
			effective = time.Now().UTC()
		}
		assignment, err := h.Engine.Catalog.AssignPlan(r.Context(), agent.ID, engine.PlanID(planID), effective, actingUser(r, body))
		if err != nil {
			h.writeEngineError(w, "Failed to assign plan", err)
			return
		}
		resp["assignment"] = map[string]any{
			"id":            string(assignment.ID),
			"planId":        string(assignment.PlanID),
			"effectiveDate": assignment.EffectiveDate.Format("2006-01-02"),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns commission records matching the query filters.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.RecordFilter{
		Status:      engine.CommissionStatus(firstOf(q.Get("status"))),
		AgentID:     engine.AgentID(firstOf(q.Get("agent_id"), q.Get("agentId"))),
		PayPeriodID: engine.PeriodID(firstOf(q.Get("pay_period_id"), q.Get("payPeriodId"))),
	}
	if filter.Status != "" && !engine.ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "Unknown status filter", nil)
		return
	}

	records, err := h.Engine.Ledger.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionDTOs(records)})
}

// BulkApprove approves the selected transactions best-effort.
func (h *Handler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ids := recordIDs(body.strSlice("transaction_ids", "transactionIds", "ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "transaction_ids is required", nil)
		return
	}

	result := h.Engine.Workflow.BulkApprove(r.Context(), ids, actingUser(r, body))
	writeJSON(w, http.StatusOK, toBulkResultDTO(result))
}

// BulkMarkPaid marks the selected transactions paid best-effort, sharing
// one payment reference.
func (h *Handler) BulkMarkPaid(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ids := recordIDs(body.strSlice("transaction_ids", "transactionIds", "ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "transaction_ids is required", nil)
		return
	}
	paymentRef := body.str("payment_reference", "paymentReference")
	if paymentRef == "" {
		writeError(w, http.StatusBadRequest, "payment_reference is required", nil)
		return
	}

	result := h.Engine.Workflow.BulkMarkPaid(r.Context(), ids, actingUser(r, body), paymentRef)
	writeJSON(w, http.StatusOK, toBulkResultDTO(result))
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

func calculateRequest(invoiceID string, body rawObject) (*CalculateRequest, error) {
	amount, err := body.dec("sale_amount", "saleAmount", "invoice_amount", "invoiceAmount")
	if err != nil {
		return nil, err
	}
	saleDate, err := body.date("sale_date", "saleDate", "invoice_date", "invoiceDate")
	if err != nil {
		return nil, err
	}

	req := &CalculateRequest{
		InvoiceID:     invoiceID,
		InvoiceNumber: body.str("invoice_number", "invoiceNumber"),
		AgentID:       body.str("agent_id", "agentId", "sales_person_id", "salesPersonId"),
		SaleDate:      saleDate,
	}
	if amount != nil {
		req.SaleAmount = *amount
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// CalculateInvoice computes and records the commission for one invoice.
func (h *Handler) CalculateInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoiceId")
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := calculateRequest(invoiceID, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calculation request", err)
		return
	}

	rec, err := h.Engine.Ledger.Create(r.Context(), engine.CreateInput{
		InvoiceID:     engine.InvoiceID(req.InvoiceID),
		InvoiceNumber: req.InvoiceNumber,
		AgentID:       engine.AgentID(req.AgentID),
		SaleAmount:    req.SaleAmount,
		SaleDate:      req.SaleDate,
		ActingUserID:  actingUser(r, body),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to calculate commission", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*rec))
}

// CalculateBatch computes commissions for many invoices. Each item is
// attempted independently; failures are reported per item.
func (h *Handler) CalculateBatch(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	items := body.objects("invoices", "items")
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "invoices is required", nil)
		return
	}

	actor := actingUser(r, body)
	results := make([]BatchCalculateResultDTO, 0, len(items))
	for _, item := range items {
		invoiceID := item.str("invoice_id", "invoiceId", "id")
		req, err := calculateRequest(invoiceID, item)
		if err != nil {
			results = append(results, BatchCalculateResultDTO{InvoiceID: invoiceID, Error: err.Error()})
			continue
		}
		rec, err := h.Engine.Ledger.Create(r.Context(), engine.CreateInput{
			InvoiceID:     engine.InvoiceID(req.InvoiceID),
			InvoiceNumber: req.InvoiceNumber,
			AgentID:       engine.AgentID(req.AgentID),
			SaleAmount:    req.SaleAmount,
			SaleDate:      req.SaleDate,
			ActingUserID:  actor,
		})
		if err != nil {
			// Batch failures are reported per item, not as an HTTP error, so
			// server-side ones would otherwise never surface in the log.
			if !engine.IsClientError(err) && !engine.IsNotFound(err) {
				h.Logger.Error("batch commission failed",
					zap.String("invoice_id", invoiceID),
					zap.Error(err))
			}
			results = append(results, BatchCalculateResultDTO{InvoiceID: invoiceID, Error: err.Error()})
			continue
		}
		dto := toTransactionDTO(*rec)
		results = append(results, BatchCalculateResultDTO{InvoiceID: invoiceID, Transaction: &dto})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// =============================================================================
// INVOICE-SCOPED HANDLERS
// =============================================================================

// GetInvoiceCommission returns the active commission for an invoice.
func (h *Handler) GetInvoiceCommission(w http.ResponseWriter, r *http.Request) {
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceId"))

	rec, err := h.Engine.Ledger.GetByInvoice(r.Context(), invoiceID)
	if err != nil {
		h.writeEngineError(w, "Failed to get commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*rec))
}

// ApproveInvoiceCommission approves the active commission for an invoice.
func (h *Handler) ApproveInvoiceCommission(w http.ResponseWriter, r *http.Request) {
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceId"))
	body, _ := decodeBody(r.Body)

	rec, err := h.Engine.Ledger.GetByInvoice(r.Context(), invoiceID)
	if err != nil {
		h.writeEngineError(w, "Failed to get commission", err)
		return
	}

	approved, err := h.Engine.Ledger.Approve(r.Context(), rec.ID, actingUser(r, body))
	if err != nil {
		h.writeEngineError(w, "Failed to approve commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*approved))
}

// PayInvoiceCommission marks the active commission for an invoice paid.
func (h *Handler) PayInvoiceCommission(w http.ResponseWriter, r *http.Request) {
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceId"))
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Engine.Ledger.GetByInvoice(r.Context(), invoiceID)
	if err != nil {
		h.writeEngineError(w, "Failed to get commission", err)
		return
	}

	paid, err := h.Engine.Ledger.MarkPaid(r.Context(), rec.ID, actingUser(r, body),
		body.str("payment_reference", "paymentReference"))
	if err != nil {
		h.writeEngineError(w, "Failed to mark commission paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*paid))
}

// AdjustInvoiceCommission rewrites the commission amount during the grace
// window.
func (h *Handler) AdjustInvoiceCommission(w http.ResponseWriter, r *http.Request) {
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceId"))
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := body.dec("new_commission_amount", "newCommissionAmount", "new_amount", "newAmount")
	if err != nil || amount == nil {
		writeError(w, http.StatusBadRequest, "new_commission_amount is required", err)
		return
	}

	rec, err := h.Engine.Ledger.GetByInvoice(r.Context(), invoiceID)
	if err != nil {
		h.writeEngineError(w, "Failed to get commission", err)
		return
	}

	adjusted, err := h.Engine.Ledger.Adjust(r.Context(), rec.ID, *amount,
		body.str("reason", "adjustment_reason", "adjustmentReason"), actingUser(r, body))
	if err != nil {
		h.writeEngineError(w, "Failed to adjust commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*adjusted))
}

// InvoiceAuditTrail returns the audit trail for an invoice's most recent
// commission record.
func (h *Handler) InvoiceAuditTrail(w http.ResponseWriter, r *http.Request) {
	invoiceID := engine.InvoiceID(chi.URLParam(r, "invoiceId"))

	records, err := h.Engine.Ledger.List(r.Context(), engine.RecordFilter{InvoiceID: invoiceID})
	if err != nil {
		h.writeEngineError(w, "Failed to get commission", err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "Commission record not found", nil)
		return
	}
	latest := records[len(records)-1]

	entries, err := h.Engine.Audit.Trail(r.Context(), latest.ID)
	if err != nil {
		h.writeEngineError(w, "Failed to get audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recordId":   string(latest.ID),
		"auditTrail": toAuditEntryDTOs(entries),
	})
}

// =============================================================================
// QUEUES AND REPORTING
// =============================================================================

// PendingApprovals lists PENDING commissions with their adjustment deadlines.
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var n int
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	pending, err := h.Engine.Workflow.PendingApprovals(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, "Failed to list pending approvals", err)
		return
	}

	dtos := make([]PendingCommissionDTO, len(pending))
	for i, p := range pending {
		dtos[i] = PendingCommissionDTO{
			TransactionDTO:     toTransactionDTO(p.Record),
			GracePeriodEndDate: p.GracePeriodEnd.Format("2006-01-02"),
			DaysUntilDeadline:  p.DaysUntilDeadline,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pendingApprovals": dtos})
}

// SalesPersonCommissions returns an agent's commission history.
func (h *Handler) SalesPersonCommissions(w http.ResponseWriter, r *http.Request) {
	agentID := engine.AgentID(chi.URLParam(r, "agentId"))
	q := r.URL.Query()

	filter := engine.RecordFilter{
		AgentID: agentID,
		Status:  engine.CommissionStatus(q.Get("status")),
	}
	if filter.Status != "" && !engine.ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "Unknown status filter", nil)
		return
	}
	if raw := firstOf(q.Get("days_back"), q.Get("daysBack")); raw != "" {
		var days int
		if err := json.Unmarshal([]byte(raw), &days); err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid days_back", err)
			return
		}
		filter.Since = time.Now().UTC().AddDate(0, 0, -days)
	}

	records, err := h.Engine.Ledger.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": toTransactionDTOs(records)})
}

// GetDashboard returns the commission dashboard payload.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.Engine.Dashboard(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(dashboard))
}

// =============================================================================
// PAY PERIOD HANDLERS
// =============================================================================

// ListPeriods returns all pay periods with recomputed aggregates.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Engine.Periods.ListPeriods(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list pay periods", err)
		return
	}

	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		summary, err := h.Engine.Periods.Summary(r.Context(), p.ID)
		if err != nil {
			h.writeEngineError(w, "Failed to summarize pay period", err)
			return
		}
		dtos = append(dtos, toPeriodDTO(*summary))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payPeriods": dtos})
}

// CreatePeriod opens an explicit pay period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := body.date("start_date", "startDate")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date", err)
		return
	}
	end, err := body.date("end_date", "endDate")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date", err)
		return
	}
	if start.IsZero() || end.IsZero() {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required", nil)
		return
	}

	period, err := h.Engine.Periods.CreatePeriod(r.Context(), start, end)
	if err != nil {
		h.writeEngineError(w, "Failed to create pay period", err)
		return
	}

	summary, err := h.Engine.Periods.Summary(r.Context(), period.ID)
	if err != nil {
		h.writeEngineError(w, "Failed to summarize pay period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*summary))
}

// ClosePeriod freezes a pay period's membership.
func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	id := engine.PeriodID(chi.URLParam(r, "id"))

	if _, err := h.Engine.Periods.ClosePeriod(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to close pay period", err)
		return
	}

	summary, err := h.Engine.Periods.Summary(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to summarize pay period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*summary))
}

// ProcessPeriodPayments runs payment over a closed pay period.
func (h *Handler) ProcessPeriodPayments(w http.ResponseWriter, r *http.Request) {
	id := engine.PeriodID(chi.URLParam(r, "id"))
	body, _ := decodeBody(r.Body)

	var paymentRef string
	if body != nil {
		paymentRef = body.str("payment_reference", "paymentReference")
	}

	report, err := h.Engine.Periods.ProcessPayments(r.Context(), id, actingUser(r, body), paymentRef)
	if err != nil {
		h.writeEngineError(w, "Failed to process pay period", err)
		return
	}

	dto := PaymentRunDTO{
		PeriodID:  string(report.PeriodID),
		Paid:      []string{},
		Skipped:   []string{},
		Failed:    []BulkItemError{},
		Completed: report.Completed,
	}
	for _, id := range report.Paid {
		dto.Paid = append(dto.Paid, string(id))
	}
	for _, id := range report.Skipped {
		dto.Skipped = append(dto.Skipped, string(id))
	}
	for _, f := range report.Failed {
		dto.Failed = append(dto.Failed, BulkItemError{ID: string(f.ID), Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	var ve *engine.ValidationError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.As(err, &ve), errors.As(err, &fieldErrs):
		writeError(w, http.StatusBadRequest, message, err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrGracePeriodExpired):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Logger.Error("request failed", zap.String("message", message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func recordIDs(ids []string) []engine.RecordID {
	out := make([]engine.RecordID, len(ids))
	for i, id := range ids {
		out[i] = engine.RecordID(id)
	}
	return out
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients (camelCase fields)
  - *Request: Request body types assembled from client input

INPUT TOLERANCE:
  Historically the frontend sent a mix of snake_case and camelCase field
  names (sale_amount vs saleAmount, payment_reference vs paymentReference).
  Requests are therefore decoded through rawObject, which reads a value
  under an explicit list of accepted keys. The mapping is spelled out per
  field in the handlers; there is no reflective guessing.

VALIDATION:
  Assembled request structs carry go-playground/validator tags and are
  checked before any domain call.

SEE ALSO:
  - handlers.go: assembles requests and converts domain types to DTOs
*/
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/steeltrade/commission-engine/engine"
)

var validate = validator.New()

// =============================================================================
// TOLERANT REQUEST DECODING
// =============================================================================

// rawObject is a decoded JSON body whose fields are read under explicit
// accepted key names.
type rawObject map[string]json.RawMessage

func decodeBody(body io.Reader) (rawObject, error) {
	var obj rawObject
	if err := json.NewDecoder(body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return obj, nil
}

// pick returns the raw value under the first present key.
func (o rawObject) pick(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := o[k]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func (o rawObject) str(keys ...string) string {
	raw, ok := o.pick(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (o rawObject) boolean(def bool, keys ...string) bool {
	raw, ok := o.pick(keys...)
	if !ok {
		return def
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return def
	}
	return b
}

// dec reads a decimal that may arrive as a JSON number or a string.
func (o rawObject) dec(keys ...string) (*decimal.Decimal, error) {
	raw, ok := o.pick(keys...)
	if !ok {
		return nil, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%s: not a valid amount", keys[0])
	}
	return &d, nil
}

// date reads a date accepting YYYY-MM-DD or full RFC3339.
func (o rawObject) date(keys ...string) (time.Time, error) {
	s := o.str(keys...)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected YYYY-MM-DD or RFC3339", keys[0])
	}
	return t.UTC(), nil
}

func (o rawObject) strSlice(keys ...string) []string {
	raw, ok := o.pick(keys...)
	if !ok {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (o rawObject) objects(keys ...string) []rawObject {
	raw, ok := o.pick(keys...)
	if !ok {
		return nil
	}
	var out []rawObject
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// =============================================================================
// ASSEMBLED REQUESTS
// =============================================================================

// CreatePlanRequest is the assembled input for plan create/update.
type CreatePlanRequest struct {
	Name        string `validate:"required"`
	Description string
	IsActive    bool
	Tiers       []engine.Tier `validate:"required,min=1"`
}

// CalculateRequest carries the invoice-sale facts for one commission.
type CalculateRequest struct {
	InvoiceID     string `validate:"required"`
	InvoiceNumber string
	AgentID       string          `validate:"required"`
	SaleAmount    decimal.Decimal `validate:"required"`
	SaleDate      time.Time       `validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TierDTO represents one rate bracket.
type TierDTO struct {
	MinAmount float64  `json:"minAmount"`
	MaxAmount *float64 `json:"maxAmount"`
	Rate      float64  `json:"rate"`
}

// PlanDTO represents a commission plan in API responses.
type PlanDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	Tiers       []TierDTO `json:"tiers"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	UpdatedAt   string    `json:"updatedAt,omitempty"`
}

// AgentDTO represents a sales person's commission settings.
type AgentDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	DefaultRate *float64 `json:"defaultRate"`
	IsActive    bool     `json:"isActive"`
}

// TransactionDTO represents a commission record.
type TransactionDTO struct {
	ID               string  `json:"id"`
	InvoiceID        string  `json:"invoiceId"`
	InvoiceNumber    string  `json:"invoiceNumber,omitempty"`
	AgentID          string  `json:"agentId"`
	SaleAmount       float64 `json:"saleAmount"`
	SaleDate         string  `json:"saleDate"`
	CommissionRate   float64 `json:"commissionRate"`
	CommissionAmount float64 `json:"commissionAmount"`
	Status           string  `json:"status"`
	PayPeriodID      string  `json:"payPeriodId"`
	PaymentReference string  `json:"paymentReference,omitempty"`
	SupersedesID     string  `json:"supersedesId,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	LastModifiedAt   string  `json:"lastModifiedAt"`
}

// PendingCommissionDTO decorates a PENDING record with its adjustment
// deadline for the approval queue.
type PendingCommissionDTO struct {
	TransactionDTO
	GracePeriodEndDate string `json:"gracePeriodEndDate"`
	DaysUntilDeadline  int    `json:"daysUntilDeadline"`
}

// PeriodDTO represents a pay period with its derived aggregates.
type PeriodDTO struct {
	ID              string         `json:"id"`
	StartDate       string         `json:"startDate"`
	EndDate         string         `json:"endDate"`
	Status          string         `json:"status"`
	TotalAmount     float64        `json:"totalAmount"`
	AgentCount      int            `json:"agentCount"`
	CommissionCount int            `json:"commissionCount"`
	StatusCounts    map[string]int `json:"statusCounts,omitempty"`
}

// BulkItemError pairs a failed id with its reason.
type BulkItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResultDTO reports a best-effort batch outcome.
type BulkResultDTO struct {
	Succeeded []string        `json:"succeeded"`
	Failed    []BulkItemError `json:"failed"`
}

// PaymentRunDTO reports a pay-period payment run.
type PaymentRunDTO struct {
	PeriodID  string          `json:"periodId"`
	Paid      []string        `json:"paid"`
	Skipped   []string        `json:"skipped"`
	Failed    []BulkItemError `json:"failed"`
	Completed bool            `json:"completed"`
}

// AuditEntryDTO represents one audit trail event.
type AuditEntryDTO struct {
	ID        string  `json:"id"`
	RecordID  string  `json:"recordId"`
	EventType string  `json:"eventType"`
	ActorID   string  `json:"actorId,omitempty"`
	OldValue  *string `json:"oldValue,omitempty"`
	NewValue  *string `json:"newValue,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

// DashboardDTO mirrors the admin dashboard payload.
type DashboardDTO struct {
	Summary            DashboardSummaryDTO `json:"summary"`
	TrendData          []TrendPointDTO     `json:"trendData"`
	TopAgents          []AgentTotalDTO     `json:"topAgents"`
	RecentTransactions []TransactionDTO    `json:"recentTransactions"`
}

type DashboardSummaryDTO struct {
	ByStatus    map[string]StatusTotalDTO `json:"byStatus"`
	TotalAmount float64                   `json:"totalAmount"`
	TotalCount  int                       `json:"totalCount"`
}

type StatusTotalDTO struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

type TrendPointDTO struct {
	Month  string  `json:"month"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type AgentTotalDTO struct {
	AgentID string  `json:"agentId"`
	Name    string  `json:"name"`
	Amount  float64 `json:"amount"`
	Count   int     `json:"count"`
}

// BatchCalculateResultDTO reports one item of a calculate-batch call.
type BatchCalculateResultDTO struct {
	InvoiceID   string          `json:"invoiceId"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func f64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toTierDTOs(tiers []engine.Tier) []TierDTO {
	out := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		out[i] = TierDTO{MinAmount: f64(t.MinAmount), Rate: f64(t.Rate)}
		if t.MaxAmount != nil {
			max := f64(*t.MaxAmount)
			out[i].MaxAmount = &max
		}
	}
	return out
}

func toPlanDTO(p engine.CommissionPlan) PlanDTO {
	return PlanDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		IsActive:    p.IsActive,
		Tiers:       toTierDTOs(p.Tiers),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

func toAgentDTO(a engine.Agent) AgentDTO {
	dto := AgentDTO{
		ID:       string(a.ID),
		Name:     a.Name,
		Email:    a.Email,
		IsActive: a.IsActive,
	}
	if a.DefaultRate != nil {
		rate := f64(*a.DefaultRate)
		dto.DefaultRate = &rate
	}
	return dto
}

func toTransactionDTO(rec engine.CommissionRecord) TransactionDTO {
	return TransactionDTO{
		ID:               string(rec.ID),
		InvoiceID:        string(rec.InvoiceID),
		InvoiceNumber:    rec.InvoiceNumber,
		AgentID:          string(rec.AgentID),
		SaleAmount:       f64(rec.SaleAmount),
		SaleDate:         rec.SaleDate.Format("2006-01-02"),
		CommissionRate:   f64(rec.CommissionRate),
		CommissionAmount: f64(rec.CommissionAmount),
		Status:           string(rec.Status),
		PayPeriodID:      string(rec.PayPeriodID),
		PaymentReference: rec.PaymentReference,
		SupersedesID:     string(rec.SupersedesID),
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		LastModifiedAt:   rec.LastModifiedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(recs []engine.CommissionRecord) []TransactionDTO {
	dtos := make([]TransactionDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toTransactionDTO(rec)
	}
	return dtos
}

func toPeriodDTO(s engine.PeriodSummary) PeriodDTO {
	dto := PeriodDTO{
		ID:              string(s.Period.ID),
		StartDate:       s.Period.StartDate.Format("2006-01-02"),
		EndDate:         s.Period.EndDate.Format("2006-01-02"),
		Status:          string(s.Period.Status),
		TotalAmount:     f64(s.TotalAmount),
		AgentCount:      s.AgentCount,
		CommissionCount: s.CommissionCount,
	}
	if len(s.StatusCounts) > 0 {
		dto.StatusCounts = make(map[string]int, len(s.StatusCounts))
		for status, n := range s.StatusCounts {
			dto.StatusCounts[string(status)] = n
		}
	}
	return dto
}

func toBulkResultDTO(result *engine.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{Succeeded: []string{}, Failed: []BulkItemError{}}
	for _, id := range result.Succeeded {
		dto.Succeeded = append(dto.Succeeded, string(id))
	}
	for _, f := range result.Failed {
		dto.Failed = append(dto.Failed, BulkItemError{ID: string(f.ID), Error: f.Err.Error()})
	}
	return dto
}

func toAuditEntryDTOs(entries []engine.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        string(e.ID),
			RecordID:  string(e.RecordID),
			EventType: string(e.EventType),
			ActorID:   e.ActorID,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Notes:     e.Notes,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toDashboardDTO(d *engine.Dashboard) DashboardDTO {
	out := DashboardDTO{
		Summary: DashboardSummaryDTO{
			ByStatus:    make(map[string]StatusTotalDTO, len(d.Summary.ByStatus)),
			TotalAmount: f64(d.Summary.TotalAmount),
			TotalCount:  d.Summary.TotalCount,
		},
		TrendData:          []TrendPointDTO{},
		TopAgents:          []AgentTotalDTO{},
		RecentTransactions: toTransactionDTOs(d.RecentTransactions),
	}
	for status, st := range d.Summary.ByStatus {
		out.Summary.ByStatus[string(status)] = StatusTotalDTO{Count: st.Count, Amount: f64(st.Amount)}
	}
	for _, tp := range d.TrendData {
		out.TrendData = append(out.TrendData, TrendPointDTO{Month: tp.Month, Amount: f64(tp.Amount), Count: tp.Count})
	}
	for _, at := range d.TopAgents {
		out.TopAgents = append(out.TopAgents, AgentTotalDTO{
			AgentID: string(at.AgentID), Name: at.Name, Amount: f64(at.Amount), Count: at.Count,
		})
	}
	return out
}

// parseTiers assembles tiers from request objects, accepting snake_case and
// camelCase bounds.
func parseTiers(objs []rawObject) ([]engine.Tier, error) {
	tiers := make([]engine.Tier, 0, len(objs))
	for i, obj := range objs {
		min, err := obj.dec("min_amount", "minAmount")
		if err != nil {
			return nil, err
		}
		if min == nil {
			return nil, fmt.Errorf("tier %d: min_amount is required", i)
		}
		rate, err := obj.dec("rate", "commission_rate", "commissionRate")
		if err != nil {
			return nil, err
		}
		if rate == nil {
			return nil, fmt.Errorf("tier %d: rate is required", i)
		}
		max, err := obj.dec("max_amount", "maxAmount")
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, engine.Tier{MinAmount: *min, MaxAmount: max, Rate: *rate})
	}
	return tiers, nil
}

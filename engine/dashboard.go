/*
dashboard.go - Read-side reporting for the commission dashboard

PURPOSE:
  Aggregates commission records into the shapes the dashboard renders:
  status totals, a monthly trend, top agents, and recent activity. All
  derived on read from the record store - nothing here is cached state.
*/
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DASHBOARD SHAPES
// =============================================================================

type StatusTotal struct {
	Count  int
	Amount decimal.Decimal
}

type DashboardSummary struct {
	ByStatus    map[CommissionStatus]StatusTotal
	TotalAmount decimal.Decimal // active records only (not reversed/voided)
	TotalCount  int
}

type TrendPoint struct {
	Month  string // "2026-01"
	Amount decimal.Decimal
	Count  int
}

type AgentTotal struct {
	AgentID AgentID
	Name    string
	Amount  decimal.Decimal
	Count   int
}

type Dashboard struct {
	Summary            DashboardSummary
	TrendData          []TrendPoint
	TopAgents          []AgentTotal
	RecentTransactions []CommissionRecord
}

// =============================================================================
// REPORTING
// =============================================================================

const (
	trendMonths     = 6
	topAgentLimit   = 8
	recentTxnsLimit = 10
)

// Dashboard computes the dashboard payload from current records.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	records, err := e.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return nil, err
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[AgentID]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}

	d := &Dashboard{
		Summary: DashboardSummary{
			ByStatus:    make(map[CommissionStatus]StatusTotal),
			TotalAmount: decimal.Zero,
		},
	}

	now := time.Now().UTC()
	trendStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trendMonths - 1), 0)
	trend := make(map[string]*TrendPoint)
	perAgent := make(map[AgentID]*AgentTotal)

	for _, rec := range records {
		st := d.Summary.ByStatus[rec.Status]
		st.Count++
		st.Amount = st.Amount.Add(rec.CommissionAmount)
		d.Summary.ByStatus[rec.Status] = st

		if rec.Status == StatusReversed || rec.Status == StatusVoided {
			continue
		}
		d.Summary.TotalAmount = d.Summary.TotalAmount.Add(rec.CommissionAmount)
		d.Summary.TotalCount++

		if !rec.SaleDate.Before(trendStart) {
			key := rec.SaleDate.UTC().Format("2006-01")
			tp, ok := trend[key]
			if !ok {
				tp = &TrendPoint{Month: key, Amount: decimal.Zero}
				trend[key] = tp
			}
			tp.Amount = tp.Amount.Add(rec.CommissionAmount)
			tp.Count++
		}

		at, ok := perAgent[rec.AgentID]
		if !ok {
			at = &AgentTotal{AgentID: rec.AgentID, Name: names[rec.AgentID], Amount: decimal.Zero}
			perAgent[rec.AgentID] = at
		}
		at.Amount = at.Amount.Add(rec.CommissionAmount)
		at.Count++
	}

	// Trend: every month in the window, zero-filled, oldest first.
	for m := 0; m < trendMonths; m++ {
		key := trendStart.AddDate(0, m, 0).Format("2006-01")
		if tp, ok := trend[key]; ok {
			d.TrendData = append(d.TrendData, *tp)
		} else {
			d.TrendData = append(d.TrendData, TrendPoint{Month: key, Amount: decimal.Zero})
		}
	}

	for _, at := range perAgent {
		d.TopAgents = append(d.TopAgents, *at)
	}
	sort.Slice(d.TopAgents, func(i, j int) bool {
		return d.TopAgents[i].Amount.GreaterThan(d.TopAgents[j].Amount)
	})
	if len(d.TopAgents) > topAgentLimit {
		d.TopAgents = d.TopAgents[:topAgentLimit]
	}

	// Recent activity: most recently modified first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastModifiedAt.After(records[j].LastModifiedAt)
	})
	if len(records) > recentTxnsLimit {
		records = records[:recentTxnsLimit]
	}
	d.RecentTransactions = records

	return d, nil
}

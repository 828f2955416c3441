/*
period.go - Pay-period lifecycle and aggregation

PURPOSE:
  Groups commission records into pay periods by sale date and walks each
  period through its settlement lifecycle:

      OPEN -> CLOSED -> PROCESSING -> PAID

  Strictly linear - no skipping, no reopening. The status field itself is
  compare-and-swap guarded; no wider lock on the period is needed.

MEMBERSHIP:
  A record joins exactly one period, assigned at creation from its sale
  date. Default buckets are calendar months. Closing a period freezes
  membership: late-arriving commissions for a closed range roll forward
  into the currently open bucket.

PAYMENT RUNS:
  ProcessPayments iterates APPROVED members and marks each paid through
  the ledger. Individual failures don't abort the run; the period stays
  PROCESSING and the failure set is reported. Already-PAID members are
  skipped, so an interrupted run is safe to resume.

AGGREGATES:
  Totals are recomputed from member records on read. There is no cached
  total column that can drift.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// PAY PERIOD MANAGER
// =============================================================================

type PayPeriodManager struct {
	store  TxStore
	ledger *CommissionLedger // set by engine.New after the ledger exists
	config Config
	logger *zap.Logger
}

func NewPayPeriodManager(store TxStore, config Config, logger *zap.Logger) *PayPeriodManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayPeriodManager{store: store, config: config, logger: logger}
}

// monthlyBounds returns the calendar-month bucket containing date.
func monthlyBounds(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}

// EnsurePeriodFor returns the OPEN period covering the date, creating a
// calendar-month period when none exists. When the covering period is
// already closed, the lookup rolls forward so late postings land in the
// currently open bucket.
func (p *PayPeriodManager) EnsurePeriodFor(ctx context.Context, date time.Time) (*PayPeriod, error) {
	var out *PayPeriod
	err := p.store.WithTx(ctx, func(s Store) error {
		period, err := p.ensurePeriodIn(ctx, s, date)
		if err != nil {
			return err
		}
		out = period
		return nil
	})
	return out, err
}

func (p *PayPeriodManager) ensurePeriodIn(ctx context.Context, s Store, date time.Time) (*PayPeriod, error) {
	target := date
	// Bounded roll-forward: a closed bucket pushes the record into the
	// next month that is still open (or has no period yet).
	for i := 0; i < 24; i++ {
		open, err := s.OpenPeriodCovering(ctx, target)
		if err != nil {
			return nil, err
		}
		if open != nil {
			return open, nil
		}

		covering, err := s.PeriodCovering(ctx, target)
		if err != nil {
			return nil, err
		}
		if covering == nil {
			start, end := monthlyBounds(target)

			// Clamp the calendar-month bucket against existing periods:
			// engine-created periods never overlap custom ones. No existing
			// period contains target at this point, so every neighbor lies
			// entirely before or after it within the month.
			day := target.UTC().Truncate(24 * time.Hour)
			existing, err := s.ListPeriods(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range existing {
				if e.EndDate.Before(start) || e.StartDate.After(end) {
					continue
				}
				if e.EndDate.Before(day) {
					if next := e.EndDate.AddDate(0, 0, 1); next.After(start) {
						start = next
					}
				} else if prev := e.StartDate.AddDate(0, 0, -1); prev.Before(end) {
					end = prev
				}
			}

			period := PayPeriod{
				ID:        PeriodID(uuid.NewString()),
				StartDate: start,
				EndDate:   end,
				Status:    PeriodOpen,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.InsertPeriod(ctx, period); err != nil {
				return nil, err
			}
			return &period, nil
		}

		// Covering period exists but is no longer open.
		target = covering.EndDate.AddDate(0, 0, 1)
	}
	return nil, fmt.Errorf("no open pay period reachable from %s", date.Format("2006-01-02"))
}

// CreatePeriod opens an explicit period. Ranges may not overlap existing
// periods.
func (p *PayPeriodManager) CreatePeriod(ctx context.Context, start, end time.Time) (*PayPeriod, error) {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		return nil, &ValidationError{Field: "endDate", Message: "end date before start date"}
	}

	var out *PayPeriod
	err := p.store.WithTx(ctx, func(s Store) error {
		existing, err := s.ListPeriods(ctx)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if !start.After(e.EndDate) && !end.Before(e.StartDate) {
				return &ValidationError{Field: "startDate", Message: fmt.Sprintf("range overlaps period %s", e.ID)}
			}
		}

		period := PayPeriod{
			ID:        PeriodID(uuid.NewString()),
			StartDate: start,
			EndDate:   end,
			Status:    PeriodOpen,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.InsertPeriod(ctx, period); err != nil {
			return err
		}
		out = &period
		return nil
	})
	return out, err
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// ClosePeriod freezes membership: OPEN -> CLOSED. With the
// RequireApprovalBeforeClose policy enabled, closing fails while any
// member record is still PENDING. Closing never force-approves members.
func (p *PayPeriodManager) ClosePeriod(ctx context.Context, id PeriodID) (*PayPeriod, error) {
	now := time.Now().UTC()
	var out *PayPeriod

	err := p.store.WithTx(ctx, func(s Store) error {
		period, err := s.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if period == nil {
			return ErrPeriodNotFound
		}
		if period.Status != PeriodOpen {
			return &InvalidStateTransitionError{Op: "close", ID: string(id), From: string(period.Status), To: string(PeriodClosed)}
		}

		if p.config.RequireApprovalBeforeClose {
			pending, err := s.ListRecords(ctx, RecordFilter{PayPeriodID: id, Status: StatusPending})
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return &InvalidStateTransitionError{Op: "close", ID: string(id), From: string(PeriodOpen), To: string(PeriodClosed)}
			}
		}

		ok, err := s.UpdatePeriodStatus(ctx, id, PeriodOpen, PeriodClosed, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentModification
		}

		period.Status = PeriodClosed
		period.UpdatedAt = now
		out = period
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PaymentRunReport describes the outcome of a ProcessPayments run.
type PaymentRunReport struct {
	PeriodID PeriodID
	Paid     []RecordID
	// Skipped holds members that were already PAID (resumed run) or not
	// eligible (never approved).
	Skipped []RecordID
	Failed  []BulkFailure
	// Completed is true when the period reached PAID.
	Completed bool
}

// ProcessPayments runs payment over a CLOSED period: CLOSED -> PROCESSING,
// then marks every APPROVED member paid. Zero failures completes the
// period to PAID; otherwise it stays PROCESSING for a retry, with
// already-paid members skipped on resume.
func (p *PayPeriodManager) ProcessPayments(ctx context.Context, id PeriodID, actingUserID, paymentRef string) (*PaymentRunReport, error) {
	now := time.Now().UTC()

	period, err := p.store.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, ErrPeriodNotFound
	}

	switch period.Status {
	case PeriodClosed:
		ok, err := p.store.UpdatePeriodStatus(ctx, id, PeriodClosed, PeriodProcessing, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConcurrentModification
		}
	case PeriodProcessing:
		// Interrupted run: resume. Paid members are skipped below.
	default:
		return nil, &InvalidStateTransitionError{Op: "process", ID: string(id), From: string(period.Status), To: string(PeriodProcessing)}
	}

	if paymentRef == "" {
		paymentRef = fmt.Sprintf("PAYRUN-%s", now.Format("20060102-150405"))
	}

	members, err := p.store.ListRecords(ctx, RecordFilter{PayPeriodID: id})
	if err != nil {
		return nil, err
	}

	report := &PaymentRunReport{PeriodID: id}
	for _, rec := range members {
		switch rec.Status {
		case StatusApproved:
			if _, err := p.ledger.MarkPaid(ctx, rec.ID, actingUserID, paymentRef); err != nil {
				p.logger.Error("payment failed for commission",
					zap.String("record_id", string(rec.ID)),
					zap.String("period_id", string(id)),
					zap.Error(err))
				report.Failed = append(report.Failed, BulkFailure{ID: rec.ID, Err: err})
				continue
			}
			report.Paid = append(report.Paid, rec.ID)
		default:
			report.Skipped = append(report.Skipped, rec.ID)
		}
	}

	if len(report.Failed) == 0 {
		ok, err := p.store.UpdatePeriodStatus(ctx, id, PeriodProcessing, PeriodPaid, time.Now().UTC())
		if err != nil {
			return report, err
		}
		report.Completed = ok
	}
	return report, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetPeriod returns a period by id.
func (p *PayPeriodManager) GetPeriod(ctx context.Context, id PeriodID) (*PayPeriod, error) {
	period, err := p.store.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, ErrPeriodNotFound
	}
	return period, nil
}

// ListPeriods returns all periods.
func (p *PayPeriodManager) ListPeriods(ctx context.Context) ([]PayPeriod, error) {
	return p.store.ListPeriods(ctx)
}

// Summary recomputes the period aggregates from member records. Reversed
// and voided members keep their history but don't count toward the total.
func (p *PayPeriodManager) Summary(ctx context.Context, id PeriodID) (*PeriodSummary, error) {
	period, err := p.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}

	members, err := p.store.ListRecords(ctx, RecordFilter{PayPeriodID: id})
	if err != nil {
		return nil, err
	}

	summary := &PeriodSummary{
		Period:       *period,
		TotalAmount:  decimal.Zero,
		StatusCounts: make(map[CommissionStatus]int),
	}
	agents := make(map[AgentID]struct{})
	for _, rec := range members {
		summary.StatusCounts[rec.Status]++
		if rec.Status == StatusReversed || rec.Status == StatusVoided {
			continue
		}
		summary.TotalAmount = summary.TotalAmount.Add(rec.CommissionAmount)
		summary.CommissionCount++
		agents[rec.AgentID] = struct{}{}
	}
	summary.AgentCount = len(agents)
	return summary, nil
}

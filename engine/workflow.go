/*
workflow.go - Bulk approval/payment orchestration

PURPOSE:
  Wraps the ledger's single-record transitions with the best-effort bulk
  semantics the approval screen expects: "Approve Selected" attempts every
  id independently, and partial success is a normal outcome that gets
  surfaced, not an error that aborts the batch.

DEADLINES:
  Pending records carry an advisory adjustment deadline (the grace-period
  end). DaysUntilDeadline can go negative; approval is never blocked by
  an expired deadline - only Adjust is.

CONCURRENCY:
  Ids in a batch are distinct lock keys, so the ledger serializes per id
  while the batch as a whole can fan out.
*/
package engine

import (
	"context"
	"math"
	"sync"
	"time"
)

// =============================================================================
// BULK RESULTS
// =============================================================================

// BulkFailure pairs a record id with the error that stopped it.
type BulkFailure struct {
	ID  RecordID
	Err error
}

// BulkResult reports a best-effort batch outcome.
// len(Succeeded) + len(Failed) always equals the input length.
type BulkResult struct {
	Succeeded []RecordID
	Failed    []BulkFailure
}

// =============================================================================
// APPROVAL WORKFLOW
// =============================================================================

type ApprovalWorkflow struct {
	ledger *CommissionLedger
	store  Store
	config Config
}

func NewApprovalWorkflow(ledger *CommissionLedger, store Store, config Config) *ApprovalWorkflow {
	return &ApprovalWorkflow{ledger: ledger, store: store, config: config}
}

// BulkApprove attempts to approve every id independently.
func (w *ApprovalWorkflow) BulkApprove(ctx context.Context, ids []RecordID, actingUserID string) *BulkResult {
	return w.forEach(ids, func(id RecordID) error {
		_, err := w.ledger.Approve(ctx, id, actingUserID)
		return err
	})
}

// BulkMarkPaid attempts to mark every id paid independently, sharing one
// payment reference across the batch.
func (w *ApprovalWorkflow) BulkMarkPaid(ctx context.Context, ids []RecordID, actingUserID, paymentRef string) *BulkResult {
	return w.forEach(ids, func(id RecordID) error {
		_, err := w.ledger.MarkPaid(ctx, id, actingUserID, paymentRef)
		return err
	})
}

// forEach fans the operation out across distinct ids. Per-id ordering is
// guaranteed by the ledger's keyed locks; result order follows input order.
func (w *ApprovalWorkflow) forEach(ids []RecordID, op func(RecordID) error) *BulkResult {
	type outcome struct {
		id  RecordID
		err error
	}
	outcomes := make([]outcome, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id RecordID) {
			defer wg.Done()
			outcomes[i] = outcome{id: id, err: op(id)}
		}(i, id)
	}
	wg.Wait()

	result := &BulkResult{}
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: o.id, Err: o.err})
			continue
		}
		result.Succeeded = append(result.Succeeded, o.id)
	}
	return result
}

// =============================================================================
// PENDING QUEUE
// =============================================================================

// PendingCommission is a PENDING record decorated with its adjustment
// deadline for the approval queue.
type PendingCommission struct {
	Record            CommissionRecord
	GracePeriodEnd    time.Time
	DaysUntilDeadline int
}

// PendingApprovals lists PENDING records oldest-first, each with the
// advisory deadline derived from the grace window.
func (w *ApprovalWorkflow) PendingApprovals(ctx context.Context, limit int) ([]PendingCommission, error) {
	records, err := w.store.ListRecords(ctx, RecordFilter{Status: StatusPending, Limit: limit})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]PendingCommission, len(records))
	for i, rec := range records {
		deadline := rec.GracePeriodEnd(w.config.GracePeriodDays)
		out[i] = PendingCommission{
			Record:            rec,
			GracePeriodEnd:    deadline,
			DaysUntilDeadline: daysUntil(now, deadline),
		}
	}
	return out, nil
}

// daysUntil rounds toward the deadline: a deadline later today counts as
// 1 day left, yesterday's counts as -1.
func daysUntil(now, deadline time.Time) int {
	hours := deadline.Sub(now).Hours()
	if hours >= 0 {
		return int(math.Ceil(hours / 24))
	}
	return int(math.Floor(hours / 24))
}

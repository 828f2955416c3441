package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeltrade/commission-engine/engine"
	"github.com/steeltrade/commission-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id, invoiceID string, status engine.CommissionStatus) engine.CommissionRecord {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	return engine.CommissionRecord{
		ID:               engine.RecordID(id),
		InvoiceID:        engine.InvoiceID(invoiceID),
		AgentID:          "agent-1",
		SaleAmount:       engine.MustDecimal("1000"),
		SaleDate:         now,
		CommissionRate:   engine.MustDecimal("2.5"),
		CommissionAmount: engine.MustDecimal("25"),
		Status:           status,
		PayPeriodID:      "period-1",
		CreatedAt:        now,
		LastModifiedAt:   now,
	}
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_RecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "inv-1", engine.StatusPending)
	require.NoError(t, store.InsertRecord(ctx, rec))

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CommissionRate.Equal(engine.MustDecimal("2.5")), "decimals survive text storage exactly")
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	assert.Equal(t, engine.StatusPending, got.Status)

	missing, err := store.GetRecord(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_PlanTiersRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := engine.CommissionPlan{
		ID:       "plan-1",
		Name:     "Standard",
		IsActive: true,
		Tiers: []engine.Tier{
			{MinAmount: engine.MustDecimal("0"), MaxAmount: engine.DecimalPtr(engine.MustDecimal("10000")), Rate: engine.MustDecimal("2")},
			{MinAmount: engine.MustDecimal("10000"), Rate: engine.MustDecimal("3")},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SavePlan(ctx, plan))

	got, err := store.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Tiers, 2)
	assert.True(t, got.Tiers[0].MaxAmount.Equal(engine.MustDecimal("10000")))
	assert.Nil(t, got.Tiers[1].MaxAmount, "unbounded tier stays unbounded")
}

// =============================================================================
// ACTIVE-INVOICE UNIQUENESS
// =============================================================================

func TestStore_ActiveInvoiceUniqueIndex(t *testing.T) {
	// The partial unique index backstops the engine: two active records for
	// one invoice cannot coexist, but voided history rows can pile up.
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRecord(ctx, testRecord("rec-1", "inv-1", engine.StatusPending)))

	err := store.InsertRecord(ctx, testRecord("rec-2", "inv-1", engine.StatusPending))
	require.Error(t, err)
	var dup *engine.DuplicateInvoiceError
	assert.ErrorAs(t, err, &dup)

	require.NoError(t, store.InsertRecord(ctx, testRecord("rec-3", "inv-2", engine.StatusVoided)))
	require.NoError(t, store.InsertRecord(ctx, testRecord("rec-4", "inv-2", engine.StatusPending)),
		"voided record does not block a fresh active one")

	active, err := store.ActiveRecordByInvoice(ctx, "inv-2")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, engine.RecordID("rec-4"), active.ID)
}

// =============================================================================
// COMPARE-AND-SWAP
// =============================================================================

func TestStore_UpdateRecordStatusCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRecord(ctx, testRecord("rec-1", "inv-1", engine.StatusPending)))

	ok, err := store.UpdateRecordStatus(ctx, "rec-1", engine.StatusPending, engine.StatusApproved, "", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second swap from the same expected status loses.
	ok, err = store.UpdateRecordStatus(ctx, "rec-1", engine.StatusPending, engine.StatusApproved, "", now)
	require.NoError(t, err)
	assert.False(t, ok)

	// Empty payment reference leaves the stored one alone; non-empty stamps it.
	ok, err = store.UpdateRecordStatus(ctx, "rec-1", engine.StatusApproved, engine.StatusPaid, "WIRE-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaid, got.Status)
	assert.Equal(t, "WIRE-1", got.PaymentReference)
}

func TestStore_UpdateRecordAmountOnlyWhilePending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRecord(ctx, testRecord("rec-1", "inv-1", engine.StatusApproved)))

	ok, err := store.UpdateRecordAmount(ctx, "rec-1", engine.MustDecimal("10"), now)
	require.NoError(t, err)
	assert.False(t, ok, "amount guard is part of the statement")
}

func TestStore_UpdatePeriodStatusCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	period := engine.PayPeriod{
		ID:        "period-1",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Status:    engine.PeriodOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.InsertPeriod(ctx, period))

	ok, err := store.UpdatePeriodStatus(ctx, "period-1", engine.PeriodOpen, engine.PeriodClosed, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdatePeriodStatus(ctx, "period-1", engine.PeriodOpen, engine.PeriodClosed, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// PERIOD LOOKUPS
// =============================================================================

func TestStore_PeriodCovering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	period := engine.PayPeriod{
		ID:        "feb",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Status:    engine.PeriodOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.InsertPeriod(ctx, period))

	got, err := store.OpenPeriodCovering(ctx, time.Date(2026, 2, 28, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got, "end date is inclusive")
	assert.Equal(t, engine.PeriodID("feb"), got.ID)

	got, err = store.OpenPeriodCovering(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, got)

	// After closing, the open lookup misses but the general one still hits.
	_, err = store.UpdatePeriodStatus(ctx, "feb", engine.PeriodOpen, engine.PeriodClosed, now)
	require.NoError(t, err)

	got, err = store.OpenPeriodCovering(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.PeriodCovering(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.PeriodClosed, got.Status)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertRecord(ctx, testRecord("rec-1", "inv-1", engine.StatusPending)); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, got, "failed transaction leaves nothing behind")
}

func TestStore_WithTxReadsOwnWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertRecord(ctx, testRecord("rec-1", "inv-1", engine.StatusPending)); err != nil {
			return err
		}
		got, err := s.GetRecord(ctx, "rec-1")
		if err != nil {
			return err
		}
		require.NotNil(t, got, "reads inside the transaction see its writes")

		entry := engine.AuditEntry{
			ID:        "entry-1",
			RecordID:  "rec-1",
			EventType: engine.EventCreated,
			CreatedAt: time.Now().UTC(),
		}
		return s.AppendAudit(ctx, entry)
	})
	require.NoError(t, err)

	trail, err := store.AuditTrail(ctx, "rec-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestStore_AuditTrailKeepsAppendOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Same created_at on purpose: ordering must come from insertion order.
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i, ev := range []engine.AuditEventType{engine.EventCreated, engine.EventAccrued, engine.EventApproved} {
		entry := engine.AuditEntry{
			ID:        engine.EntryID([]string{"e1", "e2", "e3"}[i]),
			RecordID:  "rec-1",
			EventType: ev,
			CreatedAt: at,
		}
		require.NoError(t, store.AppendAudit(ctx, entry))
	}

	trail, err := store.AuditTrail(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, engine.EventCreated, trail[0].EventType)
	assert.Equal(t, engine.EventAccrued, trail[1].EventType)
	assert.Equal(t, engine.EventApproved, trail[2].EventType)
}

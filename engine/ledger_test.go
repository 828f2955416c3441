package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeltrade/commission-engine/engine"
	"github.com/steeltrade/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func createCommission(t *testing.T, eng *engine.Engine, agentID engine.AgentID, invoiceID string, saleAmount string) *engine.CommissionRecord {
	t.Helper()
	rec, err := eng.Ledger.Create(context.Background(), engine.CreateInput{
		InvoiceID:     engine.InvoiceID(invoiceID),
		InvoiceNumber: "INV-" + invoiceID,
		AgentID:       agentID,
		SaleAmount:    engine.MustDecimal(saleAmount),
		SaleDate:      time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		ActingUserID:  "system",
	})
	require.NoError(t, err)
	return rec
}

// seedRecordWithStatus inserts a record directly, bypassing Create, so
// tests can start from an arbitrary lifecycle state or creation time.
func seedRecordWithStatus(t *testing.T, store *sqlite.Store, id string, agentID engine.AgentID, status engine.CommissionStatus, createdAt time.Time) engine.RecordID {
	t.Helper()
	rec := engine.CommissionRecord{
		ID:               engine.RecordID(id),
		InvoiceID:        engine.InvoiceID("inv-" + id),
		AgentID:          agentID,
		SaleAmount:       engine.MustDecimal("1000"),
		SaleDate:         createdAt,
		CommissionRate:   engine.MustDecimal("2"),
		CommissionAmount: engine.MustDecimal("20"),
		Status:           status,
		PayPeriodID:      "period-seed",
		CreatedAt:        createdAt,
		LastModifiedAt:   createdAt,
	}
	require.NoError(t, store.InsertRecord(context.Background(), rec))
	return rec.ID
}

// =============================================================================
// CREATION
// =============================================================================

func TestLedger_Create_TieredCommission(t *testing.T) {
	// GIVEN: An agent on the standard schedule ([0,10000) 2%, [10000,inf) 3%)
	// WHEN: Posting a 15000 sale
	// THEN: Rate 3, amount 450.00, status PENDING, period assigned

	eng, _ := newTestEngine(t)
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	rec := createCommission(t, eng, agentID, "inv-1", "15000")

	assert.Equal(t, engine.StatusPending, rec.Status)
	assert.True(t, rec.CommissionRate.Equal(engine.MustDecimal("3")))
	assert.True(t, rec.CommissionAmount.Equal(engine.MustDecimal("450")))
	assert.NotEmpty(t, rec.PayPeriodID, "record joins a pay period at creation")
}

func TestLedger_Create_DuplicateInvoiceRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	first := createCommission(t, eng, agentID, "inv-1", "5000")

	_, err := eng.Ledger.Create(context.Background(), engine.CreateInput{
		InvoiceID:  "inv-1",
		AgentID:    agentID,
		SaleAmount: engine.MustDecimal("5000"),
		SaleDate:   time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	var dup *engine.DuplicateInvoiceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
	assert.ErrorIs(t, err, engine.ErrDuplicateInvoice)
}

func TestLedger_Create_AfterVoidSupersedes(t *testing.T) {
	// GIVEN: A voided commission for an invoice
	// WHEN: Creating a fresh commission for the same invoice
	// THEN: Allowed, and the new record references the voided one

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	old := createCommission(t, eng, agentID, "inv-1", "5000")
	_, err := eng.Ledger.Void(ctx, old.ID, "wrong agent", "admin")
	require.NoError(t, err)

	fresh := createCommission(t, eng, agentID, "inv-1", "6000")
	assert.Equal(t, old.ID, fresh.SupersedesID)
	assert.NotEqual(t, old.ID, fresh.ID)
}

func TestLedger_Create_UnknownAgentRejected(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Ledger.Create(context.Background(), engine.CreateInput{
		InvoiceID:  "inv-1",
		AgentID:    "ghost",
		SaleAmount: engine.MustDecimal("100"),
		SaleDate:   time.Now(),
	})
	assert.ErrorIs(t, err, engine.ErrAgentNotFound)
}

func TestLedger_Create_TierGapLeavesInvoiceCommissionless(t *testing.T) {
	// GIVEN: An agent on a corrupt schedule with a hole between 5000 and 6000
	//        (seeded through the store; CreatePlan would reject the gap)
	// WHEN: Posting a sale that falls into the hole
	// THEN: Creation fails with a tier resolution error naming the plan, and
	//       the invoice ends up with no commission record

	eng, store := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgent(t, eng, "agent-1", "Ana")

	now := time.Now().UTC()
	gapped := engine.CommissionPlan{
		ID:       "plan-gap",
		Name:     "Corrupt",
		IsActive: true,
		Tiers: []engine.Tier{
			{MinAmount: engine.MustDecimal("0"), MaxAmount: engine.DecimalPtr(engine.MustDecimal("5000")), Rate: engine.MustDecimal("2")},
			{MinAmount: engine.MustDecimal("6000"), Rate: engine.MustDecimal("3")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SavePlan(ctx, gapped))
	_, err := eng.Catalog.AssignPlan(ctx, agentID, "plan-gap",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "admin")
	require.NoError(t, err)

	_, err = eng.Ledger.Create(ctx, engine.CreateInput{
		InvoiceID:  "inv-1",
		AgentID:    agentID,
		SaleAmount: engine.MustDecimal("5500"),
		SaleDate:   time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrTierResolution)

	var tre *engine.TierResolutionError
	require.ErrorAs(t, err, &tre)
	assert.Equal(t, engine.PlanID("plan-gap"), tre.PlanID)

	_, err = eng.Ledger.GetByInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
}

func TestLedger_Create_WritesCreationAuditEntries(t *testing.T) {
	eng, _ := newTestEngine(t)
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	rec := createCommission(t, eng, agentID, "inv-1", "15000")

	trail, err := eng.Audit.Trail(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, engine.EventCreated, trail[0].EventType)
	assert.Equal(t, engine.EventAccrued, trail[1].EventType)
	require.NotNil(t, trail[1].NewValue)
	assert.Equal(t, "450", *trail[1].NewValue)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestLedger_HappyPath_PendingApprovedPaid(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	rec := createCommission(t, eng, agentID, "inv-1", "15000")

	approved, err := eng.Ledger.Approve(ctx, rec.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusApproved, approved.Status)

	paid, err := eng.Ledger.MarkPaid(ctx, rec.ID, "finance", "WIRE-42")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaid, paid.Status)
	assert.Equal(t, "WIRE-42", paid.PaymentReference)

	trail, err := eng.Audit.Trail(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, engine.EventApproved, trail[2].EventType)
	assert.Equal(t, "manager", trail[2].ActorID)
	assert.Equal(t, engine.EventPaid, trail[3].EventType)
}

func TestLedger_TransitionLegalityMatrix(t *testing.T) {
	// Every operation against every starting status. PAID, REVERSED, and
	// VOIDED are terminal; nothing moves out of them.
	type op struct {
		name string
		run  func(eng *engine.Engine, id engine.RecordID) error
	}
	ops := []op{
		{"approve", func(eng *engine.Engine, id engine.RecordID) error {
			_, err := eng.Ledger.Approve(context.Background(), id, "u")
			return err
		}},
		{"markPaid", func(eng *engine.Engine, id engine.RecordID) error {
			_, err := eng.Ledger.MarkPaid(context.Background(), id, "u", "REF")
			return err
		}},
		{"reverse", func(eng *engine.Engine, id engine.RecordID) error {
			_, err := eng.Ledger.Reverse(context.Background(), id, "because", "u")
			return err
		}},
		{"void", func(eng *engine.Engine, id engine.RecordID) error {
			_, err := eng.Ledger.Void(context.Background(), id, "because", "u")
			return err
		}},
	}

	legal := map[string]map[engine.CommissionStatus]bool{
		"approve":  {engine.StatusPending: true},
		"markPaid": {engine.StatusApproved: true},
		"reverse":  {engine.StatusPending: true, engine.StatusApproved: true},
		"void":     {engine.StatusPending: true, engine.StatusApproved: true},
	}

	statuses := []engine.CommissionStatus{
		engine.StatusPending, engine.StatusApproved, engine.StatusPaid,
		engine.StatusReversed, engine.StatusVoided,
	}

	for _, o := range ops {
		for i, status := range statuses {
			t.Run(fmt.Sprintf("%s_from_%s", o.name, status), func(t *testing.T) {
				eng, store := newTestEngine(t)
				agentID := seedAgent(t, eng, "agent-1", "Ana")
				id := seedRecordWithStatus(t, store, fmt.Sprintf("rec-%s-%d", o.name, i), agentID, status, time.Now().UTC())

				err := o.run(eng, id)
				if legal[o.name][status] {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.ErrorIs(t, err, engine.ErrInvalidTransition)
			})
		}
	}
}

func TestLedger_MarkPaidRequiresReference(t *testing.T) {
	eng, store := newTestEngine(t)
	agentID := seedAgent(t, eng, "agent-1", "Ana")
	id := seedRecordWithStatus(t, store, "rec-1", agentID, engine.StatusApproved, time.Now().UTC())

	_, err := eng.Ledger.MarkPaid(context.Background(), id, "finance", "")
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "paymentReference", ve.Field)
}

func TestLedger_ReverseAndVoidRequireReason(t *testing.T) {
	eng, store := newTestEngine(t)
	agentID := seedAgent(t, eng, "agent-1", "Ana")
	id := seedRecordWithStatus(t, store, "rec-1", agentID, engine.StatusPending, time.Now().UTC())

	var ve *engine.ValidationError
	_, err := eng.Ledger.Reverse(context.Background(), id, "", "admin")
	assert.ErrorAs(t, err, &ve)

	_, err = eng.Ledger.Void(context.Background(), id, "", "admin")
	assert.ErrorAs(t, err, &ve)
}

func TestLedger_ReverseKeepsRecordQueryable(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	rec := createCommission(t, eng, agentID, "inv-1", "5000")
	reversed, err := eng.Ledger.Reverse(ctx, rec.ID, "invoice cancelled", "admin")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReversed, reversed.Status)

	// Still visible by id, but no longer the invoice's active commission.
	got, err := eng.Ledger.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReversed, got.Status)

	_, err = eng.Ledger.GetByInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
}

// =============================================================================
// ADJUSTMENT AND GRACE PERIOD
// =============================================================================

func TestLedger_Adjust_WithinGraceWindow(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgentWithPlan(t, eng, "agent-1")

	rec := createCommission(t, eng, agentID, "inv-1", "15000")

	adjusted, err := eng.Ledger.Adjust(ctx, rec.ID, engine.MustDecimal("400"), "partial return", "manager")
	require.NoError(t, err)
	assert.True(t, adjusted.CommissionAmount.Equal(engine.MustDecimal("400")))
	assert.Equal(t, engine.StatusPending, adjusted.Status, "adjustment keeps the record pending")

	trail, err := eng.Audit.Trail(ctx, rec.ID)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, engine.EventAdjusted, last.EventType)
	require.NotNil(t, last.OldValue)
	require.NotNil(t, last.NewValue)
	assert.Equal(t, "450", *last.OldValue)
	assert.Equal(t, "400", *last.NewValue)
	assert.Equal(t, "partial return", last.Notes)
}

func TestLedger_Adjust_PastGraceWindowRejected(t *testing.T) {
	// GIVEN: A PENDING record created 20 days ago (window is 15 days)
	// WHEN: Adjusting vs approving
	// THEN: Adjust fails with GracePeriodExpiredError; approval still works

	eng, store := newTestEngine(t)
	ctx := context.Background()
	agentID := seedAgent(t, eng, "agent-1", "Ana")

	stale := time.Now().UTC().AddDate(0, 0, -20)
	id := seedRecordWithStatus(t, store, "rec-stale", agentID, engine.StatusPending, stale)

	_, err := eng.Ledger.Adjust(ctx, id, engine.MustDecimal("10"), "late fix", "manager")
	require.Error(t, err)
	var expired *engine.GracePeriodExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, id, expired.RecordID)

	_, err = eng.Ledger.Approve(ctx, id, "manager")
	assert.NoError(t, err, "expired grace period never blocks approval")
}

func TestLedger_Adjust_CannotExceedCurrentAmount(t *testing.T) {
	eng, _ := newTestEngine(t)
	agentID := seedAgentWithPlan(t, eng, "agent-1")
	rec := createCommission(t, eng, agentID, "inv-1", "15000")

	_, err := eng.Ledger.Adjust(context.Background(), rec.ID, engine.MustDecimal("500"), "bump", "manager")
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "newAmount", ve.Field)
}

func TestLedger_Adjust_NonPendingRejected(t *testing.T) {
	eng, store := newTestEngine(t)
	agentID := seedAgent(t, eng, "agent-1", "Ana")
	id := seedRecordWithStatus(t, store, "rec-1", agentID, engine.StatusApproved, time.Now().UTC())

	_, err := eng.Ledger.Adjust(context.Background(), id, engine.MustDecimal("10"), "fix", "manager")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

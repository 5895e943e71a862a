package advance_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*advance.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return advance.NewEngine(store, log), store
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func openAdvance(t *testing.T, engine *advance.Engine, amount float64, recurrenceID string) advance.Advance {
	adv, err := engine.CreateAdvance(context.Background(), "b1", dec(amount), "gastos", recurrenceID)
	require.NoError(t, err)
	return adv
}

func cashPayment(advanceID string, amount float64) advance.PaymentRequest {
	return advance.PaymentRequest{AdvanceID: advanceID, Amount: dec(amount), Type: advance.PaymentCash}
}

// =============================================================================
// VALIDATION & CAPS
// =============================================================================

func TestApplyPayment_NonPositiveAmountRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")

	_, err := engine.ApplyPayment(context.Background(), cashPayment(adv.ID, 0))
	assert.ErrorIs(t, err, advance.ErrNonPositiveAmount)

	_, err = engine.ApplyPayment(context.Background(), cashPayment(adv.ID, -5))
	assert.ErrorIs(t, err, advance.ErrNonPositiveAmount)
}

func TestApplyPayment_ExceedsBalance_StateUnchanged(t *testing.T) {
	// GIVEN: An advance with 100 remaining
	// WHEN: Applying 150
	// THEN: The payment fails and balance/status stay untouched

	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")
	ctx := context.Background()

	_, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, 150))
	assert.ErrorIs(t, err, advance.ErrExceedsBalance)
	assert.True(t, advance.IsValidation(err))

	var capErr *advance.CapError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Available.Equal(dec(100)))

	after, err := store.GetAdvance(ctx, adv.ID)
	require.NoError(t, err)
	assert.True(t, after.Amount.Equal(dec(100)))
	assert.Equal(t, advance.StatusPending, after.Status)

	logs, err := store.ListLogs(ctx, adv.ID)
	require.NoError(t, err)
	assert.Empty(t, logs, "a rejected payment leaves no history")
}

func TestApplyPayment_UnknownAdvance(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ApplyPayment(context.Background(), cashPayment("ghost", 10))
	assert.ErrorIs(t, err, advance.ErrAdvanceNotFound)
	assert.True(t, advance.IsNotFound(err))
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestApplyPayment_PartialKeepsAdvanceOpen(t *testing.T) {
	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")
	ctx := context.Background()

	result, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, 30))
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPartial, result.Status)
	assert.True(t, result.NewBalance.Equal(dec(70)))

	logs, err := store.ListLogs(ctx, adv.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Amount.Equal(dec(30)))
}

func TestApplyPayment_NonRecurringTerminatesAtPaid(t *testing.T) {
	// GIVEN: A non-recurring advance of 50 and a pending payment gated on it
	// WHEN: Settling the full 50
	// THEN: amount=0, status=PAID, and the pending payment flips payable

	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 50, "")
	ctx := context.Background()

	require.NoError(t, store.CreatePendingPayment(ctx, advance.PendingPayment{
		ID: "pp-1", BrokerID: "b1", Amount: dec(200),
		Metadata: advance.PaymentMetadata{AdvanceID: adv.ID, Source: "fortnight_payout"},
	}))

	result, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, 50))
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPaid, result.Status)
	assert.True(t, result.NewBalance.IsZero())
	assert.Equal(t, 1, result.PaymentsUnlocked)

	payments, err := store.ListPendingPayments(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].CanBePaid, "PAID cascade must unblock the payout")
}

func TestApplyPayment_RecurringResetsInsteadOfClosing(t *testing.T) {
	// GIVEN: A recurring advance of 50 whose recurrence amount is 50
	// WHEN: Settling the full 50
	// THEN: amount resets to 50 and status to PENDING - never PAID

	engine, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecurrence(ctx, advance.Recurrence{ID: "r1", Amount: dec(50), Active: true}))
	adv := openAdvance(t, engine, 50, "r1")

	result, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, 50))
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPending, result.Status)
	assert.True(t, result.Reset)
	assert.True(t, result.NewBalance.Equal(dec(50)))

	after, err := store.GetAdvance(ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusPending, after.Status)
	assert.True(t, after.Amount.Equal(dec(50)), "balance is ready for the next cycle")
}

// =============================================================================
// FUNDING SOURCES
// =============================================================================

func TestApplyPayment_FortnightCap(t *testing.T) {
	// GIVEN: A broker earned 100 gross this fortnight, 80 already discounted
	// WHEN: Applying a 30 fortnight-funded payment
	// THEN: It fails (only 20 available); a 20 payment succeeds and consumes it

	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")
	ctx := context.Background()

	require.NoError(t, store.SetFortnightTotal(ctx, advance.FortnightTotal{
		FortnightID: "f1", BrokerID: "b1",
		GrossAmount: dec(100), DiscountAmount: dec(80),
	}))

	req := advance.PaymentRequest{AdvanceID: adv.ID, Amount: dec(30), Type: advance.PaymentFortnight, FortnightID: "f1"}
	_, err := engine.ApplyPayment(ctx, req)
	assert.ErrorIs(t, err, advance.ErrExceedsDiscount)

	req.Amount = dec(20)
	_, err = engine.ApplyPayment(ctx, req)
	require.NoError(t, err)

	total, err := store.GetFortnightTotal(ctx, "f1", "b1")
	require.NoError(t, err)
	assert.True(t, total.DiscountAmount.Equal(dec(100)), "discount increments with the payment")
	assert.True(t, total.Available().IsZero())
}

func TestApplyPayment_FortnightWithoutEarningsHasNothingToDeduct(t *testing.T) {
	engine, _ := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")

	_, err := engine.ApplyPayment(context.Background(), advance.PaymentRequest{
		AdvanceID: adv.ID, Amount: dec(10), Type: advance.PaymentFortnight, FortnightID: "f-none",
	})
	assert.ErrorIs(t, err, advance.ErrExceedsDiscount)
}

func TestApplyPayment_TransferFunding(t *testing.T) {
	// GIVEN: A registered transfer of 100
	// WHEN: Funding a 40 payment from it, then attempting 61 more
	// THEN: After the first, used=40/remaining=60/status=partial;
	//       the second fails with ErrExceedsTransfer

	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 200, "")
	ctx := context.Background()

	tracker := advance.NewTracker(store)
	_, err := tracker.Register(ctx, "TRX-100", dec(100))
	require.NoError(t, err)

	req := advance.PaymentRequest{AdvanceID: adv.ID, Amount: dec(40), Type: advance.PaymentTransfer, Reference: "TRX-100"}
	_, err = engine.ApplyPayment(ctx, req)
	require.NoError(t, err)

	view, err := tracker.Get(ctx, "TRX-100")
	require.NoError(t, err)
	assert.True(t, view.UsedAmount.Equal(dec(40)))
	assert.True(t, view.RemainingAmount.Equal(dec(60)))
	assert.Equal(t, advance.TransferPartial, view.Status)

	req.Amount = dec(61)
	_, err = engine.ApplyPayment(ctx, req)
	assert.ErrorIs(t, err, advance.ErrExceedsTransfer)

	// The failed payment must not have debited the transfer.
	view, err = tracker.Get(ctx, "TRX-100")
	require.NoError(t, err)
	assert.True(t, view.UsedAmount.Equal(dec(40)))

	usages, err := store.ListTransferUsages(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, usages, 1, "each funded settlement leaves one audit row")
}

func TestApplyPayment_UnknownTransferReference(t *testing.T) {
	engine, _ := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")

	_, err := engine.ApplyPayment(context.Background(), advance.PaymentRequest{
		AdvanceID: adv.ID, Amount: dec(10), Type: advance.PaymentTransfer, Reference: "TRX-404",
	})
	assert.ErrorIs(t, err, advance.ErrTransferNotFound)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestRejectAdvance_OnlyFromPending(t *testing.T) {
	engine, store := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")
	ctx := context.Background()

	_, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, 10))
	require.NoError(t, err)

	err = engine.RejectAdvance(ctx, adv.ID)
	assert.ErrorIs(t, err, advance.ErrNotRejectable)

	fresh := openAdvance(t, engine, 30, "")
	require.NoError(t, engine.RejectAdvance(ctx, fresh.ID))

	after, err := store.GetAdvance(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, advance.StatusRejected, after.Status)
}

func TestHistory_NewestFirst(t *testing.T) {
	engine, _ := newTestEngine(t)
	adv := openAdvance(t, engine, 100, "")
	ctx := context.Background()

	for _, amount := range []float64{10, 20, 30} {
		_, err := engine.ApplyPayment(ctx, cashPayment(adv.ID, amount))
		require.NoError(t, err)
	}

	logs, err := engine.History(ctx, adv.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	_, err = engine.History(ctx, "ghost")
	assert.ErrorIs(t, err, advance.ErrAdvanceNotFound)
}

func TestCreateAdvance_RequiresActiveRecurrence(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateAdvance(ctx, "b1", dec(50), "", "r-missing")
	assert.ErrorIs(t, err, advance.ErrNoRecurrence)

	require.NoError(t, store.SaveRecurrence(ctx, advance.Recurrence{ID: "r-off", Amount: dec(50), Active: false}))
	_, err = engine.CreateAdvance(ctx, "b1", dec(50), "", "r-off")
	assert.ErrorIs(t, err, advance.ErrNoRecurrence)
}

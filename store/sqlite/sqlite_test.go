package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/commission"
	"github.com/lissa/commission-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDraftDedup_UniqueIndex(t *testing.T) {
	// The dedup key is (fortnight, import, policy_number, insured_name):
	// identical rows collide, any field differing inserts cleanly.

	store := newStore(t)
	ctx := context.Background()

	draft := commission.DraftItem{
		ID: "d1", FortnightID: "f1", ImportID: "i1", InsurerID: "ins-1",
		PolicyNumber: "P-1", InsuredName: "Maria", CommissionRaw: decimal.NewFromInt(10),
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertDraft(ctx, draft))

	dup := draft
	dup.ID = "d2"
	assert.ErrorIs(t, store.InsertDraft(ctx, dup), commission.ErrDuplicateDraft)

	other := draft
	other.ID = "d3"
	other.InsuredName = "Maria Elena"
	assert.NoError(t, store.InsertDraft(ctx, other))

	drafts, err := store.ListDrafts(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, drafts, 2)
}

func TestUpdateAdvanceBalance_OptimisticConflict(t *testing.T) {
	// GIVEN: An advance whose stored amount moved after we read it
	// WHEN: Writing with the stale previous amount
	// THEN: ErrConcurrentModification, and the stored state is untouched

	store := newStore(t)
	ctx := context.Background()

	adv := advance.Advance{
		ID: "a1", BrokerID: "b1", Amount: decimal.NewFromInt(100),
		Status: advance.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateAdvance(ctx, adv))

	// First writer wins.
	require.NoError(t, store.UpdateAdvanceBalance(ctx, "a1",
		decimal.NewFromInt(100), decimal.NewFromInt(60), advance.StatusPartial))

	// Second writer still holds the pre-payment balance.
	err := store.UpdateAdvanceBalance(ctx, "a1",
		decimal.NewFromInt(100), decimal.NewFromInt(40), advance.StatusPartial)
	assert.ErrorIs(t, err, advance.ErrConcurrentModification)
	assert.True(t, advance.IsRetryable(err))

	after, err := store.GetAdvance(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, after.Amount.Equal(decimal.NewFromInt(60)))

	err = store.UpdateAdvanceBalance(ctx, "ghost",
		decimal.NewFromInt(1), decimal.NewFromInt(0), advance.StatusPaid)
	assert.ErrorIs(t, err, advance.ErrAdvanceNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	adv := advance.Advance{
		ID: "a1", BrokerID: "b1", Amount: decimal.NewFromInt(100),
		Status: advance.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateAdvance(ctx, adv))

	err := store.WithTx(ctx, func(tx advance.Store) error {
		if err := tx.AppendLog(ctx, advance.Log{
			ID: "l1", AdvanceID: "a1", Amount: decimal.NewFromInt(10),
			PaymentType: advance.PaymentCash, CreatedAt: time.Now().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		// Stale CAS inside the transaction aborts the whole unit of work.
		return tx.UpdateAdvanceBalance(ctx, "a1",
			decimal.NewFromInt(999), decimal.NewFromInt(0), advance.StatusPaid)
	})
	require.ErrorIs(t, err, advance.ErrConcurrentModification)

	logs, err := store.ListLogs(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, logs, "the log append must roll back with the failed update")
}

func TestTransferReferenceUniqueness(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	tr := advance.BankTransfer{
		ID: "t1", Reference: "TRX-1", Amount: decimal.NewFromInt(100),
		UsedAmount: decimal.Zero, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTransfer(ctx, tr))

	dup := tr
	dup.ID = "t2"
	assert.ErrorIs(t, store.CreateTransfer(ctx, dup), advance.ErrDuplicateReference)
}

func TestMatchRuleFor_UnconfiguredInsurerIsExactOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rule, err := store.MatchRuleFor(ctx, "ins-unknown")
	require.NoError(t, err)
	assert.False(t, rule.Partial)

	require.NoError(t, store.SaveMatchRule(ctx, "ins-1", commission.MatchRule{Partial: true, Delimiter: "-"}))
	rule, err = store.MatchRuleFor(ctx, "ins-1")
	require.NoError(t, err)
	assert.True(t, rule.Partial)
	assert.Equal(t, "-", rule.Delimiter)
}

func TestUpdateImportTotal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	imp := commission.Import{
		ID: "i1", InsurerID: "ins-1", PeriodLabel: "Enero Q1",
		TotalAmount: decimal.NewFromInt(100), CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateImport(ctx, imp))

	require.NoError(t, store.UpdateImportTotal(ctx, "i1", decimal.NewFromInt(120)))
	assert.ErrorIs(t, store.UpdateImportTotal(ctx, "ghost", decimal.NewFromInt(1)), commission.ErrImportNotFound)

	imports, err := store.ListImports(ctx)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.True(t, imports[0].TotalAmount.Equal(decimal.NewFromInt(120)))
}

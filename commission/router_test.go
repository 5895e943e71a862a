package commission_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lissa/commission-engine/commission"
	"github.com/lissa/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func seedDirectory(t *testing.T, store *sqlite.Store) {
	ctx := context.Background()

	require.NoError(t, store.SaveBroker(ctx, commission.Broker{
		ID: "b1", Name: "Ana Rios", PercentDefault: decimal.NewFromFloat(0.8),
	}))
	require.NoError(t, store.SaveBroker(ctx, commission.Broker{
		ID: "b2", Name: "Luis Paz", PercentDefault: decimal.NewFromFloat(0.7),
	}))

	override := decimal.NewFromFloat(0.5)
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		PolicyNumber: "A-9000123", BrokerID: "b1", ClientID: "c1", PercentOverride: &override,
	}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		PolicyNumber: "B-7770001", BrokerID: "b2", ClientID: "c2",
	}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		PolicyNumber: "C-5550001", ClientID: "c3", // no broker assigned
	}))

	require.NoError(t, store.SaveMatchRule(ctx, "ins-1",
		commission.MatchRule{Partial: true, Delimiter: "-"}))
}

func row(number, name string, amount float64) commission.NormalizedRow {
	return commission.NormalizedRow{
		PolicyNumber:     number,
		ClientName:       name,
		CommissionAmount: decimal.NewFromFloat(amount),
	}
}

// =============================================================================
// ROUTING
// =============================================================================

func TestImportBatch_RoutesIdentifiedAndUnidentified(t *testing.T) {
	// GIVEN: A statement with a resolvable row, an ownerless-policy row, and
	//        an unknown row
	// WHEN: Importing the batch
	// THEN: One identified item, two unidentified drafts

	store := newTestStore(t)
	seedDirectory(t, store)
	router := commission.NewRouter(store, store, testLogger())
	ctx := context.Background()

	result, err := router.ImportBatch(ctx, commission.ImportRequest{
		InsurerID:   "ins-1",
		FortnightID: "f-2026-01",
		PeriodLabel: "Enero Q1",
		TotalAmount: decimal.NewFromInt(300),
		Rows: []commission.NormalizedRow{
			row("140-55-9000123", "Maria Gomez", 100), // partial-matches A-9000123
			row("C-5550001", "Pedro Diaz", 100),       // resolves, but no broker
			row("ZZZ-404", "Desconocido", 100),        // no match at all
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ImportID)
	assert.Equal(t, 1, result.InsertedCount)
	assert.Equal(t, 2, result.PendingCount)

	drafts, err := store.ListDrafts(ctx, "f-2026-01")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "C-5550001", drafts[0].PolicyNumber, "resolved-but-ownerless rows keep the matched number")
	assert.True(t, drafts[0].CommissionRaw.Equal(decimal.NewFromInt(100)), "drafts carry the raw amount, unmultiplied")
}

func TestImportBatch_AppliesPercentPriority(t *testing.T) {
	// The A-9000123 policy overrides to 50%; gross must be 100 x 0.5.

	store := newTestStore(t)
	seedDirectory(t, store)
	router := commission.NewRouter(store, store, testLogger())
	ctx := context.Background()

	result, err := router.ImportBatch(ctx, commission.ImportRequest{
		InsurerID:   "ins-1",
		FortnightID: "f-2026-01",
		TotalAmount: decimal.NewFromInt(200),
		Rows: []commission.NormalizedRow{
			row("A-9000123", "Maria Gomez", 100), // override 0.5
			row("B-7770001", "Juan Mora", 100),   // broker default 0.7
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.InsertedCount)
}

func TestImportBatch_ReimportIsIdempotentForDrafts(t *testing.T) {
	// GIVEN: A statement whose rows all land in the unidentified bucket
	// WHEN: Importing the same fortnight's rows twice under one import ID
	// THEN: The draft store holds each row once

	store := newTestStore(t)
	seedDirectory(t, store)
	router := commission.NewRouter(store, store, testLogger())
	ctx := context.Background()

	req := commission.ImportRequest{
		InsurerID:   "ins-1",
		FortnightID: "f-2026-02",
		TotalAmount: decimal.NewFromInt(100),
		Rows: []commission.NormalizedRow{
			row("ZZZ-404", "Desconocido", 60),
			row("ZZZ-405", "Anonimo", 40),
		},
	}

	first, err := router.ImportBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.PendingCount)

	// Re-stage the same rows under the same import (dedup key includes the
	// import ID, so a true re-process means re-inserting identical drafts).
	for _, r := range req.Rows {
		err := store.InsertDraft(ctx, commission.DraftItem{
			ID:            "retry-" + r.PolicyNumber,
			FortnightID:   req.FortnightID,
			ImportID:      first.ImportID,
			InsurerID:     req.InsurerID,
			PolicyNumber:  r.PolicyNumber,
			InsuredName:   r.ClientName,
			CommissionRaw: r.CommissionAmount,
		})
		assert.ErrorIs(t, err, commission.ErrDuplicateDraft)
	}

	drafts, err := store.ListDrafts(ctx, "f-2026-02")
	require.NoError(t, err)
	assert.Len(t, drafts, 2, "re-import must not create duplicates")
}

func TestImportBatch_EmptyBatchRejected(t *testing.T) {
	store := newTestStore(t)
	router := commission.NewRouter(store, store, testLogger())

	_, err := router.ImportBatch(context.Background(), commission.ImportRequest{InsurerID: "ins-1"})
	assert.ErrorIs(t, err, commission.ErrEmptyBatch)
	assert.True(t, commission.IsClientError(err))
}

func TestReassignItems_AssignsBrokerToItems(t *testing.T) {
	// GIVEN: An identified item sitting on the house broker
	// WHEN: Claim resolution reassigns its policy to the real owner
	// THEN: The item's broker changes and the count reflects it

	store := newTestStore(t)
	seedDirectory(t, store)
	router := commission.NewRouter(store, store, testLogger())
	ctx := context.Background()

	_, err := router.ImportBatch(ctx, commission.ImportRequest{
		InsurerID:   "ins-1",
		FortnightID: "f-2026-01",
		TotalAmount: decimal.NewFromInt(100),
		Rows:        []commission.NormalizedRow{row("A-9000123", "Maria Gomez", 100)},
	})
	require.NoError(t, err)

	n, err := store.ReassignItems(ctx, "A-9000123", "b2", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.ReassignItems(ctx, "NOPE-1", "b2", nil)
	require.NoError(t, err)
	assert.Zero(t, n, "unknown policy reassigns nothing")
}

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/api"
	"github.com/lissa/commission-engine/commission"
	"github.com/lissa/commission-engine/store/sqlite"
)

// newTestServer wires the full stack against an in-memory database.
func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	handler := api.NewHandler(
		store,
		commission.NewRouter(store, store, log),
		commission.NewAssaRouter(store, store, "assa", "house", log),
		advance.NewEngine(store, log),
		advance.NewTracker(store),
		advance.NewRepairer(store, log),
		log,
	)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string) *http.Response {
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestImportEndpoint_RoutesRows(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBroker(ctx, commission.Broker{
		ID: "b1", Name: "Ana", PercentDefault: decimal.NewFromFloat(0.8),
	}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		PolicyNumber: "A-9000123", BrokerID: "b1", ClientName: "Maria",
	}))
	require.NoError(t, store.SaveMatchRule(ctx, "ins-1",
		commission.MatchRule{Partial: true, Delimiter: "-"}))

	resp := postJSON(t, srv, "/api/imports", map[string]any{
		"insurer_id":   "ins-1",
		"fortnight_id": "f1",
		"period_label": "Enero Q1",
		"rows": []map[string]any{
			{"policy_number": "A-9000123", "client_name": "Maria", "commission_amount": 100.0},
			{"policy_number": "ZZ-404", "client_name": "Nadie", "commission_amount": 50.0},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		ImportID      string `json:"import_id"`
		InsertedCount int    `json:"inserted_count"`
		PendingCount  int    `json:"pending_count"`
	}
	decode(t, resp, &result)
	assert.NotEmpty(t, result.ImportID)
	assert.Equal(t, 1, result.InsertedCount)
	assert.Equal(t, 1, result.PendingCount)

	// The unmatched row surfaces as a pending item for the fortnight.
	pending := getJSON(t, srv, "/api/pending-items?fortnight_id=f1")
	require.Equal(t, http.StatusOK, pending.StatusCode)
	var drafts []map[string]any
	decode(t, pending, &drafts)
	require.Len(t, drafts, 1)
	assert.Equal(t, "ZZ-404", drafts[0]["policy_number"])
}

func TestImportEndpoint_RejectsEmptyRows(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/api/imports", map[string]any{
		"insurer_id":   "ins-1",
		"fortnight_id": "f1",
		"rows":         []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssaImportEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBroker(ctx, commission.Broker{
		ID: "house", Name: "LISSA", PercentDefault: decimal.NewFromInt(1),
	}))
	require.NoError(t, store.SaveBroker(ctx, commission.Broker{
		ID: "b1", Name: "Ana", PercentDefault: decimal.NewFromFloat(0.8), AssaCode: "PJ750-31",
	}))

	resp := postJSON(t, srv, "/api/imports/assa", map[string]any{
		"fortnight_id": "f1",
		"rows": []map[string]any{
			{"code": "PJ750-31", "paid_amount": 100.0, "insured_name": "Maria"},
			{"code": "PJ750-99", "paid_amount": 40.0, "insured_name": "Nadie"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		ItemCount   int     `json:"item_count"`
		OrphanCount int     `json:"orphan_count"`
		TotalAmount float64 `json:"total_amount"`
	}
	decode(t, resp, &result)
	assert.Equal(t, 2, result.ItemCount)
	assert.Equal(t, 1, result.OrphanCount)
	assert.InDelta(t, 140.0, result.TotalAmount, 0.001)
}

func TestAdvanceLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	// Open
	resp := postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": 100.0, "reason": "adelanto enero",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var adv struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, resp, &adv)
	assert.Equal(t, "PENDING", adv.Status)

	// Partial cash payment
	payResp := postJSON(t, srv, fmt.Sprintf("/api/advances/%s/payments", adv.ID), map[string]any{
		"amount": 40.0, "payment_type": "cash",
	})
	require.Equal(t, http.StatusOK, payResp.StatusCode)
	var pay struct {
		NewBalance float64 `json:"new_balance"`
		Status     string  `json:"status"`
	}
	decode(t, payResp, &pay)
	assert.InDelta(t, 60.0, pay.NewBalance, 0.001)
	assert.Equal(t, "PARTIAL", pay.Status)

	// History shows the payment
	histResp := getJSON(t, srv, fmt.Sprintf("/api/advances/%s/logs", adv.ID))
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	var logs []map[string]any
	decode(t, histResp, &logs)
	assert.Len(t, logs, 1)

	// A partially paid advance can no longer be rejected.
	rejResp := postJSON(t, srv, fmt.Sprintf("/api/advances/%s/reject", adv.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rejResp.StatusCode)
}

func TestAdvanceValidation_NonPositiveAmount(t *testing.T) {
	// The validator rejects the body before the engine ever sees it.
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": -5.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": 100.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var adv struct {
		ID string `json:"id"`
	}
	decode(t, resp, &adv)

	payResp := postJSON(t, srv, fmt.Sprintf("/api/advances/%s/payments", adv.ID), map[string]any{
		"amount": 0.0, "payment_type": "cash",
	})
	assert.Equal(t, http.StatusBadRequest, payResp.StatusCode)
}

func TestPaymentValidation_ConditionalFields(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": 100.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var adv struct {
		ID string `json:"id"`
	}
	decode(t, resp, &adv)

	// fortnight payments need a fortnight_id
	payResp := postJSON(t, srv, fmt.Sprintf("/api/advances/%s/payments", adv.ID), map[string]any{
		"amount": 10.0, "payment_type": "fortnight",
	})
	assert.Equal(t, http.StatusBadRequest, payResp.StatusCode)

	// transfer payments need a reference
	payResp = postJSON(t, srv, fmt.Sprintf("/api/advances/%s/payments", adv.ID), map[string]any{
		"amount": 10.0, "payment_type": "external_transfer",
	})
	assert.Equal(t, http.StatusBadRequest, payResp.StatusCode)

	// unknown payment types never reach the engine
	payResp = postJSON(t, srv, fmt.Sprintf("/api/advances/%s/payments", adv.ID), map[string]any{
		"amount": 10.0, "payment_type": "crypto",
	})
	assert.Equal(t, http.StatusBadRequest, payResp.StatusCode)
}

func TestTransferEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv, "/api/transfers", map[string]any{
		"reference": "TRX-100", "amount": 500.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tr struct {
		Reference string  `json:"reference"`
		Remaining float64 `json:"remaining_amount"`
		Status    string  `json:"status"`
	}
	decode(t, resp, &tr)
	assert.Equal(t, "TRX-100", tr.Reference)
	assert.InDelta(t, 500.0, tr.Remaining, 0.001)
	assert.Equal(t, "available", tr.Status)

	// Re-registering the same reference conflicts.
	dup := postJSON(t, srv, "/api/transfers", map[string]any{
		"reference": "TRX-100", "amount": 500.0,
	})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	list := getJSON(t, srv, "/api/transfers")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var views []map[string]any
	decode(t, list, &views)
	assert.Len(t, views, 1)
}

func TestAdvanceNotFoundMapsTo404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv, "/api/advances/ghost/logs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	payResp := postJSON(t, srv, "/api/advances/ghost/payments", map[string]any{
		"amount": 10.0, "payment_type": "cash",
	})
	assert.Equal(t, http.StatusNotFound, payResp.StatusCode)
}

func TestRecurringRepairEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecurrence(ctx, advance.Recurrence{
		ID: "R", Amount: decimal.NewFromInt(50), Active: true,
	}))

	// Two advances on one recurrence is the corruption the repair fixes.
	resp := postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": 50.0, "recurrence_id": "R",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = postJSON(t, srv, "/api/advances", map[string]any{
		"broker_id": "b1", "amount": 50.0, "recurrence_id": "R",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	repairResp := postJSON(t, srv, "/api/maintenance/recurring-repair", nil)
	require.Equal(t, http.StatusOK, repairResp.StatusCode)
	var result struct {
		Deleted int `json:"deleted"`
	}
	decode(t, repairResp, &result)
	assert.Equal(t, 1, result.Deleted)
}

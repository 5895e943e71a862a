/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes ingestion, settlement, transfer, and maintenance operations via
  REST. Handles HTTP request/response, JSON serialization, validation, and
  delegates to domain logic.

ENDPOINTS:
  Imports:
    POST   /api/imports                 Ingest a carrier statement
    POST   /api/imports/assa            Ingest an ASSA code statement
    GET    /api/imports                 List ingestion runs
    GET    /api/pending-items           List unidentified drafts by fortnight
    POST   /api/items/reassign          Assign a broker to identified items

  Advances:
    POST   /api/advances                Open an advance
    GET    /api/advances                List open advances
    GET    /api/advances/{id}/logs      Payment history
    POST   /api/advances/{id}/payments  Apply a settlement
    POST   /api/advances/{id}/reject    Reject a pending advance
    POST   /api/advances/{id}/recover   Reset a stuck recurring advance

  Transfers:
    POST   /api/transfers               Register a bank transfer
    GET    /api/transfers               List transfers with derived balances

  Maintenance:
    POST   /api/maintenance/recurring-repair  Run the duplicate repair pass

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, cap violations
  - 404: Resource not found
  - 409: Conflict (duplicate reference, concurrent modification)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/commission"
	"github.com/lissa/commission-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Router     *commission.Router
	AssaRouter *commission.AssaRouter
	Engine     *advance.Engine
	Tracker    *advance.Tracker
	Repairer   *advance.Repairer
	Log        *logrus.Logger

	validate *validator.Validate
}

// NewHandler wires the handler with its domain services.
func NewHandler(store *sqlite.Store, router *commission.Router, assa *commission.AssaRouter, engine *advance.Engine, tracker *advance.Tracker, repairer *advance.Repairer, log *logrus.Logger) *Handler {
	return &Handler{
		Store:      store,
		Router:     router,
		AssaRouter: assa,
		Engine:     engine,
		Tracker:    tracker,
		Repairer:   repairer,
		Log:        log,
		validate:   validator.New(),
	}
}

// decodeAndValidate parses the JSON body and runs struct validation.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// ImportBatch ingests a carrier statement.
// POST /api/imports
func (h *Handler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rows := make([]commission.NormalizedRow, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = commission.NormalizedRow{
			PolicyNumber:     row.PolicyNumber,
			ClientName:       row.ClientName,
			CommissionAmount: toDecimal(row.Commission),
			Raw:              commission.RawRow{Cells: row.RawCells},
		}
	}

	result, err := h.Router.ImportBatch(r.Context(), commission.ImportRequest{
		InsurerID:   commission.InsurerID(req.InsurerID),
		FortnightID: commission.FortnightID(req.FortnightID),
		PeriodLabel: req.PeriodLabel,
		TotalAmount: toDecimal(req.TotalAmount),
		Rows:        rows,
	})
	if err != nil {
		h.writeCommissionError(w, "Import failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, ImportResultDTO{
		ImportID:      string(result.ImportID),
		InsertedCount: result.InsertedCount,
		PendingCount:  result.PendingCount,
	})
}

// ImportCodes ingests an ASSA code statement.
// POST /api/imports/assa
func (h *Handler) ImportCodes(w http.ResponseWriter, r *http.Request) {
	var req CodesImportRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rows := make([]commission.CodeRow, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = commission.CodeRow{
			Code:        row.Code,
			PaidAmount:  toDecimal(row.PaidAmount),
			InsuredName: row.InsuredName,
			Raw:         commission.RawRow{Cells: row.RawCells},
		}
	}

	result, err := h.AssaRouter.ImportCodes(r.Context(), commission.CodesRequest{
		FortnightID: commission.FortnightID(req.FortnightID),
		PeriodLabel: req.PeriodLabel,
		TotalAmount: toDecimal(req.TotalAmount),
		Rows:        rows,
	})
	if err != nil {
		var batchErr *commission.BatchError
		if errors.As(err, &batchErr) {
			// Earlier batches stay committed; tell the caller where it broke.
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Error: "Batch insert failed",
				Code:  "batch_failed",
				Details: map[string]any{
					"batch":     batchErr.Index,
					"committed": batchErr.Committed,
					"import_id": string(result.ImportID),
				},
			})
			return
		}
		h.writeCommissionError(w, "ASSA import failed", err)
		return
	}

	total, _ := result.TotalAmount.Float64()
	writeJSON(w, http.StatusCreated, CodesResultDTO{
		ImportID:    string(result.ImportID),
		ItemCount:   result.ItemCount,
		OrphanCount: result.OrphanCount,
		TotalAmount: total,
	})
}

// ListImports returns ingestion runs, newest first.
// GET /api/imports
func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	imports, err := h.Store.ListImports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list imports", err)
		return
	}

	dtos := make([]ImportDTO, len(imports))
	for i, imp := range imports {
		dtos[i] = toImportDTO(imp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPendingItems returns staged unidentified drafts for a fortnight.
// GET /api/pending-items?fortnight_id=...
func (h *Handler) ListPendingItems(w http.ResponseWriter, r *http.Request) {
	fortnightID := r.URL.Query().Get("fortnight_id")
	if fortnightID == "" {
		writeError(w, http.StatusBadRequest, "fortnight_id is required", nil)
		return
	}

	drafts, err := h.Store.ListDrafts(r.Context(), commission.FortnightID(fortnightID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pending items", err)
		return
	}

	dtos := make([]DraftItemDTO, len(drafts))
	for i, d := range drafts {
		dtos[i] = toDraftDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReassignItems assigns a broker to identified items.
// POST /api/items/reassign
func (h *Handler) ReassignItems(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.Store.ReassignItems(r.Context(), req.PolicyNumber,
		commission.BrokerID(req.BrokerID), req.ItemIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reassign failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ReassignResultDTO{Reassigned: n})
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// CreateAdvance opens a new advance.
// POST /api/advances
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	adv, err := h.Engine.CreateAdvance(r.Context(),
		commission.BrokerID(req.BrokerID), toDecimal(req.Amount), req.Reason, req.RecurrenceID)
	if err != nil {
		h.writeAdvanceError(w, "Failed to create advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(adv))
}

// ListAdvances returns open advances, optionally filtered by broker.
// GET /api/advances?broker_id=...
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	brokerID := commission.BrokerID(r.URL.Query().Get("broker_id"))

	advances, err := h.Engine.ListAdvances(r.Context(), brokerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}

	dtos := make([]AdvanceDTO, len(advances))
	for i, adv := range advances {
		dtos[i] = toAdvanceDTO(adv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdvanceHistory returns an advance's payment log.
// GET /api/advances/{id}/logs
func (h *Handler) AdvanceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	logs, err := h.Engine.History(r.Context(), id)
	if err != nil {
		h.writeAdvanceError(w, "Failed to load history", err)
		return
	}

	dtos := make([]AdvanceLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toLogDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyPayment settles part or all of an advance.
// POST /api/advances/{id}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PaymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Engine.ApplyPayment(r.Context(), advance.PaymentRequest{
		AdvanceID:   id,
		Amount:      toDecimal(req.Amount),
		Type:        advance.PaymentType(req.PaymentType),
		FortnightID: commission.FortnightID(req.FortnightID),
		Reference:   req.Reference,
	})
	if err != nil {
		h.writeAdvanceError(w, "Payment failed", err)
		return
	}

	balance, _ := result.NewBalance.Float64()
	writeJSON(w, http.StatusOK, PaymentResultDTO{
		AdvanceID:        result.AdvanceID,
		NewBalance:       balance,
		Status:           string(result.Status),
		Reset:            result.Reset,
		PaymentsUnlocked: result.PaymentsUnlocked,
	})
}

// RejectAdvance terminally rejects a pending advance.
// POST /api/advances/{id}/reject
func (h *Handler) RejectAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.RejectAdvance(r.Context(), id); err != nil {
		h.writeAdvanceError(w, "Reject failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(advance.StatusRejected)})
}

// RecoverAdvance resets a stuck recurring advance from its recurrence.
// POST /api/advances/{id}/recover
func (h *Handler) RecoverAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	adv, err := h.Repairer.RecoverAdvance(r.Context(), id)
	if err != nil {
		h.writeAdvanceError(w, "Recover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(adv))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer registers a bank transfer.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tr, err := h.Tracker.Register(r.Context(), req.Reference, toDecimal(req.Amount))
	if err != nil {
		h.writeAdvanceError(w, "Failed to register transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(advance.TransferView{
		BankTransfer:    tr,
		RemainingAmount: tr.Remaining(),
		Status:          advance.DeriveTransferStatus(tr.Amount, tr.UsedAmount),
	}))
}

// ListTransfers returns all transfers with derived balances.
// GET /api/transfers
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	views, err := h.Tracker.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	dtos := make([]TransferDTO, len(views))
	for i, v := range views {
		dtos[i] = toTransferDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MAINTENANCE HANDLERS
// =============================================================================

// RunRecurringRepair runs the duplicate-recurring-advance repair pass.
// POST /api/maintenance/recurring-repair
func (h *Handler) RunRecurringRepair(w http.ResponseWriter, r *http.Request) {
	result, err := h.Repairer.CleanupDuplicates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Repair failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RepairResultDTO{
		Deleted:     result.Deleted,
		Reset:       result.Reset,
		LogsDropped: result.LogsDropped,
	})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeCommissionError(w http.ResponseWriter, message string, err error) {
	switch {
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.Log.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) writeAdvanceError(w http.ResponseWriter, message string, err error) {
	switch {
	case advance.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case advance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case advance.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

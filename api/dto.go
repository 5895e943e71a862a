/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run the
  shared validator before touching domain logic, so malformed bodies never
  reach the engine. Amounts cross the boundary as JSON numbers and convert
  to decimals in the handlers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/commission"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RowRequest is one normalized statement line in an import request.
type RowRequest struct {
	PolicyNumber string   `json:"policy_number"`
	ClientName   string   `json:"client_name"`
	Commission   float64  `json:"commission_amount" validate:"required"`
	RawCells     []string `json:"raw_cells,omitempty"`
}

// ImportRequest is the body of POST /api/imports.
type ImportRequest struct {
	InsurerID   string       `json:"insurer_id" validate:"required"`
	FortnightID string       `json:"fortnight_id" validate:"required"`
	PeriodLabel string       `json:"period_label"`
	TotalAmount float64      `json:"total_amount"`
	Rows        []RowRequest `json:"rows" validate:"required,min=1,dive"`
}

// ImportResultDTO is the response after an import.
type ImportResultDTO struct {
	ImportID      string `json:"import_id"`
	InsertedCount int    `json:"inserted_count"`
	PendingCount  int    `json:"pending_count"`
}

// CodeRowRequest is one line of an ASSA statement.
type CodeRowRequest struct {
	Code        string   `json:"code" validate:"required"`
	PaidAmount  float64  `json:"paid_amount" validate:"required"`
	InsuredName string   `json:"insured_name"`
	RawCells    []string `json:"raw_cells,omitempty"`
}

// CodesImportRequest is the body of POST /api/imports/assa.
type CodesImportRequest struct {
	FortnightID string           `json:"fortnight_id" validate:"required"`
	PeriodLabel string           `json:"period_label"`
	TotalAmount float64          `json:"total_amount"`
	Rows        []CodeRowRequest `json:"rows" validate:"required,min=1,dive"`
}

// CodesResultDTO is the response after an ASSA import.
type CodesResultDTO struct {
	ImportID    string  `json:"import_id"`
	ItemCount   int     `json:"item_count"`
	OrphanCount int     `json:"orphan_count"`
	TotalAmount float64 `json:"total_amount"`
}

// ImportDTO represents an ingestion run in listings.
type ImportDTO struct {
	ID          string  `json:"id"`
	InsurerID   string  `json:"insurer_id"`
	PeriodLabel string  `json:"period_label,omitempty"`
	TotalAmount float64 `json:"total_amount"`
	CreatedAt   string  `json:"created_at"`
}

// DraftItemDTO represents an unidentified draft in listings.
type DraftItemDTO struct {
	ID            string  `json:"id"`
	FortnightID   string  `json:"fortnight_id"`
	ImportID      string  `json:"import_id"`
	InsurerID     string  `json:"insurer_id"`
	PolicyNumber  string  `json:"policy_number"`
	InsuredName   string  `json:"insured_name"`
	CommissionRaw float64 `json:"commission_raw"`
}

// ReassignRequest is the body of POST /api/items/reassign.
type ReassignRequest struct {
	PolicyNumber string   `json:"policy_number" validate:"required"`
	BrokerID     string   `json:"broker_id" validate:"required"`
	ItemIDs      []string `json:"item_ids,omitempty"`
}

// ReassignResultDTO reports how many items changed broker.
type ReassignResultDTO struct {
	Reassigned int `json:"reassigned"`
}

// CreateAdvanceRequest is the body of POST /api/advances.
type CreateAdvanceRequest struct {
	BrokerID     string  `json:"broker_id" validate:"required"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Reason       string  `json:"reason"`
	RecurrenceID string  `json:"recurrence_id,omitempty"`
}

// AdvanceDTO represents an advance in API responses.
type AdvanceDTO struct {
	ID           string  `json:"id"`
	BrokerID     string  `json:"broker_id"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason,omitempty"`
	RecurrenceID string  `json:"recurrence_id,omitempty"`
	Recurring    bool    `json:"recurring"`
	CreatedAt    string  `json:"created_at"`
}

// PaymentRequest is the body of POST /api/advances/{id}/payments.
type PaymentRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PaymentType string  `json:"payment_type" validate:"required,oneof=fortnight external_transfer cash"`
	FortnightID string  `json:"fortnight_id,omitempty" validate:"required_if=PaymentType fortnight"`
	Reference   string  `json:"reference,omitempty" validate:"required_if=PaymentType external_transfer"`
}

// PaymentResultDTO is the response after a settlement.
type PaymentResultDTO struct {
	AdvanceID        string  `json:"advance_id"`
	NewBalance       float64 `json:"new_balance"`
	Status           string  `json:"status"`
	Reset            bool    `json:"reset"`
	PaymentsUnlocked int     `json:"payments_unlocked"`
}

// AdvanceLogDTO represents one applied payment.
type AdvanceLogDTO struct {
	ID          string  `json:"id"`
	AdvanceID   string  `json:"advance_id"`
	Amount      float64 `json:"amount"`
	PaymentType string  `json:"payment_type"`
	FortnightID string  `json:"fortnight_id,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// CreateTransferRequest is the body of POST /api/transfers.
type CreateTransferRequest struct {
	Reference string  `json:"reference" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
}

// TransferDTO represents a bank transfer with derived balances.
type TransferDTO struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference"`
	Amount          float64 `json:"amount"`
	UsedAmount      float64 `json:"used_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}

// RepairResultDTO is the response of the recurring repair pass.
type RepairResultDTO struct {
	Deleted     int `json:"deleted"`
	Reset       int `json:"reset"`
	LogsDropped int `json:"logs_dropped"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toImportDTO(imp commission.Import) ImportDTO {
	total, _ := imp.TotalAmount.Float64()
	return ImportDTO{
		ID:          string(imp.ID),
		InsurerID:   string(imp.InsurerID),
		PeriodLabel: imp.PeriodLabel,
		TotalAmount: total,
		CreatedAt:   imp.CreatedAt.Format(time.RFC3339),
	}
}

func toDraftDTO(d commission.DraftItem) DraftItemDTO {
	raw, _ := d.CommissionRaw.Float64()
	return DraftItemDTO{
		ID:            d.ID,
		FortnightID:   string(d.FortnightID),
		ImportID:      string(d.ImportID),
		InsurerID:     string(d.InsurerID),
		PolicyNumber:  d.PolicyNumber,
		InsuredName:   d.InsuredName,
		CommissionRaw: raw,
	}
}

func toAdvanceDTO(adv advance.Advance) AdvanceDTO {
	amount, _ := adv.Amount.Float64()
	return AdvanceDTO{
		ID:           adv.ID,
		BrokerID:     string(adv.BrokerID),
		Amount:       amount,
		Status:       string(adv.Status),
		Reason:       adv.Reason,
		RecurrenceID: adv.RecurrenceID,
		Recurring:    adv.Recurring(),
		CreatedAt:    adv.CreatedAt.Format(time.RFC3339),
	}
}

func toLogDTO(l advance.Log) AdvanceLogDTO {
	amount, _ := l.Amount.Float64()
	return AdvanceLogDTO{
		ID:          l.ID,
		AdvanceID:   l.AdvanceID,
		Amount:      amount,
		PaymentType: string(l.PaymentType),
		FortnightID: string(l.FortnightID),
		Reference:   l.Reference,
		CreatedAt:   l.CreatedAt,
	}
}

func toTransferDTO(v advance.TransferView) TransferDTO {
	amount, _ := v.Amount.Float64()
	used, _ := v.UsedAmount.Float64()
	remaining, _ := v.RemainingAmount.Float64()
	return TransferDTO{
		ID:              v.ID,
		Reference:       v.Reference,
		Amount:          amount,
		UsedAmount:      used,
		RemainingAmount: remaining,
		Status:          string(v.Status),
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
	}
}

func toDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

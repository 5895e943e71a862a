// Package advance implements the broker cash-advance ledger: advances with a
// mutable remaining balance and a derived status, an append-only payment
// history, bank-transfer funding balances, and the recurring-advance
// integrity repair.
package advance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lissa/commission-engine/commission"
)

// =============================================================================
// STATUSES
// =============================================================================

// Status is the advance lifecycle state. Derived by the settlement engine,
// never set independently of a settlement transition.
type Status string

const (
	StatusPending  Status = "PENDING"  // initial, and the reset target for recurring advances
	StatusPartial  Status = "PARTIAL"  // some payment applied, balance > 0
	StatusPaid     Status = "PAID"     // balance zero, non-recurring only, terminal
	StatusRejected Status = "REJECTED" // explicit rejection from PENDING, terminal
)

// PaymentType distinguishes how a settlement is funded.
type PaymentType string

const (
	PaymentFortnight PaymentType = "fortnight"         // deducted from the broker's fortnight commissions
	PaymentTransfer  PaymentType = "external_transfer" // funded by a tracked bank transfer
	PaymentCash      PaymentType = "cash"              // direct payment, no funding cap beyond the balance
)

// TransferStatus is derived from used/remaining amounts, never stored
// independently of them.
type TransferStatus string

const (
	TransferAvailable TransferStatus = "available"
	TransferPartial   TransferStatus = "partial"
	TransferUsed      TransferStatus = "used"
)

// =============================================================================
// RECORDS
// =============================================================================

// Advance is a cash advance extended to a broker. Amount is the authoritative
// remaining balance; logs are history, not the source of truth.
type Advance struct {
	ID           string
	BrokerID     commission.BrokerID
	Amount       decimal.Decimal
	Status       Status
	Reason       string
	RecurrenceID string // empty = one-off advance
	CreatedAt    time.Time
}

// Recurring reports whether the advance resets instead of closing at zero.
func (a Advance) Recurring() bool { return a.RecurrenceID != "" }

// Recurrence is the template defining a repeating advance's canonical amount.
// Immutable reference data.
type Recurrence struct {
	ID     string
	Amount decimal.Decimal
	Active bool
}

// Log is one applied payment. Append-only; CreatedAt is recorded in local
// wall-clock time so the payment date matches the office calendar.
type Log struct {
	ID          string
	AdvanceID   string
	Amount      decimal.Decimal
	PaymentType PaymentType
	FortnightID commission.FortnightID // set for fortnight-funded payments
	Reference   string                 // transfer reference for externally funded payments
	CreatedAt   string                 // RFC3339 with local offset
}

// BankTransfer is an external funding reference with a trackable balance.
// Remaining and Status are derived on read.
type BankTransfer struct {
	ID         string
	Reference  string
	Amount     decimal.Decimal
	UsedAmount decimal.Decimal
	CreatedAt  time.Time
}

// Remaining is the undrawn portion of the transfer.
func (t BankTransfer) Remaining() decimal.Decimal {
	return t.Amount.Sub(t.UsedAmount)
}

// TransferUsage links a transfer debit to the advance log it funded.
type TransferUsage struct {
	ID         string
	TransferID string
	LogID      string
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// FortnightTotal aggregates a broker's commissions for one payout period.
// GrossAmount − DiscountAmount caps fortnight-funded settlements.
type FortnightTotal struct {
	FortnightID    commission.FortnightID
	BrokerID       commission.BrokerID
	GrossAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Available is the portion of the fortnight still deductible.
func (f FortnightTotal) Available() decimal.Decimal {
	return f.GrossAmount.Sub(f.DiscountAmount)
}

// PendingPayment is a downstream payout gated on an advance settling.
// Metadata carries the linkage; CanBePaid flips when the advance hits PAID.
type PendingPayment struct {
	ID        string
	BrokerID  commission.BrokerID
	Amount    decimal.Decimal
	Metadata  PaymentMetadata
	CanBePaid bool
	CreatedAt time.Time
}

// PaymentMetadata is the typed linkage between a pending payment and the
// advance that gates it. Parsed once at the store boundary.
type PaymentMetadata struct {
	AdvanceID string `json:"advance_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

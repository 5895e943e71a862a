/*
store.go - Store interfaces for the advance ledger

PURPOSE:
  Persistence contract consumed by the settlement engine and repair pass.
  The sqlite store implements both; the engine only ever mutates state
  through a transaction obtained from TxStore.WithTx, so a payment's writes
  (log, balance, transfer debit, cascade) commit or roll back together.
*/
package advance

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lissa/commission-engine/commission"
)

// Store is the persistence interface for advances and their funding sources.
type Store interface {
	CreateAdvance(ctx context.Context, adv Advance) error
	GetAdvance(ctx context.Context, id string) (Advance, error)
	// ListAdvances returns open (PENDING/PARTIAL) advances, newest first.
	// brokerID filters when non-empty.
	ListAdvances(ctx context.Context, brokerID commission.BrokerID) ([]Advance, error)
	// ListRecurringAdvances returns every advance with a recurrence link,
	// ordered by recurrence then creation time descending.
	ListRecurringAdvances(ctx context.Context) ([]Advance, error)
	// UpdateAdvanceBalance is an optimistic compare-and-swap: the write only
	// lands when the stored amount still equals prevAmount. Returns
	// ErrConcurrentModification otherwise.
	UpdateAdvanceBalance(ctx context.Context, id string, prevAmount, newAmount decimal.Decimal, status Status) error
	// ResetAdvance is the administrative write used by repair and recover;
	// unconditional, unlike UpdateAdvanceBalance.
	ResetAdvance(ctx context.Context, id string, amount decimal.Decimal, status Status) error
	// DeleteAdvance removes an advance and its logs, returning how many log
	// rows went with it.
	DeleteAdvance(ctx context.Context, id string) (int, error)

	GetRecurrence(ctx context.Context, id string) (Recurrence, error)
	SaveRecurrence(ctx context.Context, rec Recurrence) error

	AppendLog(ctx context.Context, log Log) error
	// ListLogs returns an advance's payment history, newest first.
	ListLogs(ctx context.Context, advanceID string) ([]Log, error)

	CreateTransfer(ctx context.Context, t BankTransfer) error
	GetTransferByReference(ctx context.Context, reference string) (BankTransfer, error)
	ListTransfers(ctx context.Context) ([]BankTransfer, error)
	UpdateTransferUsed(ctx context.Context, id string, used decimal.Decimal, status TransferStatus) error
	AppendTransferUsage(ctx context.Context, usage TransferUsage) error

	GetFortnightTotal(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID) (FortnightTotal, error)
	SetFortnightTotal(ctx context.Context, total FortnightTotal) error
	// AddFortnightDiscount increments the consumed discount for a broker's
	// fortnight total.
	AddFortnightDiscount(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID, amount decimal.Decimal) error

	CreatePendingPayment(ctx context.Context, p PendingPayment) error
	ListPendingPayments(ctx context.Context, brokerID commission.BrokerID) ([]PendingPayment, error)
	// MarkPaymentsPayable flips can_be_paid on every pending payment whose
	// metadata references the advance, returning how many rows changed.
	MarkPaymentsPayable(ctx context.Context, advanceID string) (int, error)
}

// TxStore is a Store that can run a function inside one transaction. The
// Store passed to fn sees and writes uncommitted state; returning an error
// rolls everything back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

/*
transfer.go - Bank transfer balance tracking

PURPOSE:
  A bank transfer is an external funding reference advances draw against.
  The tracker registers transfers, lists them with derived balances, and owns
  the status derivation the settlement engine applies after each debit.

TOLERANCE:
  Balances come from bank statements with rounding noise, so status uses a
  0.01 tolerance: a transfer with 0.004 left is used, not partial.
*/
package advance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// amountTolerance absorbs statement rounding noise in status derivation.
var amountTolerance = decimal.NewFromFloat(0.01)

// DeriveTransferStatus derives a transfer's status from its total and used
// amounts. remaining ≤ tolerance → used; used > tolerance → partial;
// otherwise available.
func DeriveTransferStatus(total, used decimal.Decimal) TransferStatus {
	remaining := total.Sub(used)
	switch {
	case remaining.LessThanOrEqual(amountTolerance):
		return TransferUsed
	case used.GreaterThan(amountTolerance):
		return TransferPartial
	default:
		return TransferAvailable
	}
}

// TransferView is a transfer with its derived balance fields.
type TransferView struct {
	BankTransfer
	RemainingAmount decimal.Decimal
	Status          TransferStatus
}

// Tracker manages bank transfer registration and balance queries.
// Debits happen inside the settlement engine's transaction, not here.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker builds a transfer tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Register records a new transfer. Reference numbers are unique;
// re-registering one returns ErrDuplicateReference.
func (t *Tracker) Register(ctx context.Context, reference string, amount decimal.Decimal) (BankTransfer, error) {
	if amount.Sign() <= 0 {
		return BankTransfer{}, ErrNonPositiveAmount
	}
	transfer := BankTransfer{
		ID:         uuid.NewString(),
		Reference:  reference,
		Amount:     amount,
		UsedAmount: decimal.Zero,
		CreatedAt:  t.now(),
	}
	if err := t.store.CreateTransfer(ctx, transfer); err != nil {
		return BankTransfer{}, err
	}
	return transfer, nil
}

// List returns all transfers with derived balances, newest first.
func (t *Tracker) List(ctx context.Context) ([]TransferView, error) {
	transfers, err := t.store.ListTransfers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]TransferView, len(transfers))
	for i, tr := range transfers {
		views[i] = TransferView{
			BankTransfer:    tr,
			RemainingAmount: tr.Remaining(),
			Status:          DeriveTransferStatus(tr.Amount, tr.UsedAmount),
		}
	}
	return views, nil
}

// Get returns one transfer by reference with derived balances.
func (t *Tracker) Get(ctx context.Context, reference string) (TransferView, error) {
	tr, err := t.store.GetTransferByReference(ctx, reference)
	if err != nil {
		return TransferView{}, err
	}
	return TransferView{
		BankTransfer:    tr,
		RemainingAmount: tr.Remaining(),
		Status:          DeriveTransferStatus(tr.Amount, tr.UsedAmount),
	}, nil
}

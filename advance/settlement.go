/*
settlement.go - Advance settlement engine

PURPOSE:
  Applies payments to advances. One ApplyPayment call is one transaction:
  cap checks, the funding-source debit, the log append, the balance update,
  and the PAID cascade commit or roll back together. The balance write is an
  optimistic compare-and-swap on the amount read at the start of the
  transaction, so two concurrent payments against the same advance cannot
  both consume the same balance — the loser gets ErrConcurrentModification
  and may retry.

STATE MACHINE:
  PENDING → PARTIAL → PAID       (non-recurring; PAID is terminal)
  PENDING → PARTIAL → PENDING    (recurring; zero balance resets to the
                                  recurrence amount, never PAID)
  PENDING → REJECTED             (explicit rejection, outside the payment path)

FUNDING:
  fortnight         capped by the broker's gross − discount for the period;
                    the consumed discount is incremented on success
  external_transfer capped by the transfer's remaining balance; debits
                    used_amount, re-derives the transfer status, and appends
                    a usage row linking transfer → log
  cash              no cap beyond the advance balance
*/
package advance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lissa/commission-engine/commission"
)

// PaymentRequest is one settlement against an advance.
type PaymentRequest struct {
	AdvanceID   string
	Amount      decimal.Decimal
	Type        PaymentType
	FortnightID commission.FortnightID // required for fortnight payments
	Reference   string                 // required for external_transfer payments
}

// PaymentResult reports the advance state after a settlement.
type PaymentResult struct {
	AdvanceID        string
	NewBalance       decimal.Decimal
	Status           Status
	Reset            bool // recurring advance reset to its recurrence amount
	PaymentsUnlocked int  // pending payments flipped payable by a PAID cascade
}

// Engine applies settlements and lifecycle transitions to advances.
type Engine struct {
	store TxStore
	log   *logrus.Logger
	now   func() time.Time
}

// NewEngine builds a settlement engine.
func NewEngine(store TxStore, log *logrus.Logger) *Engine {
	return &Engine{store: store, log: log, now: time.Now}
}

// CreateAdvance opens a new advance at PENDING. A recurrence link makes the
// advance recurring; the recurrence must exist and be active.
func (e *Engine) CreateAdvance(ctx context.Context, brokerID commission.BrokerID, amount decimal.Decimal, reason, recurrenceID string) (Advance, error) {
	if amount.Sign() <= 0 {
		return Advance{}, ErrNonPositiveAmount
	}
	if recurrenceID != "" {
		rec, err := e.store.GetRecurrence(ctx, recurrenceID)
		if err != nil {
			return Advance{}, err
		}
		if !rec.Active {
			return Advance{}, ErrNoRecurrence
		}
	}
	adv := Advance{
		ID:           uuid.NewString(),
		BrokerID:     brokerID,
		Amount:       amount,
		Status:       StatusPending,
		Reason:       reason,
		RecurrenceID: recurrenceID,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateAdvance(ctx, adv); err != nil {
		return Advance{}, err
	}
	e.log.WithFields(logrus.Fields{
		"advance_id": adv.ID,
		"broker_id":  brokerID,
		"amount":     amount.String(),
		"recurring":  adv.Recurring(),
	}).Info("advance created")
	return adv, nil
}

// ApplyPayment settles part or all of an advance.
func (e *Engine) ApplyPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if req.Amount.Sign() <= 0 {
		return PaymentResult{}, ErrNonPositiveAmount
	}

	var result PaymentResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, req.AdvanceID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(adv.Amount) {
			return &CapError{AdvanceID: adv.ID, Available: adv.Amount, Requested: req.Amount, Cap: ErrExceedsBalance}
		}

		logEntry := Log{
			ID:          uuid.NewString(),
			AdvanceID:   adv.ID,
			Amount:      req.Amount,
			PaymentType: req.Type,
			FortnightID: req.FortnightID,
			Reference:   req.Reference,
			CreatedAt:   e.now().Format(time.RFC3339),
		}

		switch req.Type {
		case PaymentFortnight:
			if err := e.debitFortnight(ctx, tx, adv, req); err != nil {
				return err
			}
		case PaymentTransfer:
			if err := e.debitTransfer(ctx, tx, adv, req, logEntry.ID); err != nil {
				return err
			}
		case PaymentCash:
			// no funding cap beyond the balance check above
		default:
			return ErrUnknownPaymentType
		}

		if err := tx.AppendLog(ctx, logEntry); err != nil {
			return err
		}

		newBalance := adv.Amount.Sub(req.Amount)
		result = PaymentResult{AdvanceID: adv.ID, NewBalance: newBalance}

		switch {
		case newBalance.Sign() <= 0 && adv.Recurring():
			rec, err := tx.GetRecurrence(ctx, adv.RecurrenceID)
			if err != nil {
				return err
			}
			result.NewBalance = rec.Amount
			result.Status = StatusPending
			result.Reset = true
			return tx.UpdateAdvanceBalance(ctx, adv.ID, adv.Amount, rec.Amount, StatusPending)
		case newBalance.Sign() <= 0:
			result.NewBalance = decimal.Zero
			result.Status = StatusPaid
			if err := tx.UpdateAdvanceBalance(ctx, adv.ID, adv.Amount, decimal.Zero, StatusPaid); err != nil {
				return err
			}
			unlocked, err := tx.MarkPaymentsPayable(ctx, adv.ID)
			if err != nil {
				return err
			}
			result.PaymentsUnlocked = unlocked
			return nil
		default:
			result.Status = StatusPartial
			return tx.UpdateAdvanceBalance(ctx, adv.ID, adv.Amount, newBalance, StatusPartial)
		}
	})
	if err != nil {
		return PaymentResult{}, err
	}

	e.log.WithFields(logrus.Fields{
		"advance_id": result.AdvanceID,
		"amount":     req.Amount.String(),
		"type":       req.Type,
		"status":     result.Status,
		"reset":      result.Reset,
		"unlocked":   result.PaymentsUnlocked,
	}).Info("advance payment applied")
	return result, nil
}

// debitFortnight enforces the fortnight cap and consumes the discount.
func (e *Engine) debitFortnight(ctx context.Context, tx Store, adv Advance, req PaymentRequest) error {
	total, err := tx.GetFortnightTotal(ctx, req.FortnightID, adv.BrokerID)
	if err != nil {
		return err
	}
	if req.Amount.GreaterThan(total.Available()) {
		return &CapError{AdvanceID: adv.ID, Available: total.Available(), Requested: req.Amount, Cap: ErrExceedsDiscount}
	}
	return tx.AddFortnightDiscount(ctx, req.FortnightID, adv.BrokerID, req.Amount)
}

// debitTransfer enforces the transfer cap, debits used_amount, re-derives the
// status, and records the usage audit row.
func (e *Engine) debitTransfer(ctx context.Context, tx Store, adv Advance, req PaymentRequest, logID string) error {
	transfer, err := tx.GetTransferByReference(ctx, req.Reference)
	if err != nil {
		return err
	}
	if req.Amount.GreaterThan(transfer.Remaining()) {
		return &CapError{AdvanceID: adv.ID, Available: transfer.Remaining(), Requested: req.Amount, Cap: ErrExceedsTransfer}
	}
	used := transfer.UsedAmount.Add(req.Amount)
	status := DeriveTransferStatus(transfer.Amount, used)
	if err := tx.UpdateTransferUsed(ctx, transfer.ID, used, status); err != nil {
		return err
	}
	return tx.AppendTransferUsage(ctx, TransferUsage{
		ID:         uuid.NewString(),
		TransferID: transfer.ID,
		LogID:      logID,
		Amount:     req.Amount,
		CreatedAt:  e.now(),
	})
}

// RejectAdvance terminally rejects a PENDING advance. Advances with any
// applied payment can no longer be rejected.
func (e *Engine) RejectAdvance(ctx context.Context, advanceID string) error {
	return e.store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, advanceID)
		if err != nil {
			return err
		}
		if adv.Status != StatusPending {
			return ErrNotRejectable
		}
		return tx.ResetAdvance(ctx, adv.ID, adv.Amount, StatusRejected)
	})
}

// ListAdvances returns open advances, optionally filtered by broker.
func (e *Engine) ListAdvances(ctx context.Context, brokerID commission.BrokerID) ([]Advance, error) {
	return e.store.ListAdvances(ctx, brokerID)
}

// History returns an advance's payment log, newest first.
func (e *Engine) History(ctx context.Context, advanceID string) ([]Log, error) {
	if _, err := e.store.GetAdvance(ctx, advanceID); err != nil {
		return nil, err
	}
	return e.store.ListLogs(ctx, advanceID)
}

/*
repair.go - Recurring advance integrity repair

PURPOSE:
  A recurring advance should exist exactly once per recurrence, and never at
  a terminal state. Bugs in earlier generation code produced duplicates and
  advances stuck at zero/PAID; this pass repairs both. Idempotent: a second
  run over repaired data reports zeros.

ALGORITHM:
  1. Group advances by recurrence_id.
  2. Groups with more than one member keep the most recently created advance
     and delete the rest (logs of deleted advances go with them; the counts
     are reported for audit).
  3. The survivor of every group — duplicated or not — is reset to the
     recurrence amount / PENDING when its amount is zero or status is PAID.
*/
package advance

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

// RepairResult counts what a repair pass changed.
type RepairResult struct {
	Deleted     int `json:"deleted"`
	Reset       int `json:"reset"`
	LogsDropped int `json:"logs_dropped"` // log rows removed with deleted advances
}

// Repairer runs the recurring-advance maintenance pass.
type Repairer struct {
	store TxStore
	log   *logrus.Logger
}

// NewRepairer builds a Repairer.
func NewRepairer(store TxStore, log *logrus.Logger) *Repairer {
	return &Repairer{store: store, log: log}
}

// CleanupDuplicates deduplicates and resets recurring advances.
// Never errors on "nothing to repair".
func (r *Repairer) CleanupDuplicates(ctx context.Context) (RepairResult, error) {
	var result RepairResult
	err := r.store.WithTx(ctx, func(tx Store) error {
		advances, err := tx.ListRecurringAdvances(ctx)
		if err != nil {
			return err
		}

		groups := make(map[string][]Advance)
		for _, adv := range advances {
			groups[adv.RecurrenceID] = append(groups[adv.RecurrenceID], adv)
		}

		for recurrenceID, group := range groups {
			sort.Slice(group, func(i, j int) bool {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			})
			survivor := group[0]

			for _, dup := range group[1:] {
				logs, err := tx.DeleteAdvance(ctx, dup.ID)
				if err != nil {
					return err
				}
				result.Deleted++
				result.LogsDropped += logs
				r.log.WithFields(logrus.Fields{
					"advance_id":    dup.ID,
					"recurrence_id": recurrenceID,
					"logs_dropped":  logs,
				}).Warn("duplicate recurring advance deleted")
			}

			if survivor.Amount.Sign() == 0 || survivor.Status == StatusPaid {
				rec, err := tx.GetRecurrence(ctx, recurrenceID)
				if err != nil {
					return err
				}
				if err := tx.ResetAdvance(ctx, survivor.ID, rec.Amount, StatusPending); err != nil {
					return err
				}
				result.Reset++
			}
		}
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}

	if result.Deleted > 0 || result.Reset > 0 {
		r.log.WithFields(logrus.Fields{
			"deleted":      result.Deleted,
			"reset":        result.Reset,
			"logs_dropped": result.LogsDropped,
		}).Info("recurring advance repair completed")
	}
	return result, nil
}

// RecoverAdvance resets one zero/PAID recurring advance from its recurrence.
// Returns ErrNoRecurrence when the advance has no active recurrence link and
// ErrAdvanceNotFound when it doesn't exist.
func (r *Repairer) RecoverAdvance(ctx context.Context, advanceID string) (Advance, error) {
	var recovered Advance
	err := r.store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, advanceID)
		if err != nil {
			return err
		}
		if !adv.Recurring() {
			return ErrNoRecurrence
		}
		rec, err := tx.GetRecurrence(ctx, adv.RecurrenceID)
		if err != nil {
			return err
		}
		if !rec.Active {
			return ErrNoRecurrence
		}
		if err := tx.ResetAdvance(ctx, adv.ID, rec.Amount, StatusPending); err != nil {
			return err
		}
		adv.Amount = rec.Amount
		adv.Status = StatusPending
		recovered = adv
		return nil
	})
	if err != nil {
		return Advance{}, err
	}
	return recovered, nil
}

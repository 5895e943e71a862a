/*
router.go - Commission Router: identified vs. unidentified routing

PURPOSE:
  The main ingestion path. For each normalized statement row: resolve the
  policy, and when a broker is attributable stage an identified Item with the
  percent applied; otherwise stage an unidentified DraftItem carrying the raw
  amount for later manual attribution.

FAILURE POLICY:
  Creating the import record or inserting identified items aborts the run
  (propagated as ImportError). Draft inserts are best-effort: a dedup
  conflict is a silent skip (re-importing a statement is a no-op for rows
  already staged), any other draft failure is logged and the run continues.
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ImportRequest is one ingestion run over normalized rows.
type ImportRequest struct {
	InsurerID   InsurerID
	FortnightID FortnightID
	PeriodLabel string
	TotalAmount decimal.Decimal
	Rows        []NormalizedRow
}

// ImportResult summarizes an ingestion run.
type ImportResult struct {
	ImportID      ImportID
	InsertedCount int // identified items persisted
	PendingCount  int // unidentified drafts staged (dedup skips included)
}

// Router routes normalized statement rows into the identified and
// unidentified buckets.
type Router struct {
	dir   Directory
	store Store
	log   *logrus.Logger
}

// NewRouter builds a Router. log must be non-nil.
func NewRouter(dir Directory, store Store, log *logrus.Logger) *Router {
	return &Router{dir: dir, store: store, log: log}
}

// ImportBatch ingests one carrier statement.
func (r *Router) ImportBatch(ctx context.Context, req ImportRequest) (ImportResult, error) {
	if len(req.Rows) == 0 {
		return ImportResult{}, ErrEmptyBatch
	}

	rule, err := r.dir.MatchRuleFor(ctx, req.InsurerID)
	if err != nil {
		return ImportResult{}, &ImportError{InsurerID: req.InsurerID, Stage: "match_rule", Err: err}
	}

	candidates, err := r.fetchCandidates(ctx, req.Rows, rule)
	if err != nil {
		return ImportResult{}, &ImportError{InsurerID: req.InsurerID, Stage: "policy_search", Err: err}
	}
	brokers, err := r.dir.Brokers(ctx)
	if err != nil {
		return ImportResult{}, &ImportError{InsurerID: req.InsurerID, Stage: "broker_directory", Err: err}
	}

	imp := Import{
		ID:          ImportID(uuid.NewString()),
		InsurerID:   req.InsurerID,
		PeriodLabel: req.PeriodLabel,
		TotalAmount: req.TotalAmount,
		CreatedAt:   time.Now(),
	}
	if err := r.store.CreateImport(ctx, imp); err != nil {
		return ImportResult{}, &ImportError{InsurerID: req.InsurerID, Stage: "create_import", Err: err}
	}

	items, drafts := r.routeRows(imp, req.FortnightID, req.Rows, rule, candidates, brokers)

	if len(items) > 0 {
		if err := r.store.InsertItems(ctx, items); err != nil {
			return ImportResult{}, &ImportError{InsurerID: req.InsurerID, Stage: "insert_items", Err: err}
		}
	}

	staged := 0
	for _, d := range drafts {
		switch err := r.store.InsertDraft(ctx, d); {
		case err == nil:
			staged++
		case isDuplicateDraft(err):
			staged++ // already present from an earlier run of the same statement
		default:
			r.log.WithFields(logrus.Fields{
				"import_id":     imp.ID,
				"policy_number": d.PolicyNumber,
				"error":         err.Error(),
			}).Warn("unidentified draft insert failed, continuing")
		}
	}

	r.log.WithFields(logrus.Fields{
		"import_id": imp.ID,
		"insurer":   req.InsurerID,
		"items":     len(items),
		"pending":   staged,
	}).Info("commission import completed")

	return ImportResult{ImportID: imp.ID, InsertedCount: len(items), PendingCount: staged}, nil
}

// fetchCandidates batches one directory query for all raw numbers plus their
// extracted partial terms, so resolution is per-row in-memory work.
func (r *Router) fetchCandidates(ctx context.Context, rows []NormalizedRow, rule MatchRule) (*CandidateSet, error) {
	seen := make(map[string]struct{}, len(rows)*2)
	terms := make([]string, 0, len(rows)*2)
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	for _, row := range rows {
		add(row.PolicyNumber)
		add(rule.Term(row.PolicyNumber))
	}
	policies, err := r.dir.SearchPolicies(ctx, terms)
	if err != nil {
		return nil, err
	}
	return NewCandidateSet(policies), nil
}

func (r *Router) routeRows(imp Import, fortnightID FortnightID, rows []NormalizedRow, rule MatchRule, candidates *CandidateSet, brokers map[BrokerID]Broker) ([]Item, []DraftItem) {
	var items []Item
	var drafts []DraftItem
	now := time.Now()

	for _, row := range rows {
		policy, ok := candidates.Resolve(row.PolicyNumber, rule)
		if ok && policy.BrokerID != "" {
			var broker *Broker
			if b, found := brokers[policy.BrokerID]; found {
				broker = &b
			}
			items = append(items, Item{
				ID:           uuid.NewString(),
				ImportID:     imp.ID,
				InsurerID:    imp.InsurerID,
				PolicyNumber: policy.PolicyNumber,
				BrokerID:     policy.BrokerID,
				GrossAmount:  GrossAmount(row.CommissionAmount, &policy, broker),
				InsuredName:  row.ClientName,
				Raw:          row.Raw,
				CreatedAt:    now,
			})
			continue
		}

		// Unresolved, or resolved to a policy nobody owns. Keep the matched
		// number when there is one so manual attribution starts closer.
		number := row.PolicyNumber
		if ok {
			number = policy.PolicyNumber
		}
		drafts = append(drafts, DraftItem{
			ID:            uuid.NewString(),
			FortnightID:   fortnightID,
			ImportID:      imp.ID,
			InsurerID:     imp.InsurerID,
			PolicyNumber:  number,
			InsuredName:   row.ClientName,
			CommissionRaw: row.CommissionAmount,
			CreatedAt:     now,
		})
	}
	return items, drafts
}

func isDuplicateDraft(err error) bool {
	return errors.Is(err, ErrDuplicateDraft)
}

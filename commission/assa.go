/*
assa.go - ASSA code ingestion path

PURPOSE:
  ASSA statements carry a fixed broker code (PJ750-xxx) per row instead of a
  policy number, so ingestion bypasses policy resolution entirely: the code
  maps straight to the owning broker through the directory's assa_code field.

RULES:
  - Owned codes pay 100% of the row amount; ASSA reports amounts already net.
  - CodeBrokerDefault (PJ750-20) is the exception: its rows are raw and get
    the owning broker's default percent applied.
  - Unowned codes route to the configured house broker at 100%, with the row
    flagged as an orphan for later reassignment.

BATCHING:
  Items insert in fixed batches of 100. A failing batch reports its 1-based
  index and how many items earlier batches committed; committed batches are
  never rolled back.
*/
package commission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CodeBrokerDefault is the one ASSA code whose amounts arrive raw and take
// the owning broker's default percent.
const CodeBrokerDefault = "PJ750-20"

const assaBatchSize = 100

// CodeRow is one line of an ASSA statement.
type CodeRow struct {
	Code        string
	PaidAmount  decimal.Decimal
	InsuredName string
	Raw         RawRow
}

// CodesRequest is one ASSA ingestion run.
type CodesRequest struct {
	FortnightID FortnightID
	PeriodLabel string
	TotalAmount decimal.Decimal
	Rows        []CodeRow
}

// CodesResult summarizes an ASSA ingestion run.
type CodesResult struct {
	ImportID    ImportID
	ItemCount   int
	OrphanCount int
	TotalAmount decimal.Decimal
}

// AssaRouter ingests code-keyed statements.
type AssaRouter struct {
	dir         Directory
	store       Store
	insurerID   InsurerID
	houseBroker BrokerID
	log         *logrus.Logger
}

// NewAssaRouter builds the code-path router. houseBroker receives every row
// whose code no broker owns.
func NewAssaRouter(dir Directory, store Store, insurerID InsurerID, houseBroker BrokerID, log *logrus.Logger) *AssaRouter {
	return &AssaRouter{dir: dir, store: store, insurerID: insurerID, houseBroker: houseBroker, log: log}
}

// ImportCodes ingests one ASSA statement.
func (a *AssaRouter) ImportCodes(ctx context.Context, req CodesRequest) (CodesResult, error) {
	if len(req.Rows) == 0 {
		return CodesResult{}, ErrEmptyBatch
	}

	brokers, err := a.dir.Brokers(ctx)
	if err != nil {
		return CodesResult{}, &ImportError{InsurerID: a.insurerID, Stage: "broker_directory", Err: err}
	}
	byCode := make(map[string]Broker, len(brokers))
	for _, b := range brokers {
		if b.AssaCode != "" {
			byCode[strings.ToUpper(b.AssaCode)] = b
		}
	}
	if _, ok := brokers[a.houseBroker]; !ok {
		return CodesResult{}, ErrBrokerNotFound
	}

	imp := Import{
		ID:          ImportID(uuid.NewString()),
		InsurerID:   a.insurerID,
		PeriodLabel: req.PeriodLabel,
		TotalAmount: req.TotalAmount,
		CreatedAt:   time.Now(),
	}
	if err := a.store.CreateImport(ctx, imp); err != nil {
		return CodesResult{}, &ImportError{InsurerID: a.insurerID, Stage: "create_import", Err: err}
	}

	items, orphans, total := a.buildItems(imp, req.Rows, byCode)

	committed := 0
	for start := 0; start < len(items); start += assaBatchSize {
		end := start + assaBatchSize
		if end > len(items) {
			end = len(items)
		}
		if err := a.store.InsertItems(ctx, items[start:end]); err != nil {
			return CodesResult{ImportID: imp.ID, ItemCount: committed}, &BatchError{
				Index:     start/assaBatchSize + 1,
				Committed: committed,
				Err:       err,
			}
		}
		committed = end
	}

	a.log.WithFields(logrus.Fields{
		"import_id": imp.ID,
		"items":     committed,
		"orphans":   orphans,
		"total":     total.String(),
	}).Info("assa code import completed")

	return CodesResult{ImportID: imp.ID, ItemCount: committed, OrphanCount: orphans, TotalAmount: total}, nil
}

func (a *AssaRouter) buildItems(imp Import, rows []CodeRow, byCode map[string]Broker) ([]Item, int, decimal.Decimal) {
	items := make([]Item, 0, len(rows))
	orphans := 0
	total := decimal.Zero
	now := time.Now()

	for _, row := range rows {
		code := strings.ToUpper(strings.TrimSpace(row.Code))
		amount := row.PaidAmount
		raw := row.Raw

		brokerID := a.houseBroker
		if owner, ok := byCode[code]; ok {
			brokerID = owner.ID
			if code == CodeBrokerDefault {
				amount = row.PaidAmount.Mul(SplitPercent(nil, &owner))
			}
		} else {
			raw.Orphan = true
			orphans++
		}

		items = append(items, Item{
			ID:           uuid.NewString(),
			ImportID:     imp.ID,
			InsurerID:    imp.InsurerID,
			PolicyNumber: code,
			BrokerID:     brokerID,
			GrossAmount:  amount,
			InsuredName:  row.InsuredName,
			Raw:          raw,
			CreatedAt:    now,
		})
		total = total.Add(amount)
	}
	return items, orphans, total
}

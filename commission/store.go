/*
store.go - Store interfaces consumed by the routers

PURPOSE:
  Decouples ingestion logic from persistence. The sqlite store implements
  every interface here; routers only depend on the slice they need, so tests
  can substitute fakes and a Postgres port stays possible.

INTERFACES:
  Directory  - read-only policy/broker lookups (owned elsewhere)
  Store      - import/item/draft persistence owned by this engine
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"
)

// Directory is the read-only policy and broker lookup this engine resolves
// against. Backed by tables this engine never writes.
type Directory interface {
	// SearchPolicies returns every policy whose number exactly matches or
	// contains one of the terms, in stable order.
	SearchPolicies(ctx context.Context, terms []string) ([]Policy, error)

	// Brokers returns the full broker directory keyed by ID.
	Brokers(ctx context.Context) (map[BrokerID]Broker, error)

	// MatchRuleFor returns the insurer's partial-matching configuration.
	// Insurers without a configured rule are exact-only.
	MatchRuleFor(ctx context.Context, insurerID InsurerID) (MatchRule, error)
}

// Store persists ingestion output.
type Store interface {
	// CreateImport records one ingestion run.
	CreateImport(ctx context.Context, imp Import) error

	// InsertItems persists identified items in one atomic batch.
	InsertItems(ctx context.Context, items []Item) error

	// InsertDraft persists one unidentified draft. Returns ErrDuplicateDraft
	// when a row with the same dedup key is already staged.
	InsertDraft(ctx context.Context, draft DraftItem) error

	// ListImports returns ingestion runs, newest first.
	ListImports(ctx context.Context) ([]Import, error)

	// UpdateImportTotal corrects a declared statement total.
	UpdateImportTotal(ctx context.Context, id ImportID, total decimal.Decimal) error

	// ListDrafts returns staged unidentified drafts for a fortnight.
	ListDrafts(ctx context.Context, fortnightID FortnightID) ([]DraftItem, error)

	// ReassignItems assigns a broker to unassigned identified items matching
	// the policy number, returning how many rows changed. This is the write
	// path behind claim resolution.
	ReassignItems(ctx context.Context, policyNumber string, brokerID BrokerID, itemIDs []string) (int, error)
}

// Package commission implements carrier statement ingestion: policy
// resolution, percent splitting, and routing of each imported row to the
// identified or unidentified bucket.
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// BrokerID identifies a broker in the directory.
type BrokerID string

// InsurerID identifies a carrier.
type InsurerID string

// ImportID identifies one ingestion run (one carrier statement).
type ImportID string

// FortnightID identifies a biweekly payout period.
type FortnightID string

// =============================================================================
// DIRECTORY RECORDS (read-only to this package)
// =============================================================================

// Policy is a directory record resolved against imported rows.
// PercentOverride, when set, takes priority over the broker's default percent.
type Policy struct {
	PolicyNumber    string
	BrokerID        BrokerID // empty when the policy has no assigned broker
	ClientID        string
	ClientName      string
	PercentOverride *decimal.Decimal // nil = use broker default
}

// Broker is a directory record. AssaCode is the carrier-specific fixed code
// owned by this broker on the ASSA import path; empty when none.
type Broker struct {
	ID             BrokerID
	Name           string
	PercentDefault decimal.Decimal
	AssaCode       string
}

// MatchRule configures per-insurer partial matching. When Partial is false
// only exact policy-number matches resolve.
type MatchRule struct {
	Partial   bool
	Delimiter string
}

// =============================================================================
// IMPORT RECORDS
// =============================================================================

// NormalizedRow is one line of a carrier statement after file parsing,
// which happens upstream of this engine.
type NormalizedRow struct {
	PolicyNumber     string
	ClientName       string
	CommissionAmount decimal.Decimal
	Raw              RawRow
}

// RawRow carries the original statement cells for audit. Kept as a typed
// record rather than an opaque blob so downstream readers never re-parse.
type RawRow struct {
	Cells  []string `json:"cells,omitempty"`
	Orphan bool     `json:"orphan,omitempty"`
}

// Import is one ingestion run. TotalAmount is the carrier's declared total,
// correctable after creation when the statement is amended.
type Import struct {
	ID          ImportID
	InsurerID   InsurerID
	PeriodLabel string
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

// Item is an identified commission line: the broker is known and GrossAmount
// already has the percent applied.
type Item struct {
	ID           string
	ImportID     ImportID
	InsurerID    InsurerID
	PolicyNumber string
	BrokerID     BrokerID
	GrossAmount  decimal.Decimal
	InsuredName  string
	Raw          RawRow
	CreatedAt    time.Time
}

// DraftItem is an unidentified commission line. CommissionRaw is the amount
// as imported, never multiplied by a percent: the split happens when a broker
// is eventually assigned.
type DraftItem struct {
	ID            string
	FortnightID   FortnightID
	ImportID      ImportID
	InsurerID     InsurerID
	PolicyNumber  string
	InsuredName   string
	CommissionRaw decimal.Decimal
	CreatedAt     time.Time
}

// DedupKey is the natural key under which draft items are deduplicated.
// Re-importing the same statement must not create duplicate drafts.
func (d DraftItem) DedupKey() [4]string {
	return [4]string{string(d.FortnightID), string(d.ImportID), d.PolicyNumber, d.InsuredName}
}

/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine (commission.Directory,
  commission.Store, advance.Store, advance.TxStore) using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  policies:                Directory policies (read model for resolution)
  brokers:                 Broker directory with percent defaults and ASSA codes
  insurers:                Per-insurer partial-match configuration
  comm_imports:            One row per ingestion run
  comm_items:              Identified commission lines
  pending_items:           Unidentified drafts, deduplicated by natural key
  advances:                Advance balances and statuses
  advance_recurrences:     Recurring advance templates
  advance_logs:            Append-only payment history
  bank_transfers:          External funding references
  transfer_usages:         Audit rows linking transfers to logs
  fortnight_broker_totals: Per-period commission aggregates
  pending_payments:        Downstream payouts gated on advance settlement

DEDUP ENFORCEMENT:
  idx_pending_items_dedup makes draft staging idempotent: re-importing a
  statement hits the unique index and surfaces commission.ErrDuplicateDraft,
  which routers treat as a silent skip.

OPTIMISTIC BALANCE UPDATES:
  UpdateAdvanceBalance writes WHERE id = ? AND amount = ?, so a concurrent
  settlement that already moved the balance makes the update match zero rows
  and the caller gets advance.ErrConcurrentModification inside its
  transaction, which then rolls back whole.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; the tx-scoped store calls unexported helpers that never
  re-lock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commission/store.go: Interface definitions for ingestion
  - advance/store.go: Interface definitions for settlement
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lissa/commission-engine/advance"
	"github.com/lissa/commission-engine/commission"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time checks that Store satisfies every consumer-facing interface.
var (
	_ commission.Directory = (*Store)(nil)
	_ commission.Store     = (*Store)(nil)
	_ advance.TxStore      = (*Store)(nil)
	_ advance.Store        = (*txStore)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory: policies (read model for resolution)
	CREATE TABLE IF NOT EXISTS policies (
		policy_number TEXT PRIMARY KEY,
		broker_id TEXT,
		client_id TEXT,
		client_name TEXT,
		percent_override TEXT
	);

	-- Directory: brokers
	CREATE TABLE IF NOT EXISTS brokers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		percent_default TEXT NOT NULL,
		assa_code TEXT UNIQUE
	);

	-- Directory: per-insurer matching configuration
	CREATE TABLE IF NOT EXISTS insurers (
		id TEXT PRIMARY KEY,
		name TEXT,
		partial_match BOOLEAN NOT NULL DEFAULT FALSE,
		match_delimiter TEXT NOT NULL DEFAULT ''
	);

	-- Ingestion runs
	CREATE TABLE IF NOT EXISTS comm_imports (
		id TEXT PRIMARY KEY,
		insurer_id TEXT NOT NULL,
		period_label TEXT,
		total_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_imports_created
		ON comm_imports(created_at DESC);

	-- Identified commission lines
	CREATE TABLE IF NOT EXISTS comm_items (
		id TEXT PRIMARY KEY,
		import_id TEXT NOT NULL,
		insurer_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		broker_id TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		insured_name TEXT,
		raw_cells TEXT,
		is_orphan BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_import
		ON comm_items(import_id);
	CREATE INDEX IF NOT EXISTS idx_items_broker
		ON comm_items(broker_id);
	CREATE INDEX IF NOT EXISTS idx_items_policy
		ON comm_items(policy_number);

	-- Unidentified drafts
	CREATE TABLE IF NOT EXISTS pending_items (
		id TEXT PRIMARY KEY,
		fortnight_id TEXT NOT NULL,
		import_id TEXT NOT NULL,
		insurer_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		insured_name TEXT NOT NULL DEFAULT '',
		commission_raw TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: re-importing the same statement must not duplicate drafts
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_items_dedup
		ON pending_items(fortnight_id, import_id, policy_number, insured_name);

	-- Advances
	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		recurrence_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_advances_broker
		ON advances(broker_id, status);
	CREATE INDEX IF NOT EXISTS idx_advances_recurrence
		ON advances(recurrence_id) WHERE recurrence_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS advance_recurrences (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Append-only payment history
	CREATE TABLE IF NOT EXISTS advance_logs (
		id TEXT PRIMARY KEY,
		advance_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		fortnight_id TEXT,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_advance
		ON advance_logs(advance_id, created_at DESC);

	-- External funding references
	CREATE TABLE IF NOT EXISTS bank_transfers (
		id TEXT PRIMARY KEY,
		reference_number TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		used_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'available',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfer_usages (
		id TEXT PRIMARY KEY,
		transfer_id TEXT NOT NULL,
		log_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usages_transfer
		ON transfer_usages(transfer_id);

	-- Per-period commission aggregates
	CREATE TABLE IF NOT EXISTS fortnight_broker_totals (
		fortnight_id TEXT NOT NULL,
		broker_id TEXT NOT NULL,
		gross_amount TEXT NOT NULL DEFAULT '0',
		discount_amount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (fortnight_id, broker_id)
	);

	-- Downstream payouts gated on advance settlement
	CREATE TABLE IF NOT EXISTS pending_payments (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		advance_id TEXT,
		source TEXT,
		can_be_paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_payments_advance
		ON pending_payments(advance_id) WHERE advance_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY (commission.Directory interface)
// =============================================================================

// SavePolicy upserts a directory policy. Directory tables are owned by the
// surrounding system; these writers exist for wiring and tests.
func (s *Store) SavePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var override *string
	if p.PercentOverride != nil {
		v := p.PercentOverride.String()
		override = &v
	}

	query := `
		INSERT INTO policies (policy_number, broker_id, client_id, client_name, percent_override)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(policy_number) DO UPDATE SET
			broker_id = excluded.broker_id,
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			percent_override = excluded.percent_override
	`
	_, err := s.db.ExecContext(ctx, query,
		p.PolicyNumber, nullString(string(p.BrokerID)), p.ClientID, p.ClientName, override)
	return err
}

// SaveBroker upserts a broker directory record.
func (s *Store) SaveBroker(ctx context.Context, b commission.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO brokers (id, name, percent_default, assa_code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			percent_default = excluded.percent_default,
			assa_code = excluded.assa_code
	`
	_, err := s.db.ExecContext(ctx, query,
		string(b.ID), b.Name, b.PercentDefault.String(), nullString(b.AssaCode))
	return err
}

// SaveMatchRule upserts an insurer's partial-match configuration.
func (s *Store) SaveMatchRule(ctx context.Context, insurerID commission.InsurerID, rule commission.MatchRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO insurers (id, partial_match, match_delimiter)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			partial_match = excluded.partial_match,
			match_delimiter = excluded.match_delimiter
	`
	_, err := s.db.ExecContext(ctx, query, string(insurerID), rule.Partial, rule.Delimiter)
	return err
}

// SearchPolicies returns policies whose number matches or contains any term,
// in insertion order.
func (s *Store) SearchPolicies(ctx context.Context, terms []string) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(terms) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms))
	for _, term := range terms {
		conds = append(conds, "instr(policy_number, ?) > 0")
		args = append(args, term)
	}

	query := `
		SELECT policy_number, broker_id, client_id, client_name, percent_override
		FROM policies
		WHERE ` + strings.Join(conds, " OR ") + `
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search policies: %w", err)
	}
	defer rows.Close()

	var policies []commission.Policy
	for rows.Next() {
		var p commission.Policy
		var brokerID, clientID, clientName, override sql.NullString
		if err := rows.Scan(&p.PolicyNumber, &brokerID, &clientID, &clientName, &override); err != nil {
			return nil, err
		}
		p.BrokerID = commission.BrokerID(brokerID.String)
		p.ClientID = clientID.String
		p.ClientName = clientName.String
		if override.Valid && override.String != "" {
			v, err := decimal.NewFromString(override.String)
			if err != nil {
				return nil, fmt.Errorf("bad percent_override for %s: %w", p.PolicyNumber, err)
			}
			p.PercentOverride = &v
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Brokers returns the full broker directory keyed by ID.
func (s *Store) Brokers(ctx context.Context) (map[commission.BrokerID]commission.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, percent_default, assa_code FROM brokers")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	brokers := make(map[commission.BrokerID]commission.Broker)
	for rows.Next() {
		var b commission.Broker
		var id, percent string
		var assaCode sql.NullString
		if err := rows.Scan(&id, &b.Name, &percent, &assaCode); err != nil {
			return nil, err
		}
		b.ID = commission.BrokerID(id)
		b.PercentDefault, err = decimal.NewFromString(percent)
		if err != nil {
			return nil, fmt.Errorf("bad percent_default for broker %s: %w", id, err)
		}
		b.AssaCode = assaCode.String
		brokers[b.ID] = b
	}
	return brokers, rows.Err()
}

// MatchRuleFor returns the insurer's matching configuration. Insurers without
// a configured row are exact-only.
func (s *Store) MatchRuleFor(ctx context.Context, insurerID commission.InsurerID) (commission.MatchRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rule commission.MatchRule
	err := s.db.QueryRowContext(ctx,
		"SELECT partial_match, match_delimiter FROM insurers WHERE id = ?",
		string(insurerID),
	).Scan(&rule.Partial, &rule.Delimiter)

	if err == sql.ErrNoRows {
		return commission.MatchRule{}, nil
	}
	if err != nil {
		return commission.MatchRule{}, err
	}
	return rule, nil
}

// =============================================================================
// INGESTION (commission.Store interface)
// =============================================================================

// CreateImport records one ingestion run.
func (s *Store) CreateImport(ctx context.Context, imp commission.Import) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO comm_imports (id, insurer_id, period_label, total_amount, created_at) VALUES (?, ?, ?, ?, ?)",
		string(imp.ID), string(imp.InsurerID), imp.PeriodLabel,
		imp.TotalAmount.String(), imp.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}
	return nil
}

// InsertItems persists identified items in one atomic batch.
func (s *Store) InsertItems(ctx context.Context, items []commission.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, item := range items {
		if err := insertItem(ctx, sqlTx, item); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func insertItem(ctx context.Context, db dbtx, item commission.Item) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO comm_items
		(id, import_id, insurer_id, policy_number, broker_id, gross_amount, insured_name, raw_cells, is_orphan, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.ImportID), string(item.InsurerID), item.PolicyNumber,
		string(item.BrokerID), item.GrossAmount.String(), item.InsuredName,
		strings.Join(item.Raw.Cells, "\x1f"), item.Raw.Orphan,
		item.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// InsertDraft persists one unidentified draft. The dedup index makes
// re-staging the same row return commission.ErrDuplicateDraft.
func (s *Store) InsertDraft(ctx context.Context, d commission.DraftItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_items
		(id, fortnight_id, import_id, insurer_id, policy_number, insured_name, commission_raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.FortnightID), string(d.ImportID), string(d.InsurerID),
		d.PolicyNumber, d.InsuredName, d.CommissionRaw.String(),
		d.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return commission.ErrDuplicateDraft
		}
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	return nil
}

// ListImports returns ingestion runs, newest first.
func (s *Store) ListImports(ctx context.Context) ([]commission.Import, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, insurer_id, period_label, total_amount, created_at FROM comm_imports ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imports []commission.Import
	for rows.Next() {
		var imp commission.Import
		var id, insurerID, total, createdAt string
		var label sql.NullString
		if err := rows.Scan(&id, &insurerID, &label, &total, &createdAt); err != nil {
			return nil, err
		}
		imp.ID = commission.ImportID(id)
		imp.InsurerID = commission.InsurerID(insurerID)
		imp.PeriodLabel = label.String
		imp.TotalAmount, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("bad total_amount for import %s: %w", id, err)
		}
		imp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// UpdateImportTotal corrects a declared statement total.
func (s *Store) UpdateImportTotal(ctx context.Context, id commission.ImportID, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE comm_imports SET total_amount = ? WHERE id = ?", total.String(), string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.ErrImportNotFound
	}
	return nil
}

// ListDrafts returns staged unidentified drafts for a fortnight.
func (s *Store) ListDrafts(ctx context.Context, fortnightID commission.FortnightID) ([]commission.DraftItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fortnight_id, import_id, insurer_id, policy_number, insured_name, commission_raw, created_at
		FROM pending_items WHERE fortnight_id = ? ORDER BY created_at ASC, id ASC`,
		string(fortnightID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []commission.DraftItem
	for rows.Next() {
		var d commission.DraftItem
		var fortnight, importID, insurerID, raw, createdAt string
		if err := rows.Scan(&d.ID, &fortnight, &importID, &insurerID, &d.PolicyNumber, &d.InsuredName, &raw, &createdAt); err != nil {
			return nil, err
		}
		d.FortnightID = commission.FortnightID(fortnight)
		d.ImportID = commission.ImportID(importID)
		d.InsurerID = commission.InsurerID(insurerID)
		d.CommissionRaw, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad commission_raw for draft %s: %w", d.ID, err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// ReassignItems assigns a broker to identified items by policy number,
// optionally restricted to specific item IDs. Returns rows changed.
func (s *Store) ReassignItems(ctx context.Context, policyNumber string, brokerID commission.BrokerID, itemIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE comm_items SET broker_id = ? WHERE policy_number = ?"
	args := []any{string(brokerID), policyNumber}
	if len(itemIDs) > 0 {
		query += " AND id IN (?" + strings.Repeat(",?", len(itemIDs)-1) + ")"
		for _, id := range itemIDs {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// ADVANCES (advance.Store interface)
// =============================================================================

// CreateAdvance persists a new advance.
func (s *Store) CreateAdvance(ctx context.Context, adv advance.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAdvance(ctx, s.db, adv)
}

func createAdvance(ctx context.Context, db dbtx, adv advance.Advance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO advances (id, broker_id, amount, status, reason, recurrence_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		adv.ID, string(adv.BrokerID), adv.Amount.String(), string(adv.Status),
		adv.Reason, nullString(adv.RecurrenceID), adv.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create advance: %w", err)
	}
	return nil
}

// GetAdvance retrieves an advance by ID.
func (s *Store) GetAdvance(ctx context.Context, id string) (advance.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdvance(ctx, s.db, id)
}

func getAdvance(ctx context.Context, db dbtx, id string) (advance.Advance, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, broker_id, amount, status, reason, recurrence_id, created_at
		FROM advances WHERE id = ?`, id)
	adv, err := scanAdvance(row.Scan)
	if err == sql.ErrNoRows {
		return advance.Advance{}, advance.ErrAdvanceNotFound
	}
	return adv, err
}

func scanAdvance(scan func(dest ...any) error) (advance.Advance, error) {
	var adv advance.Advance
	var brokerID, amount, status, createdAt string
	var reason, recurrenceID sql.NullString

	if err := scan(&adv.ID, &brokerID, &amount, &status, &reason, &recurrenceID, &createdAt); err != nil {
		return advance.Advance{}, err
	}
	adv.BrokerID = commission.BrokerID(brokerID)
	var err error
	adv.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return advance.Advance{}, fmt.Errorf("bad amount for advance %s: %w", adv.ID, err)
	}
	adv.Status = advance.Status(status)
	adv.Reason = reason.String
	adv.RecurrenceID = recurrenceID.String
	adv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return adv, nil
}

// ListAdvances returns open (PENDING/PARTIAL) advances, newest first.
func (s *Store) ListAdvances(ctx context.Context, brokerID commission.BrokerID) ([]advance.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, broker_id, amount, status, reason, recurrence_id, created_at
		FROM advances WHERE status IN ('PENDING', 'PARTIAL')`
	args := []any{}
	if brokerID != "" {
		query += " AND broker_id = ?"
		args = append(args, string(brokerID))
	}
	query += " ORDER BY created_at DESC"

	return queryAdvances(ctx, s.db, query, args...)
}

// ListRecurringAdvances returns every advance with a recurrence link.
func (s *Store) ListRecurringAdvances(ctx context.Context) ([]advance.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecurringAdvances(ctx, s.db)
}

func listRecurringAdvances(ctx context.Context, db dbtx) ([]advance.Advance, error) {
	return queryAdvances(ctx, db, `
		SELECT id, broker_id, amount, status, reason, recurrence_id, created_at
		FROM advances
		WHERE recurrence_id IS NOT NULL AND recurrence_id != ''
		ORDER BY recurrence_id ASC, created_at DESC`)
}

func queryAdvances(ctx context.Context, db dbtx, query string, args ...any) ([]advance.Advance, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advances []advance.Advance
	for rows.Next() {
		adv, err := scanAdvance(rows.Scan)
		if err != nil {
			return nil, err
		}
		advances = append(advances, adv)
	}
	return advances, rows.Err()
}

// UpdateAdvanceBalance is the optimistic compare-and-swap described in the
// package comment.
func (s *Store) UpdateAdvanceBalance(ctx context.Context, id string, prevAmount, newAmount decimal.Decimal, status advance.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAdvanceBalance(ctx, s.db, id, prevAmount, newAmount, status)
}

func updateAdvanceBalance(ctx context.Context, db dbtx, id string, prevAmount, newAmount decimal.Decimal, status advance.Status) error {
	res, err := db.ExecContext(ctx,
		"UPDATE advances SET amount = ?, status = ? WHERE id = ? AND amount = ?",
		newAmount.String(), string(status), id, prevAmount.String())
	if err != nil {
		return fmt.Errorf("failed to update advance balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM advances WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return advance.ErrAdvanceNotFound
		}
		return advance.ErrConcurrentModification
	}
	return nil
}

// ResetAdvance is the unconditional administrative write used by repair,
// recover, and rejection.
func (s *Store) ResetAdvance(ctx context.Context, id string, amount decimal.Decimal, status advance.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resetAdvance(ctx, s.db, id, amount, status)
}

func resetAdvance(ctx context.Context, db dbtx, id string, amount decimal.Decimal, status advance.Status) error {
	res, err := db.ExecContext(ctx,
		"UPDATE advances SET amount = ?, status = ? WHERE id = ?",
		amount.String(), string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return advance.ErrAdvanceNotFound
	}
	return nil
}

// DeleteAdvance removes an advance and its logs, returning the log count.
func (s *Store) DeleteAdvance(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAdvance(ctx, s.db, id)
}

func deleteAdvance(ctx context.Context, db dbtx, id string) (int, error) {
	logRes, err := db.ExecContext(ctx, "DELETE FROM advance_logs WHERE advance_id = ?", id)
	if err != nil {
		return 0, err
	}
	logs, _ := logRes.RowsAffected()

	res, err := db.ExecContext(ctx, "DELETE FROM advances WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, advance.ErrAdvanceNotFound
	}
	return int(logs), nil
}

// =============================================================================
// RECURRENCES
// =============================================================================

// GetRecurrence retrieves a recurrence template.
func (s *Store) GetRecurrence(ctx context.Context, id string) (advance.Recurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecurrence(ctx, s.db, id)
}

func getRecurrence(ctx context.Context, db dbtx, id string) (advance.Recurrence, error) {
	var rec advance.Recurrence
	var amount string
	err := db.QueryRowContext(ctx,
		"SELECT id, amount, is_active FROM advance_recurrences WHERE id = ?", id,
	).Scan(&rec.ID, &amount, &rec.Active)
	if err == sql.ErrNoRows {
		return advance.Recurrence{}, advance.ErrNoRecurrence
	}
	if err != nil {
		return advance.Recurrence{}, err
	}
	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return advance.Recurrence{}, fmt.Errorf("bad amount for recurrence %s: %w", id, err)
	}
	return rec, nil
}

// SaveRecurrence upserts a recurrence template.
func (s *Store) SaveRecurrence(ctx context.Context, rec advance.Recurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO advance_recurrences (id, amount, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			is_active = excluded.is_active
	`
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.Amount.String(), rec.Active)
	return err
}

// =============================================================================
// ADVANCE LOGS
// =============================================================================

// AppendLog adds one payment to an advance's history.
func (s *Store) AppendLog(ctx context.Context, l advance.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLog(ctx, s.db, l)
}

func appendLog(ctx context.Context, db dbtx, l advance.Log) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO advance_logs (id, advance_id, amount, payment_type, fortnight_id, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AdvanceID, l.Amount.String(), string(l.PaymentType),
		nullString(string(l.FortnightID)), nullString(l.Reference), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append advance log: %w", err)
	}
	return nil
}

// ListLogs returns an advance's payment history, newest first.
func (s *Store) ListLogs(ctx context.Context, advanceID string) ([]advance.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLogs(ctx, s.db, advanceID)
}

func listLogs(ctx context.Context, db dbtx, advanceID string) ([]advance.Log, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, advance_id, amount, payment_type, fortnight_id, reference, created_at
		FROM advance_logs WHERE advance_id = ?
		ORDER BY created_at DESC, id DESC`, advanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []advance.Log
	for rows.Next() {
		var l advance.Log
		var amount, paymentType string
		var fortnightID, reference sql.NullString
		if err := rows.Scan(&l.ID, &l.AdvanceID, &amount, &paymentType, &fortnightID, &reference, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount for log %s: %w", l.ID, err)
		}
		l.PaymentType = advance.PaymentType(paymentType)
		l.FortnightID = commission.FortnightID(fortnightID.String)
		l.Reference = reference.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// BANK TRANSFERS
// =============================================================================

// CreateTransfer registers a bank transfer. Duplicate reference numbers
// return advance.ErrDuplicateReference.
func (s *Store) CreateTransfer(ctx context.Context, t advance.BankTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_transfers (id, reference_number, amount, used_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Reference, t.Amount.String(), t.UsedAmount.String(),
		string(advance.DeriveTransferStatus(t.Amount, t.UsedAmount)),
		t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return advance.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

// GetTransferByReference retrieves a transfer by its reference number.
func (s *Store) GetTransferByReference(ctx context.Context, reference string) (advance.BankTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransferByReference(ctx, s.db, reference)
}

func getTransferByReference(ctx context.Context, db dbtx, reference string) (advance.BankTransfer, error) {
	var t advance.BankTransfer
	var amount, used, createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, reference_number, amount, used_amount, created_at
		FROM bank_transfers WHERE reference_number = ?`, reference,
	).Scan(&t.ID, &t.Reference, &amount, &used, &createdAt)
	if err == sql.ErrNoRows {
		return advance.BankTransfer{}, advance.ErrTransferNotFound
	}
	if err != nil {
		return advance.BankTransfer{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return advance.BankTransfer{}, fmt.Errorf("bad amount for transfer %s: %w", t.ID, err)
	}
	if t.UsedAmount, err = decimal.NewFromString(used); err != nil {
		return advance.BankTransfer{}, fmt.Errorf("bad used_amount for transfer %s: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return t, nil
}

// ListTransfers returns all transfers, newest first.
func (s *Store) ListTransfers(ctx context.Context) ([]advance.BankTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransfers(ctx, s.db)
}

func listTransfers(ctx context.Context, db dbtx) ([]advance.BankTransfer, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, reference_number, amount, used_amount, created_at
		FROM bank_transfers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []advance.BankTransfer
	for rows.Next() {
		var t advance.BankTransfer
		var amount, used, createdAt string
		if err := rows.Scan(&t.ID, &t.Reference, &amount, &used, &createdAt); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for transfer %s: %w", t.ID, err)
		}
		if t.UsedAmount, err = decimal.NewFromString(used); err != nil {
			return nil, fmt.Errorf("bad used_amount for transfer %s: %w", t.ID, err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// UpdateTransferUsed writes a transfer's consumed amount and derived status.
func (s *Store) UpdateTransferUsed(ctx context.Context, id string, used decimal.Decimal, status advance.TransferStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransferUsed(ctx, s.db, id, used, status)
}

func updateTransferUsed(ctx context.Context, db dbtx, id string, used decimal.Decimal, status advance.TransferStatus) error {
	res, err := db.ExecContext(ctx,
		"UPDATE bank_transfers SET used_amount = ?, status = ? WHERE id = ?",
		used.String(), string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return advance.ErrTransferNotFound
	}
	return nil
}

// AppendTransferUsage records one transfer debit against an advance log.
func (s *Store) AppendTransferUsage(ctx context.Context, u advance.TransferUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransferUsage(ctx, s.db, u)
}

func appendTransferUsage(ctx context.Context, db dbtx, u advance.TransferUsage) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transfer_usages (id, transfer_id, log_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.TransferID, u.LogID, u.Amount.String(),
		u.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListTransferUsages returns the audit rows for one transfer.
func (s *Store) ListTransferUsages(ctx context.Context, transferID string) ([]advance.TransferUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transfer_id, log_id, amount, created_at
		FROM transfer_usages WHERE transfer_id = ? ORDER BY created_at ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []advance.TransferUsage
	for rows.Next() {
		var u advance.TransferUsage
		var amount, createdAt string
		if err := rows.Scan(&u.ID, &u.TransferID, &u.LogID, &amount, &createdAt); err != nil {
			return nil, err
		}
		if u.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for usage %s: %w", u.ID, err)
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// =============================================================================
// FORTNIGHT TOTALS
// =============================================================================

// GetFortnightTotal returns a broker's period aggregate. Missing rows come
// back zero-valued: a broker with no commissions has nothing to deduct from.
func (s *Store) GetFortnightTotal(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID) (advance.FortnightTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFortnightTotal(ctx, s.db, fortnightID, brokerID)
}

func getFortnightTotal(ctx context.Context, db dbtx, fortnightID commission.FortnightID, brokerID commission.BrokerID) (advance.FortnightTotal, error) {
	total := advance.FortnightTotal{
		FortnightID:    fortnightID,
		BrokerID:       brokerID,
		GrossAmount:    decimal.Zero,
		DiscountAmount: decimal.Zero,
	}
	var gross, discount string
	err := db.QueryRowContext(ctx, `
		SELECT gross_amount, discount_amount FROM fortnight_broker_totals
		WHERE fortnight_id = ? AND broker_id = ?`,
		string(fortnightID), string(brokerID),
	).Scan(&gross, &discount)
	if err == sql.ErrNoRows {
		return total, nil
	}
	if err != nil {
		return advance.FortnightTotal{}, err
	}
	if total.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return advance.FortnightTotal{}, fmt.Errorf("bad gross_amount: %w", err)
	}
	if total.DiscountAmount, err = decimal.NewFromString(discount); err != nil {
		return advance.FortnightTotal{}, fmt.Errorf("bad discount_amount: %w", err)
	}
	return total, nil
}

// SetFortnightTotal upserts a broker's period aggregate.
func (s *Store) SetFortnightTotal(ctx context.Context, total advance.FortnightTotal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fortnight_broker_totals (fortnight_id, broker_id, gross_amount, discount_amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fortnight_id, broker_id) DO UPDATE SET
			gross_amount = excluded.gross_amount,
			discount_amount = excluded.discount_amount
	`
	_, err := s.db.ExecContext(ctx, query,
		string(total.FortnightID), string(total.BrokerID),
		total.GrossAmount.String(), total.DiscountAmount.String())
	return err
}

// AddFortnightDiscount increments the consumed discount.
func (s *Store) AddFortnightDiscount(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addFortnightDiscount(ctx, s.db, fortnightID, brokerID, amount)
}

func addFortnightDiscount(ctx context.Context, db dbtx, fortnightID commission.FortnightID, brokerID commission.BrokerID, amount decimal.Decimal) error {
	total, err := getFortnightTotal(ctx, db, fortnightID, brokerID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO fortnight_broker_totals (fortnight_id, broker_id, gross_amount, discount_amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fortnight_id, broker_id) DO UPDATE SET
			discount_amount = excluded.discount_amount`,
		string(fortnightID), string(brokerID),
		total.GrossAmount.String(), total.DiscountAmount.Add(amount).String())
	return err
}

// =============================================================================
// PENDING PAYMENTS
// =============================================================================

// CreatePendingPayment persists a downstream payout record.
func (s *Store) CreatePendingPayment(ctx context.Context, p advance.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_payments (id, broker_id, amount, advance_id, source, can_be_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.BrokerID), p.Amount.String(),
		nullString(p.Metadata.AdvanceID), nullString(p.Metadata.Source),
		p.CanBePaid, p.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListPendingPayments returns payout records, optionally filtered by broker.
func (s *Store) ListPendingPayments(ctx context.Context, brokerID commission.BrokerID) ([]advance.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPendingPayments(ctx, s.db, brokerID)
}

func listPendingPayments(ctx context.Context, db dbtx, brokerID commission.BrokerID) ([]advance.PendingPayment, error) {
	query := `
		SELECT id, broker_id, amount, advance_id, source, can_be_paid, created_at
		FROM pending_payments`
	args := []any{}
	if brokerID != "" {
		query += " WHERE broker_id = ?"
		args = append(args, string(brokerID))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []advance.PendingPayment
	for rows.Next() {
		var p advance.PendingPayment
		var broker, amount, createdAt string
		var advanceID, source sql.NullString
		if err := rows.Scan(&p.ID, &broker, &amount, &advanceID, &source, &p.CanBePaid, &createdAt); err != nil {
			return nil, err
		}
		p.BrokerID = commission.BrokerID(broker)
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for payment %s: %w", p.ID, err)
		}
		p.Metadata = advance.PaymentMetadata{AdvanceID: advanceID.String, Source: source.String}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkPaymentsPayable flips can_be_paid on payments gated by the advance.
func (s *Store) MarkPaymentsPayable(ctx context.Context, advanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPaymentsPayable(ctx, s.db, advanceID)
}

func markPaymentsPayable(ctx context.Context, db dbtx, advanceID string) (int, error) {
	res, err := db.ExecContext(ctx,
		"UPDATE pending_payments SET can_be_paid = TRUE WHERE advance_id = ? AND can_be_paid = FALSE",
		advanceID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// TRANSACTIONAL STORE (advance.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock is
// held for the duration so the tx-scoped store must not re-lock.
func (s *Store) WithTx(ctx context.Context, fn func(store advance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes advance.Store calls through an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateAdvance(ctx context.Context, adv advance.Advance) error {
	return createAdvance(ctx, ts.tx, adv)
}

func (ts *txStore) GetAdvance(ctx context.Context, id string) (advance.Advance, error) {
	return getAdvance(ctx, ts.tx, id)
}

func (ts *txStore) ListAdvances(ctx context.Context, brokerID commission.BrokerID) ([]advance.Advance, error) {
	query := `
		SELECT id, broker_id, amount, status, reason, recurrence_id, created_at
		FROM advances WHERE status IN ('PENDING', 'PARTIAL')`
	args := []any{}
	if brokerID != "" {
		query += " AND broker_id = ?"
		args = append(args, string(brokerID))
	}
	query += " ORDER BY created_at DESC"
	return queryAdvances(ctx, ts.tx, query, args...)
}

func (ts *txStore) ListRecurringAdvances(ctx context.Context) ([]advance.Advance, error) {
	return listRecurringAdvances(ctx, ts.tx)
}

func (ts *txStore) UpdateAdvanceBalance(ctx context.Context, id string, prevAmount, newAmount decimal.Decimal, status advance.Status) error {
	return updateAdvanceBalance(ctx, ts.tx, id, prevAmount, newAmount, status)
}

func (ts *txStore) ResetAdvance(ctx context.Context, id string, amount decimal.Decimal, status advance.Status) error {
	return resetAdvance(ctx, ts.tx, id, amount, status)
}

func (ts *txStore) DeleteAdvance(ctx context.Context, id string) (int, error) {
	return deleteAdvance(ctx, ts.tx, id)
}

func (ts *txStore) GetRecurrence(ctx context.Context, id string) (advance.Recurrence, error) {
	return getRecurrence(ctx, ts.tx, id)
}

func (ts *txStore) SaveRecurrence(ctx context.Context, rec advance.Recurrence) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO advance_recurrences (id, amount, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			is_active = excluded.is_active`,
		rec.ID, rec.Amount.String(), rec.Active)
	return err
}

func (ts *txStore) AppendLog(ctx context.Context, l advance.Log) error {
	return appendLog(ctx, ts.tx, l)
}

func (ts *txStore) ListLogs(ctx context.Context, advanceID string) ([]advance.Log, error) {
	return listLogs(ctx, ts.tx, advanceID)
}

func (ts *txStore) CreateTransfer(ctx context.Context, t advance.BankTransfer) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO bank_transfers (id, reference_number, amount, used_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Reference, t.Amount.String(), t.UsedAmount.String(),
		string(advance.DeriveTransferStatus(t.Amount, t.UsedAmount)),
		t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil && isUniqueConstraintError(err) {
		return advance.ErrDuplicateReference
	}
	return err
}

func (ts *txStore) GetTransferByReference(ctx context.Context, reference string) (advance.BankTransfer, error) {
	return getTransferByReference(ctx, ts.tx, reference)
}

func (ts *txStore) ListTransfers(ctx context.Context) ([]advance.BankTransfer, error) {
	return listTransfers(ctx, ts.tx)
}

func (ts *txStore) UpdateTransferUsed(ctx context.Context, id string, used decimal.Decimal, status advance.TransferStatus) error {
	return updateTransferUsed(ctx, ts.tx, id, used, status)
}

func (ts *txStore) AppendTransferUsage(ctx context.Context, u advance.TransferUsage) error {
	return appendTransferUsage(ctx, ts.tx, u)
}

func (ts *txStore) GetFortnightTotal(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID) (advance.FortnightTotal, error) {
	return getFortnightTotal(ctx, ts.tx, fortnightID, brokerID)
}

func (ts *txStore) SetFortnightTotal(ctx context.Context, total advance.FortnightTotal) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO fortnight_broker_totals (fortnight_id, broker_id, gross_amount, discount_amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fortnight_id, broker_id) DO UPDATE SET
			gross_amount = excluded.gross_amount,
			discount_amount = excluded.discount_amount`,
		string(total.FortnightID), string(total.BrokerID),
		total.GrossAmount.String(), total.DiscountAmount.String())
	return err
}

func (ts *txStore) AddFortnightDiscount(ctx context.Context, fortnightID commission.FortnightID, brokerID commission.BrokerID, amount decimal.Decimal) error {
	return addFortnightDiscount(ctx, ts.tx, fortnightID, brokerID, amount)
}

func (ts *txStore) CreatePendingPayment(ctx context.Context, p advance.PendingPayment) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO pending_payments (id, broker_id, amount, advance_id, source, can_be_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.BrokerID), p.Amount.String(),
		nullString(p.Metadata.AdvanceID), nullString(p.Metadata.Source),
		p.CanBePaid, p.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (ts *txStore) ListPendingPayments(ctx context.Context, brokerID commission.BrokerID) ([]advance.PendingPayment, error) {
	return listPendingPayments(ctx, ts.tx, brokerID)
}

func (ts *txStore) MarkPaymentsPayable(ctx context.Context, advanceID string) (int, error) {
	return markPaymentsPayable(ctx, ts.tx, advanceID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"transfer_usages", "bank_transfers", "advance_logs", "advances",
		"advance_recurrences", "pending_payments", "fortnight_broker_totals",
		"pending_items", "comm_items", "comm_imports",
		"policies", "brokers", "insurers",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

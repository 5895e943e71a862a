/*
errors.go - Centralized error types for the commission package

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP status codes with errors.Is.

ERROR CATEGORIES:
  1. Import errors - ingestion/persistence failures
  2. Directory errors - missing brokers/policies
  3. Batch errors - chunked insert failures carrying the failing index

SEE ALSO:
  - router.go: Uses these errors
  - assa.go: Returns BatchError
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateDraft is returned by stores when a draft item with the same
	// dedup key already exists. Routers treat this as a silent skip.
	ErrDuplicateDraft = errors.New("duplicate unidentified draft")

	// ErrImportFailed is returned when the import record or its identified
	// items cannot be persisted. Aborts the ingestion run.
	ErrImportFailed = errors.New("import failed")

	// ErrImportNotFound is returned when a referenced import doesn't exist.
	ErrImportNotFound = errors.New("import not found")

	// ErrBrokerNotFound is returned when a referenced broker doesn't exist.
	ErrBrokerNotFound = errors.New("broker not found")

	// ErrItemNotFound is returned when a referenced commission item doesn't exist.
	ErrItemNotFound = errors.New("commission item not found")

	// ErrEmptyBatch is returned when an ingestion call carries no rows.
	ErrEmptyBatch = errors.New("empty import batch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BatchError reports a chunked-insert failure. Batches before Index are
// committed and stay committed; the caller learns exactly where to resume.
type BatchError struct {
	Index     int // 1-based failing batch number
	Committed int // items persisted by earlier batches
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed after %d items committed: %v", e.Index, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ImportError wraps a store failure during ingestion with the import context.
type ImportError struct {
	InsurerID InsurerID
	Stage     string // "create_import", "insert_items"
	Err       error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import for insurer %s failed at %s: %v", e.InsurerID, e.Stage, e.Err)
}

func (e *ImportError) Unwrap() error { return ErrImportFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrImportNotFound) ||
		errors.Is(err, ErrBrokerNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyBatch)
}

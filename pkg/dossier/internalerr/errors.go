package internalerr

import "errors"

// Sentinel errors for common cases
var (
	// ErrNotFound: the entity has no indexed documents, or no record in
	// the biography store.
	ErrNotFound = errors.New("not found")

	// ErrDocumentUnavailable: one source document could not be read.
	// Non-fatal for the entity; the run proceeds with what resolved.
	ErrDocumentUnavailable = errors.New("document unavailable")

	// ErrEnrichmentFailed: the enrichment service exhausted its retries.
	// Fatal for the entity only; the run continues.
	ErrEnrichmentFailed = errors.New("enrichment failed")

	// ErrConsistency: a store's declared totals diverged from its actual
	// contents. Fatal for the run; the write is aborted and the backup is
	// the recovery path.
	ErrConsistency = errors.New("store consistency violation")

	// ErrUnresolved: an entity has indexed mentions but every document
	// path failed to resolve. Surfaced to the operator instead of
	// producing a quietly empty result.
	ErrUnresolved = errors.New("no document paths resolved")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// Package ierrors defines the sentinel error kinds shared across the
// ingestion pipeline. Call sites wrap them with fmt.Errorf("...: %w", Kind)
// and test with errors.Is; no custom error struct hierarchy is used, matching
// the plain-wrapping style used throughout the rest of this codebase.
package ierrors

import "errors"

var (
	// ErrInvalidInput marks malformed JSON, an unknown top-level shape, a
	// missing required field, or an invalid UUID. Local to a parser; surfaces
	// as a per-file failure in an import batch.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupported marks a file no provider detector recognized. Not an
	// error condition for batch import purposes: the file is silently skipped.
	ErrUnsupported = errors.New("unsupported file")

	// ErrPreconditionNotMet marks an operation invoked without its required
	// state, e.g. summarizing a session with no turn summaries.
	ErrPreconditionNotMet = errors.New("precondition not met")

	// ErrNotFound marks a repository lookup that found nothing. Most
	// repository methods return this only where a caller explicitly needs to
	// distinguish "absent" from "error"; elsewhere a zero value plus a bool,
	// or a nil pointer, communicates absence instead.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate session encountered during import without
	// overwrite requested. Downgraded to a warning by the importer, not
	// propagated as a batch failure.
	ErrConflict = errors.New("conflict")

	// ErrStorageFailure marks a failed transaction. The enclosing entity is
	// rolled back by the caller and the batch continues.
	ErrStorageFailure = errors.New("storage failure")

	// ErrExternalFailure marks an LLM or embedding backend error or timeout.
	// Fails summarization/embedding for one session only.
	ErrExternalFailure = errors.New("external service failure")

	// ErrPartialDecode marks a single multi-session source where some
	// sessions decoded successfully and others were rejected; each is
	// reported individually by the caller.
	ErrPartialDecode = errors.New("partial decode")
)

package vectorstore

import "errors"

// Sentinel errors returned by the store. Callers dispatch with [errors.Is]:
// not-found maps to "not yet provisioned", already-exists to a conflict, and
// corruption to a fatal condition requiring a rebuild from source documents.
var (
	// ErrNotFound is returned when no store exists for the tenant.
	ErrNotFound = errors.New("vector store not found")

	// ErrExists is returned by Create when the tenant already has a store.
	// The existing store is left untouched.
	ErrExists = errors.New("vector store already exists")

	// ErrCorrupted is returned when the index and sidecar disagree, or when
	// only one of the two artifacts is present on disk. A corrupted store is
	// never silently repaired — it must be deleted and rebuilt from the
	// tenant's source documents.
	ErrCorrupted = errors.New("vector store corrupted")

	// ErrInvalidInput is returned for validation failures (bad dimension,
	// mismatched batch lengths, empty input, non-positive k). Validation is
	// performed before any I/O.
	ErrInvalidInput = errors.New("invalid input")
)

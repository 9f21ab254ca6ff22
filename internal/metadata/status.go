package metadata

import "fmt"

// TenantStatus is the lifecycle state of a tenant's knowledge base.
type TenantStatus string

const (
	// TenantCreating means the tenant exists but has no vector store yet.
	TenantCreating TenantStatus = "creating"
	// TenantProcessing means an ingestion run is building the store.
	TenantProcessing TenantStatus = "processing"
	// TenantReady means the store is built and the tenant can answer questions.
	TenantReady TenantStatus = "ready"
	// TenantError means the last ingestion run failed.
	TenantError TenantStatus = "error"
)

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	// DocUploaded means the file is stored but not yet ingested.
	DocUploaded DocumentStatus = "uploaded"
	// DocProcessing means the document is being extracted and embedded.
	DocProcessing DocumentStatus = "processing"
	// DocCompleted means the document's chunks are in the vector store.
	DocCompleted DocumentStatus = "completed"
	// DocError means extraction or embedding failed for this document.
	DocError DocumentStatus = "error"
)

// tenantTransitions enumerates the legal tenant status moves. A tenant goes
// back to creating only when its last document is removed and the store is
// discarded.
var tenantTransitions = map[TenantStatus][]TenantStatus{
	TenantCreating:   {TenantProcessing},
	TenantProcessing: {TenantReady, TenantError},
	TenantReady:      {TenantProcessing, TenantCreating},
	TenantError:      {TenantProcessing, TenantCreating},
}

// documentTransitions enumerates the legal document status moves. Completed
// and errored documents move back to uploaded only when the store is rebuilt;
// errored documents never re-enter processing directly. Processing moves back
// to uploaded when a run fails before its documents were indexed.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocUploaded:   {DocProcessing},
	DocProcessing: {DocCompleted, DocError, DocUploaded},
	DocCompleted:  {DocUploaded},
	DocError:      {DocUploaded},
}

// Valid reports whether s is a known tenant status.
func (s TenantStatus) Valid() bool {
	_, ok := tenantTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is legal.
func (s TenantStatus) CanTransition(next TenantStatus) bool {
	for _, t := range tenantTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	_, ok := documentTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is legal.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, t := range documentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// checkTenantTransition returns ErrInvalidTransition when the move is not
// in the transition table.
func checkTenantTransition(from, to TenantStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("metadata: tenant status %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// checkDocumentTransition returns ErrInvalidTransition when the move is not
// in the transition table.
func checkDocumentTransition(from, to DocumentStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("metadata: document status %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

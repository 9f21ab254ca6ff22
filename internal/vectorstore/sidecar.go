package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
)

// Record is one stored chunk in the metadata sidecar. Records are created
// only as part of an add batch, never mutated in place, and removed only by
// deleting or rebuilding the whole store.
type Record struct {
	// ID is the sequential append position of this chunk, zero-based. It is
	// the join key between an index search hit and the chunk's text.
	ID int `json:"id"`

	// Text is the verbatim chunk text that was embedded.
	Text string `json:"text"`

	// DocumentID identifies the source document this chunk came from.
	DocumentID string `json:"document_id"`

	// Filename is the original name of the source document.
	Filename string `json:"filename"`

	// ChunkIndex is the chunk's zero-based position among its siblings.
	ChunkIndex int `json:"chunk_index"`

	// TotalChunks is the number of chunks the source document produced.
	TotalChunks int `json:"total_chunks"`
}

// sidecar is the on-disk metadata artifact paired with the index file.
// TotalDocuments must always equal the index vector count; a disagreement
// is corruption.
type sidecar struct {
	TenantID       string   `json:"tenant_id"`
	Dimension      int      `json:"dimension"`
	TotalDocuments int      `json:"total_documents"`
	Documents      []Record `json:"documents"`
}

// newSidecar returns an empty sidecar for the given tenant and dimension.
func newSidecar(tenantID string, dimension int) *sidecar {
	return &sidecar{
		TenantID:  tenantID,
		Dimension: dimension,
		Documents: []Record{},
	}
}

// encode marshals the sidecar as indented JSON.
func (sc *sidecar) encode() ([]byte, error) {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sidecar: %w", err)
	}
	return data, nil
}

// readSidecar loads and validates a sidecar file. Unparseable content or an
// internally inconsistent record list is reported as corruption.
func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal sidecar: %w: %w", ErrCorrupted, err)
	}
	if sc.TotalDocuments != len(sc.Documents) {
		return nil, fmt.Errorf("sidecar count %d does not match %d records: %w",
			sc.TotalDocuments, len(sc.Documents), ErrCorrupted)
	}
	return &sc, nil
}

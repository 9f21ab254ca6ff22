package server

import (
	"context"
	"fmt"
	"os"

	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// dbPinger is the narrow interface the metadata pinger needs.
// *metadata.SQLiteStore satisfies it.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// MetadataPinger probes the metadata database. It satisfies the Pinger
// interface and is used by GET /api/ready.
type MetadataPinger struct {
	// db is the metadata store to probe.
	db dbPinger
}

// NewMetadataPinger constructs a MetadataPinger for the given store.
func NewMetadataPinger(db dbPinger) *MetadataPinger {
	return &MetadataPinger{db: db}
}

// Name returns the dependency label used in readiness responses.
func (p *MetadataPinger) Name() string { return "metadata" }

// Ping checks database connectivity.
func (p *MetadataPinger) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// VectorStorePinger probes the vector store by checking that its base
// directory exists and is a directory. The store is plain files on disk, so
// reachability means the volume is mounted and accessible.
type VectorStorePinger struct {
	// store is the vector store to probe.
	store *vectorstore.Store
}

// NewVectorStorePinger constructs a VectorStorePinger for the given store.
func NewVectorStorePinger(store *vectorstore.Store) *VectorStorePinger {
	return &VectorStorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *VectorStorePinger) Name() string { return "vectorstore" }

// Ping stats the store's base directory.
func (p *VectorStorePinger) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(p.store.BasePath())
	if err != nil {
		return fmt.Errorf("base directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %s is not a directory", p.store.BasePath())
	}
	return nil
}

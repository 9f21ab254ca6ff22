package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which runs the
// ingestion pipeline for one tenant from the command line. Documents must
// already be uploaded (rows in the uploaded or error state are processed).
func NewIngestCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build a tenant's knowledge base from its uploaded documents",
		Long: `Run the ingestion pipeline for a tenant.

Every document in the uploaded or error state is extracted, chunked,
embedded, and added to the tenant's vector store. The tenant ends in the
ready state on success, or error when no document could be processed.

Required environment variables:
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Storage locations default to ~/.docqa and can be overridden with
DOCQA_METADATA_DB, DOCQA_VECTOR_DIR, and DOCQA_UPLOADS_DIR.

Examples:
  docqa ingest --tenant 2f1d8c1e-9b4a-4e57-8a4e-1f6c2d3b5a70
  DOCQA_CHUNK_SIZE=1000 docqa ingest --tenant <id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if tenantID == "" {
				return fmt.Errorf("ingest: --tenant is required")
			}

			st, closeStores, err := openStores(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeStores()

			pipeline, _, err := buildPipeline(st, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("starting ingestion", slog.String("tenant_id", tenantID))
			if err := pipeline.Run(ctx, tenantID); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			tenant, err := st.meta.GetTenant(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("ingestion complete",
				slog.String("tenant_id", tenantID),
				slog.String("tenant_status", string(tenant.Status)),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id to ingest (required)")

	return cmd
}

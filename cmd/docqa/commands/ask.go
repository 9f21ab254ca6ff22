package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// question against a tenant's knowledge base and prints the answer with its
// grounding sources.
func NewAskCmd() *cobra.Command {
	var tenantID string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a tenant's knowledge base",
		Long: `Ask a one-shot question against a tenant's ingested documents.

The tenant must be in the ready state. The answer is generated by the
tenant's configured chat model, grounded in the retrieved document chunks.

Examples:
  docqa ask --tenant <id> "What is the refund policy?"
  docqa ask --tenant <id> --top-k 8 "Summarise the onboarding steps"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if tenantID == "" {
				return fmt.Errorf("ask: --tenant is required")
			}

			st, closeStores, err := openStores(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeStores()

			_, emb, err := buildPipeline(st, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			ans, err := buildAnswerer(st, emb)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			answer, err := ans.Answer(ctx, tenantID, args[0], nil, topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer.Text)
			if len(answer.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range answer.Sources {
					fmt.Printf("  %s (chunk %d, distance %.4f)\n", src.Filename, src.ChunkIndex, src.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id to query (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: 4)")

	return cmd
}

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

// NewTenantsCmd constructs the `docqa tenants` command, which lists all
// tenants with their status and document counts.
func NewTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List all tenants and their knowledge base status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			st, closeStores, err := openStores(log)
			if err != nil {
				return fmt.Errorf("tenants: %w", err)
			}
			defer closeStores()

			tenants, err := st.meta.ListTenants(ctx)
			if err != nil {
				return fmt.Errorf("tenants: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODEL\tSTATUS\tDOCUMENTS")
			for _, t := range tenants {
				docs, err := st.meta.ListDocuments(ctx, t.ID)
				if err != nil {
					return fmt.Errorf("tenants: %w", err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Model, t.Status, len(docs))
			}
			return tw.Flush()
		},
	}
	return cmd
}

package cli

import (
	"github.com/spf13/cobra"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the newest commits of a faction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := rootOpts.context(cmd.Context())
			rt, err := rootOpts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.Engine.AuditLog(ctx, rootOpts.FactionID, limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			for _, e := range entries {
				writeAudit(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")

	return cmd
}

package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/opbulk/internal/ledger"
)

func NewGrantsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "List search grants that have not been cleaned up",
		Long: `List the temporary vault grants recorded by 'opbulk search' that no
cleanup has revoked yet. Reads only the ledger; no op commands are run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ledger.Open(cmd.Context(), env.Config.Definition.StoreConfig())
			if err != nil {
				return fmt.Errorf("failed to open grant ledger: %w", err)
			}
			defer func() { _ = store.Close() }()

			entries, err := store.Outstanding(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read grant ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "No outstanding search grants.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "VAULT\tGROUP\tPERMISSION\tGRANTED\tRUN\n")
			_, _ = fmt.Fprintf(w, "-----\t-----\t----------\t-------\t---\n")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.VaultID, e.Group, e.Permission, e.CreatedAt.Local().Format(time.RFC3339), e.RunID)
			}
			_ = w.Flush()
			_, _ = fmt.Fprintf(out, "\n%d outstanding grant(s). Run 'opbulk cleanup' to revoke them.\n", len(entries))
			return nil
		},
	}

	return cmd
}

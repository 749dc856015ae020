package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/opbulk/internal/actions"
)

func NewCleanupCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Revoke the temporary search grants",
		Long: `Revoke the search group's allow_viewing permission on every vault
where you currently hold it, then close the matching ledger entries.

Run this once you're done searching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.registry.Run(cmd.Context(), actions.SearchComplete, actions.Input{})
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}

	return cmd
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/opbulk/internal/actions"
)

func NewSearchCommand(env *Env) *cobra.Command {
	var (
		term    string
		vaultID string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search item fields for a credential",
		Long: `Search every visible field of every item for a term.

The search group (Owners by default) is granted allow_viewing on each vault
searched so their items can be read. The grant is recorded in the ledger and
stays in place until you run 'opbulk cleanup'.

Concealed fields are never matched.

Examples:
  opbulk search --term AKIA                 # All vaults
  opbulk search --term AKIA --vault abc123  # One vault
  opbulk search --testing                   # Sample vault and term`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer s.Close()

			name := actions.SearchAllVaults
			if vaultID != "" {
				name = actions.SearchSingleVault
			}
			res, err := s.registry.Run(cmd.Context(), name, actions.Input{SearchTerm: term, VaultID: vaultID})
			printMatches(cmd.OutOrStdout(), res.Matches)
			return err
		},
	}

	cmd.Flags().StringVarP(&term, "term", "t", "", "Text to look for in item fields")
	cmd.Flags().StringVar(&vaultID, "vault", "", "Search only this vault ID")

	return cmd
}

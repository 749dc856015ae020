package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/opbulk/internal/actions"
	"github.com/systmms/opbulk/internal/onepassword"
)

func NewUsersCommand(env *Env) *cobra.Command {
	var (
		vaultID string
		perms   string
	)

	cmd := &cobra.Command{
		Use:   "users [grant|revoke]",
		Short: "Grant or revoke permissions for vault users",
		Long: `Grant or revoke vault permissions for every user of one vault, or of
every vault where you hold the given permissions.

Only users whose permissions would change are updated: grant targets users
missing any of the permissions, revoke targets users holding any of them.
Users are processed in chunks of chunks.users on the bounded executor.

Examples:
  opbulk users grant --vault abc123 --permissions view_items,export_items
  opbulk users revoke --permissions export_items`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{string(onepassword.Grant), string(onepassword.Revoke)},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := onepassword.ParseAction(args[0])
			if err != nil {
				return err
			}
			in := actions.Input{VaultID: vaultID, Action: action}
			if perms != "" {
				if in.Permissions, err = onepassword.ParsePermissions(perms); err != nil {
					return err
				}
			}

			s, err := openSession(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.registry.Run(cmd.Context(), actions.ModifyUserPermissions, in)
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}

	cmd.Flags().StringVar(&vaultID, "vault", "", "Vault ID (default: every vault where you hold the permissions)")
	cmd.Flags().StringVarP(&perms, "permissions", "p", "", "Comma separated vault permissions")

	return cmd
}

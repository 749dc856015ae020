package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systmms/opbulk/internal/actions"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
)

// progressInterval is how often the menu reports a still-running action.
const progressInterval = 30 * time.Second

func NewMenuCommand(env *Env) *cobra.Command {
	var selection string

	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Choose one of the named actions",
		Long: `Show the named actions and run the one you choose.

  1. IR-CredSearch-AllVaults    Search for credentials in all vaults
  2. IR-CredSearch-SingleVault  Search for credentials in a single vault
  3. IR-CredSearch-Complete     Clean up the permissions granted by searching
  4. Modify-User-Permissions    Grant or revoke permissions for vault users

Select by number or by name. With --testing the sample vault and search term
replace the prompts for a vault ID and search term.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := openSession(ctx, env)
			if err != nil {
				return err
			}
			defer s.Close()

			prompter := actions.NewLinePrompter(env.stdin(), out)
			if s.registry.Testing() {
				_, _ = fmt.Fprintln(out, "Testing mode: the sample vault and search term replace prompts.")
			}
			if selection == "" {
				if env.In == nil && !term.IsTerminal(int(os.Stdin.Fd())) {
					return operrors.ConfigError{
						Field:      "selection",
						Message:    "no action selected and stdin is not a terminal",
						Suggestion: "Pass --selection with a number or action name",
					}
				}
				_, _ = fmt.Fprintf(out, "%s\n\n", s.registry.HelpText())
				if selection, err = prompter.Prompt(ctx, "Select an action: "); err != nil {
					return err
				}
			}

			action, err := s.registry.Lookup(selection)
			if err != nil {
				return err
			}
			in, err := s.registry.Collect(ctx, action.Name, prompter)
			if err != nil {
				return err
			}

			res, err := wait(s.registry.Start(ctx, action.Name, in), action.Name, env.logger())
			printResult(out, res)
			return err
		},
	}

	cmd.Flags().StringVarP(&selection, "selection", "s", "", "Action number or name (prompted when omitted)")

	return cmd
}

// wait blocks until the action delivers its outcome, logging progress while
// it runs. Cancellation reaches the action through its own context.
func wait(ch <-chan actions.Outcome, name string, logger *logging.Logger) (actions.Result, error) {
	started := time.Now()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-ch:
			return out.Result, out.Err
		case <-ticker.C:
			logger.Info("%s still running (%s elapsed)", name, time.Since(started).Round(time.Second))
		}
	}
}

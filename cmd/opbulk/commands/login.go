package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systmms/opbulk/internal/actions"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/op"
)

func NewLoginCommand(env *Env) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a 1Password service account token in the OS keyring",
		Long: `Save a service account token in the OS keyring so opbulk can pass it to
op without it living in your shell environment.

The token is read from the terminal without echo, or from stdin when piped.
OP_SERVICE_ACCOUNT_TOKEN, when set, still takes precedence.

Examples:
  opbulk login                           # Prompt for the token
  opbulk login < token.txt               # Read it from a file
  opbulk login --account acme --delete   # Forget the stored token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account := env.Config.Definition.Account
			out := cmd.OutOrStdout()

			if remove {
				if err := op.DeleteToken(account); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "✓ Removed stored token for %s\n", op.KeyringUser(account))
				return nil
			}

			token, err := readToken(env, out)
			if err != nil {
				return err
			}
			env.logger().Debug("Storing token %s for %s", logging.Secret(token), op.KeyringUser(account))
			if err := op.StoreToken(account, token); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "✓ Stored token for %s in the OS keyring\n", op.KeyringUser(account))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "Remove the stored token instead")

	return cmd
}

func readToken(env *Env, out io.Writer) (string, error) {
	if env.In == nil && term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprint(out, "Service account token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(env.stdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", actions.ErrNoInput)
	}
	return strings.TrimSpace(line), nil
}

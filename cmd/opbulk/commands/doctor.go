package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/systmms/opbulk/internal/config"
	"github.com/systmms/opbulk/internal/ledger"
	"github.com/systmms/opbulk/internal/onepassword"
	"github.com/systmms/opbulk/internal/op"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Name    string
	Status  string
	Message string
}

const (
	statusOK      = "ok"
	statusError   = "error"
	statusSkipped = "skipped"
)

func NewDoctorCommand(env *Env) *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the 1Password CLI, credentials and configuration",
		Long: `Verify that opbulk can do its job.

This command checks:
- Configuration file validity
- 1Password CLI presence and minimum version
- Service account token source
- The signed-in account (op whoami)
- The search group exists
- Grant ledger access

Use --schema to print the JSON schema that opbulk.yaml is validated against.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if schema {
				_, err := out.Write(config.Schema())
				return err
			}

			results := runChecks(cmd.Context(), env)
			displayCheckResults(out, results)

			passed := 0
			for _, r := range results {
				if r.Status != statusError {
					passed++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", passed, len(results))
			if passed < len(results) {
				return errors.New("some checks failed")
			}
			env.logger().Info("✓ All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&schema, "schema", false, "Print the configuration JSON schema and exit")

	return cmd
}

func runChecks(ctx context.Context, env *Env) []CheckResult {
	def := env.Config.Definition
	path := env.Config.Path
	if path == "" {
		path = config.DefaultPath
	}
	results := []CheckResult{{Name: "configuration", Status: statusOK, Message: path}}

	token, origin, err := op.LoadToken(def.Account, def.Token.Keyring)
	if err != nil {
		results = append(results, CheckResult{Name: "token", Status: statusError, Message: err.Error()})
	} else {
		defer token.Destroy()
		msg := string(origin)
		if origin == op.TokenNone {
			msg = "none (op will use its own session)"
		}
		results = append(results, CheckResult{Name: "token", Status: statusOK, Message: msg})
	}

	clientOpts := []op.ClientOption{op.WithAccount(def.Account), op.WithToken(token), op.WithLogger(env.logger())}
	if env.Executor != nil {
		clientOpts = append(clientOpts, op.WithExecutor(env.Executor))
	}
	client := op.NewClient(clientOpts...)

	minVersion := def.MinimumVersion()
	v, err := client.CheckVersion(ctx, minVersion)
	versionOK := err == nil
	if versionOK {
		results = append(results, CheckResult{Name: "op cli", Status: statusOK, Message: fmt.Sprintf("%s (minimum %s)", v, minVersion)})
	} else {
		results = append(results, CheckResult{Name: "op cli", Status: statusError, Message: err.Error()})
	}

	if versionOK {
		results = append(results, checkAccount(ctx, client), checkSearchGroup(ctx, client, def.Search.Group))
	} else {
		results = append(results,
			CheckResult{Name: "account", Status: statusSkipped, Message: "op cli check failed"},
			CheckResult{Name: "search group", Status: statusSkipped, Message: "op cli check failed"},
		)
	}

	return append(results, checkLedger(ctx, def.StoreConfig()))
}

func checkAccount(ctx context.Context, client *op.Client) CheckResult {
	raw, err := client.Run(ctx, op.WhoAmI()).Result()
	if err != nil {
		return CheckResult{Name: "account", Status: statusError, Message: err.Error()}
	}
	who := gjson.ParseBytes(raw)
	msg := who.Get("email").String()
	if url := who.Get("url").String(); url != "" {
		msg = fmt.Sprintf("%s on %s", msg, url)
	}
	return CheckResult{Name: "account", Status: statusOK, Message: msg}
}

func checkSearchGroup(ctx context.Context, client *op.Client, name string) CheckResult {
	groups, err := onepassword.NewGroupClient(client).List(ctx)
	if err != nil {
		return CheckResult{Name: "search group", Status: statusError, Message: err.Error()}
	}
	for _, g := range groups {
		if g.Name == name || g.ID == name {
			return CheckResult{Name: "search group", Status: statusOK, Message: fmt.Sprintf("%s (%s)", g.Name, g.ID)}
		}
	}
	return CheckResult{Name: "search group", Status: statusError, Message: fmt.Sprintf("group %q not found; set search.group", name)}
}

func checkLedger(ctx context.Context, cfg ledger.Config) CheckResult {
	store, err := ledger.Open(ctx, cfg)
	if err != nil {
		return CheckResult{Name: "ledger", Status: statusError, Message: err.Error()}
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Outstanding(ctx)
	if err != nil {
		return CheckResult{Name: "ledger", Status: statusError, Message: err.Error()}
	}
	backend := cfg.Backend
	if backend == "" {
		backend = ledger.BackendFile
	}
	if fs, ok := store.(*ledger.FileStore); ok {
		backend = fmt.Sprintf("%s %s", backend, fs.Path())
	}
	return CheckResult{Name: "ledger", Status: statusOK, Message: fmt.Sprintf("%s, %d outstanding grant(s)", backend, len(entries))}
}

func displayCheckResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tDETAIL\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t------\n")

	for _, r := range results {
		status := r.Status
		switch r.Status {
		case statusOK:
			status = "✅ " + status
		case statusError:
			status = "❌ " + status
		case statusSkipped:
			status = "⏭️  " + status
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Message)
	}

	_ = w.Flush()
}

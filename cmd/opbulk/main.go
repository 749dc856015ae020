package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/systmms/opbulk/cmd/opbulk/commands"
	"github.com/systmms/opbulk/internal/config"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/op"
	"github.com/systmms/opbulk/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", operrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	defer secure.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Global flags
	var (
		configFile  string
		noColor     bool
		debug       bool
		testingMode bool
		account     string
		logFile     string
		metricsAddr string
	)

	cfg := &config.Config{}
	env := &commands.Env{Config: cfg, Metrics: metrics.New()}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()

	rootCmd := &cobra.Command{
		Use:   "opbulk",
		Short: "Bulk 1Password permission management and credential search",
		Long: `opbulk drives the 1Password CLI (op) to change vault permissions for
many vaults and users at once and to search item fields for leaked
credentials during incident response.

Every op invocation runs on a bounded executor with rate-limit retries.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			if err := cfg.Load(); err != nil {
				return err
			}

			// Only flags the user set override the file.
			def := cfg.Definition
			flags := cmd.Flags()
			if flags.Changed("account") {
				def.Account = account
			}
			if flags.Changed("log-file") {
				def.LogFile = logFile
			}
			if flags.Changed("metrics-addr") {
				def.MetricsAddr = metricsAddr
			}

			if def.LogFile != "" {
				cfg.Logger = logging.NewWithOptions(logging.Options{Debug: debug, NoColor: noColor, FilePath: def.LogFile})
			}
			if !def.Token.Env {
				_ = os.Unsetenv(op.TokenEnvVar)
			}

			env.Testing = testingMode
			env.RunID = uuid.NewString()
			cfg.Logger.Debug("Run %s started", env.RunID)

			if def.MetricsAddr != "" {
				logger := cfg.Logger
				go func() {
					if err := metrics.Serve(metricsCtx, def.MetricsAddr, env.Metrics); err != nil {
						logger.Warn("Metrics endpoint stopped: %v", err)
					}
				}()
				cfg.Logger.Debug("Serving metrics on %s/metrics", def.MetricsAddr)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cfg.Logger != nil {
				_ = cfg.Logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&testingMode, "testing", false, "Use the sample vault and search term instead of prompting")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "1Password account shorthand, sign-in address or ID")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this rotated file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		commands.NewSearchCommand(env),
		commands.NewCleanupCommand(env),
		commands.NewUsersCommand(env),
		commands.NewMenuCommand(env),
		commands.NewGrantsCommand(env),
		commands.NewLoginCommand(env),
		commands.NewDoctorCommand(env),
		commands.NewCompletionCommand(),
	)

	return rootCmd.ExecuteContext(ctx)
}

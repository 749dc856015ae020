package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/systmms/opbulk/internal/actions"
	"github.com/systmms/opbulk/internal/batch"
	"github.com/systmms/opbulk/internal/config"
	"github.com/systmms/opbulk/internal/ledger"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/onepassword"
	"github.com/systmms/opbulk/internal/op"
	"github.com/systmms/opbulk/internal/permissions"
	"github.com/systmms/opbulk/internal/search"
	"github.com/systmms/opbulk/internal/secure"
	"github.com/systmms/opbulk/pkg/exec"
)

// Env is shared by every command. main fills it in before a command runs.
type Env struct {
	Config  *config.Config
	Metrics *metrics.Collectors
	// Testing substitutes the sample vault and search term for user input.
	Testing bool
	RunID   string
	// Executor runs the op binary. Nil uses the real process executor.
	Executor exec.CommandExecutor
	// In is read by prompts. Nil uses os.Stdin.
	In io.Reader
}

func (e *Env) stdin() io.Reader {
	if e.In != nil {
		return e.In
	}
	return os.Stdin
}

func (e *Env) logger() *logging.Logger {
	if e.Config.Logger == nil {
		return logging.NewNop()
	}
	return e.Config.Logger
}

// session is the wired object graph for one command invocation.
type session struct {
	logger   *logging.Logger
	client   *op.Client
	runner   op.Runner
	token    *secure.Token
	store    ledger.Store
	vaults   *onepassword.VaultClient
	perms    *permissions.Orchestrator
	searcher *search.Orchestrator
	registry *actions.Registry
}

// openSession loads the token, gates on the CLI version and builds the
// orchestrators. No op command other than "op --version" runs before the
// version check passes.
func openSession(ctx context.Context, env *Env) (*session, error) {
	def := env.Config.Definition
	logger := env.logger()
	if env.RunID != "" {
		logger = logger.With("run_id", env.RunID)
	}

	token, origin, err := op.LoadToken(def.Account, def.Token.Keyring)
	if err != nil {
		return nil, err
	}
	logger.Debug("Service account token source: %s", origin)

	s := &session{logger: logger, token: token}
	clientOpts := []op.ClientOption{
		op.WithAccount(def.Account),
		op.WithToken(token),
		op.WithLogger(logger),
		op.WithMetrics(env.Metrics),
	}
	if env.Executor != nil {
		clientOpts = append(clientOpts, op.WithExecutor(env.Executor))
	}
	s.client = op.NewClient(clientOpts...)

	if _, err := s.client.CheckVersion(ctx, def.MinimumVersion()); err != nil {
		s.Close()
		return nil, err
	}

	retrying, err := op.NewRetryingRunner(s.client, def.RetryPolicy(),
		op.WithRetryLogger(logger),
		op.WithRetryMetrics(env.Metrics),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.runner = retrying

	permExecutor, err := batch.New(def.Concurrency.Default, batch.WithLogger(logger), batch.WithMetrics(env.Metrics))
	if err != nil {
		s.Close()
		return nil, err
	}
	searchExecutor, err := batch.New(def.Concurrency.Batch, batch.WithLogger(logger), batch.WithMetrics(env.Metrics))
	if err != nil {
		s.Close()
		return nil, err
	}

	s.store, err = ledger.Open(ctx, def.StoreConfig())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open grant ledger: %w", err)
	}

	s.vaults = onepassword.NewVaultClient(s.runner)
	s.perms, err = permissions.New(s.vaults, permExecutor,
		permissions.WithOptions(permissions.Options{
			VaultChunkSize:   def.Chunks.Vaults,
			UserChunkSize:    def.Chunks.Users,
			SearchGroup:      def.Search.Group,
			SearchPermission: def.Search.Permission,
			RunID:            env.RunID,
		}),
		permissions.WithLedger(s.store),
		permissions.WithLogger(logger),
		permissions.WithMetrics(env.Metrics),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	searchOpts := search.Options{ItemChunkSize: def.Chunks.Items}
	if env.Testing {
		searchOpts.MaxItemChunks = 1
	}
	s.searcher, err = search.New(s.vaults, onepassword.NewItemClient(s.runner), s.perms, searchExecutor,
		search.WithOptions(searchOpts),
		search.WithLogger(logger),
		search.WithMetrics(env.Metrics),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	regOpts := []actions.Option{actions.WithLogger(logger)}
	if env.Testing {
		regOpts = append(regOpts, actions.WithTesting(actions.Sample{
			VaultID:    def.Testing.VaultID,
			SearchTerm: def.Testing.SearchTerm,
		}))
	}
	s.registry = actions.NewRegistry(s.searcher, s.perms, regOpts...)

	policy, popts := retrying.Policy(), s.perms.Options()
	logger.Debug("Session ready: account=%q retries=%d delay=%s workers=%d/%d chunks vaults=%d users=%d items=%d",
		s.client.Account(), policy.MaxRetries, policy.InitialDelay,
		permExecutor.Limit(), searchExecutor.Limit(),
		popts.VaultChunkSize, popts.UserChunkSize, def.Chunks.Items)
	return s, nil
}

// Close wipes the token and releases the ledger.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Failed to close grant ledger: %v", err)
		}
	}
	s.token.Destroy()
}

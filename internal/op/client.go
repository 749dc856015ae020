// Package op runs the 1Password CLI and classifies its results.
//
// Client is the only place that spawns the op binary. Everything above it
// talks to the Runner interface, so retries, fakes and mocks compose freely.
package op

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/secure"
	"github.com/systmms/opbulk/pkg/exec"
)

// Binary is the executable name of the 1Password CLI.
const Binary = "op"

// TokenEnvVar carries the service-account token to the CLI process.
const TokenEnvVar = "OP_SERVICE_ACCOUNT_TOKEN"

var (
	authPhrases = []string{
		"not currently signed in",
		"account is not signed in",
		"not signed in",
	}
	rateLimitPhrases = []string{
		"rate limit exceeded",
		"too many requests",
	}
	notFoundPhrases = []string{
		"not found",
		"isn't a",
	}
)

// Client invokes the op binary.
type Client struct {
	executor exec.CommandExecutor
	binary   string
	account  string
	token    *secure.Token
	logger   *logging.Logger
	metrics  *metrics.Collectors
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithExecutor replaces the process executor.
func WithExecutor(e exec.CommandExecutor) ClientOption {
	return func(c *Client) { c.executor = e }
}

// WithAccount appends --account to every command.
func WithAccount(account string) ClientOption {
	return func(c *Client) { c.account = account }
}

// WithToken passes a service-account token to every invocation via the
// environment. The token never appears on the command line.
func WithToken(t *secure.Token) ClientOption {
	return func(c *Client) { c.token = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records one command outcome per invocation.
func WithMetrics(m *metrics.Collectors) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client that runs the real op binary by default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		executor: exec.DefaultExecutor(),
		binary:   Binary,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account returns the account passed to every command, if any.
func (c *Client) Account() string {
	return c.account
}

// Run executes cmd once and classifies the result. It never retries.
func (c *Client) Run(ctx context.Context, cmd Command) Outcome {
	out := c.run(ctx, cmd)
	c.metrics.CommandOutcome(cmd.Resource, out.Kind.String())
	return out
}

func (c *Client) run(ctx context.Context, cmd Command) Outcome {
	env, err := c.token.Env(TokenEnvVar)
	if err != nil {
		return Failed(Fatal, fmt.Errorf("service account token: %w", err))
	}

	argv := cmd.Argv(c.account)
	c.logger.Debug("Executing op command: %s", cmd)

	stdout, stderr, err := c.executor.Execute(ctx, env, c.binary, argv...)
	if err != nil {
		return c.classifyFailure(ctx, cmd, stderr, err)
	}

	output := bytes.TrimSpace(stdout)
	if len(output) == 0 {
		return Succeeded(nil)
	}

	if cmd.Format == FormatJSON && !gjson.ValidBytes(output) {
		c.logger.Error("Failed to decode JSON output of %s", cmd)
		return Failed(Fatal, &operrors.CommandError{
			Command: cmd.String(),
			Kind:    operrors.ErrParse,
		})
	}

	return Succeeded(append([]byte(nil), output...))
}

func (c *Client) classifyFailure(ctx context.Context, cmd Command, stderr []byte, err error) Outcome {
	if exec.IsNotFound(err) {
		return Failed(Fatal, &operrors.CommandError{
			Command:  cmd.String(),
			ExitCode: -1,
			Kind:     operrors.ErrCLINotFound,
			Err:      err,
		})
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failed(Fatal, fmt.Errorf("%s: %w", cmd, ctxErr))
	}

	full := strings.TrimSpace(string(stderr))
	if full == "" {
		full = err.Error()
	}
	lower := strings.ToLower(full)
	message := conciseMessage(full)

	cmdErr := &operrors.CommandError{
		Command:  cmd.String(),
		ExitCode: exec.ExitCode(err),
		Message:  message,
	}

	switch {
	case containsAny(lower, authPhrases):
		cmdErr.Kind = operrors.ErrAuthRequired
		cmdErr.Message = "Please authenticate with 1Password CLI first using 'op signin'"
		return Failed(AuthRequired, cmdErr)
	case containsAny(lower, rateLimitPhrases):
		cmdErr.Kind = operrors.ErrRateLimited
		return Failed(Transient, cmdErr)
	case containsAny(lower, notFoundPhrases):
		cmdErr.Kind = operrors.ErrNotFound
	default:
		cmdErr.Kind = operrors.ErrCommandFailed
	}

	c.logger.Debug("Full CLI error: %s", full)
	c.logger.Error("Command failed: %s", message)
	return Failed(Fatal, cmdErr)
}

// conciseMessage picks the first "[ERROR]" line, falling back to the first line.
func conciseMessage(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[ERROR]") {
			return line
		}
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "Unknown error"
	}
	return strings.TrimSpace(lines[0])
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

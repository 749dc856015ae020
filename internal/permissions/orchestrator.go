// Package permissions drives bulk vault permission changes.
//
// Group changes are low-cardinality and run serially, vault by vault and chunk
// by chunk. User changes are chunked and each chunk becomes one task on the
// bounded executor. Both paths are best effort: a failed target is logged and
// counted in the Summary and the batch continues. Authentication failures are
// the exception and are returned to the caller immediately.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/opbulk/internal/batch"
	"github.com/systmms/opbulk/internal/chunk"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/ledger"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/onepassword"
)

// Defaults for chunk sizes and the search grant.
const (
	DefaultVaultChunkSize = 10
	DefaultUserChunkSize  = 100
)

// Options tune an Orchestrator.
type Options struct {
	VaultChunkSize int
	UserChunkSize  int
	// SearchGroup and SearchPermission describe the temporary grant made for
	// credential search and removed by cleanup.
	SearchGroup      string
	SearchPermission string
	// RunID tags ledger entries and log lines.
	RunID string
}

// DefaultOptions returns chunk sizes 10/100 and an Owners allow_viewing search grant.
func DefaultOptions() Options {
	return Options{
		VaultChunkSize:   DefaultVaultChunkSize,
		UserChunkSize:    DefaultUserChunkSize,
		SearchGroup:      onepassword.OwnersGroup,
		SearchPermission: onepassword.AllowViewing,
	}
}

func (o Options) validate() error {
	if o.VaultChunkSize < 1 {
		return operrors.ConfigError{Field: "chunks.vaults", Value: o.VaultChunkSize, Message: "chunk size must be at least 1"}
	}
	if o.UserChunkSize < 1 {
		return operrors.ConfigError{Field: "chunks.users", Value: o.UserChunkSize, Message: "chunk size must be at least 1"}
	}
	if o.SearchGroup == "" || o.SearchPermission == "" {
		return operrors.ConfigError{Field: "search", Message: "search group and permission are required"}
	}
	return nil
}

// Orchestrator applies permission changes across many vaults and users.
type Orchestrator struct {
	vaults   *onepassword.VaultClient
	groups   *onepassword.VaultGroupClient
	users    *onepassword.VaultUserClient
	executor *batch.Executor
	ledger   ledger.Store
	logger   *logging.Logger
	metrics  *metrics.Collectors
	opts     Options
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOptions replaces the tuning options.
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) { o.opts = opts }
}

// WithLedger records group grants and revocations in store.
func WithLedger(store ledger.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.ledger = store
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics counts every permission change.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. vaults supplies both the group and the user
// permission clients; executor bounds user-chunk concurrency.
func New(vaults *onepassword.VaultClient, executor *batch.Executor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		vaults:   vaults,
		groups:   vaults.Group,
		users:    vaults.User,
		executor: executor,
		ledger:   ledger.Nop{},
		logger:   logging.NewNop(),
		opts:     DefaultOptions(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.opts.validate(); err != nil {
		return nil, err
	}
	if o.opts.RunID != "" {
		o.logger = o.logger.With("run_id", o.opts.RunID)
	}
	return o, nil
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// ApplyGroup grants or revokes perms for group on every vault. Chunks and the
// vaults inside each chunk are processed strictly in order, one at a time.
func (o *Orchestrator) ApplyGroup(ctx context.Context, action onepassword.Action, vaults []onepassword.Vault, group string, perms []string) (summary Summary, err error) {
	summary = Summary{Action: action, Principal: PrincipalGroup, Targets: len(vaults)}
	start := o.now()
	defer func() { summary.Elapsed = o.now().Sub(start) }()

	chunks, err := chunk.Split(vaults, o.opts.VaultChunkSize)
	if err != nil {
		return summary, err
	}

	for i, c := range chunks {
		log := o.logger.With("chunk", i, "principal", PrincipalGroup)
		log.Info("Starting %s permissions for %d vaults.", action, len(c))
		chunkStart := o.now()

		for j, vault := range c {
			if err := ctx.Err(); err != nil {
				summary.Skipped += summary.Targets - summary.Succeeded - summary.Failed
				return summary, err
			}

			_, err := o.groups.Apply(ctx, action, vault.ID, group, perms)
			o.metrics.PermissionUpdate(PrincipalGroup, string(action), err == nil)
			if err != nil {
				if operrors.IsEscalating(err) {
					summary.fail(vault.ID, group, err)
					summary.Skipped += len(c) - j - 1 + remaining(chunks[i+1:])
					summary.Chunks++
					return summary, err
				}
				log.Error("Error updating permissions for vault %s: %v", vault.ID, err)
				summary.fail(vault.ID, group, err)
				continue
			}

			summary.Succeeded++
			o.recordGroupChange(ctx, log, action, vault.ID, group, perms)
		}

		summary.Chunks++
		log.Info("Completed %s permissions for %d vaults in %.2f seconds.", action, len(c), o.now().Sub(chunkStart).Seconds())
	}

	return summary, nil
}

func remaining[T any](chunks [][]T) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

func (o *Orchestrator) recordGroupChange(ctx context.Context, log *logging.Logger, action onepassword.Action, vaultID, group string, perms []string) {
	for _, perm := range perms {
		var err error
		switch action {
		case onepassword.Grant:
			_, err = o.ledger.Record(ctx, ledger.Entry{
				VaultID:    vaultID,
				Group:      group,
				Permission: perm,
				RunID:      o.opts.RunID,
				CreatedAt:  o.now().UTC(),
			})
		case onepassword.Revoke:
			_, err = o.ledger.MarkRevoked(ctx, vaultID, group, perm, o.now())
		}
		if err != nil {
			log.Warn("Failed to update grant ledger for vault %s: %v", vaultID, err)
		}
	}
}

type userChunkResult struct {
	attempted int
	succeeded int
	failures  []Failure
}

// ApplyUsers grants or revokes perms for users on one vault. Users are chunked
// and each chunk runs as a single executor task; users inside a chunk are
// processed in order.
func (o *Orchestrator) ApplyUsers(ctx context.Context, action onepassword.Action, vaultID string, users []onepassword.VaultUser, perms []string) (summary Summary, err error) {
	summary = Summary{Action: action, Principal: PrincipalUser, Targets: len(users)}
	start := o.now()
	defer func() { summary.Elapsed = o.now().Sub(start) }()

	chunks, err := chunk.Split(users, o.opts.UserChunkSize)
	if err != nil {
		return summary, err
	}
	if len(chunks) == 0 {
		return summary, nil
	}

	o.logger.Info("Processing %d chunks of users to %s permissions in vault %s", len(chunks), action, vaultID)

	results, execErr := batch.Execute(ctx, o.executor, chunks, func(ctx context.Context, c []onepassword.VaultUser) (userChunkResult, error) {
		return o.applyUserChunk(ctx, action, vaultID, c, perms)
	})

	for i, r := range results {
		if !r.OK && isSkipped(r.Err) {
			summary.Skipped += len(chunks[i])
			continue
		}
		summary.Chunks++
		summary.Succeeded += r.Value.succeeded
		summary.Failed += len(r.Value.failures)
		summary.Failures = append(summary.Failures, r.Value.failures...)

		// Users after an escalation were never attempted. Anything else
		// unaccounted for (a panic) is a failure of the chunk.
		rest := len(chunks[i]) - r.Value.attempted
		if r.OK || rest <= 0 {
			continue
		}
		if operrors.IsEscalating(r.Err) {
			summary.Skipped += rest
			continue
		}
		summary.Failed += rest
		summary.Failures = append(summary.Failures, Failure{VaultID: vaultID, Target: fmt.Sprintf("chunk %d", i), Err: r.Err})
	}

	return summary, execErr
}

func isSkipped(err error) bool {
	return errors.Is(err, batch.ErrSkipped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) applyUserChunk(ctx context.Context, action onepassword.Action, vaultID string, users []onepassword.VaultUser, perms []string) (userChunkResult, error) {
	var res userChunkResult
	start := o.now()
	o.logger.Info("Running %s for %d users in vault %s with permissions: %s.", action, len(users), vaultID, strings.Join(perms, ","))

	for _, u := range users {
		_, err := o.users.Apply(ctx, action, vaultID, u.ID, perms)
		o.metrics.PermissionUpdate(PrincipalUser, string(action), err == nil)
		res.attempted++
		if err != nil {
			res.failures = append(res.failures, Failure{VaultID: vaultID, Target: u.ID, Err: err})
			if operrors.IsEscalating(err) {
				return res, err
			}
			o.logger.Error("Error updating permissions for user %s in vault %s: %v", u.ID, vaultID, err)
			continue
		}
		res.succeeded++
	}

	o.logger.Debug("Processed %d users in vault %s in %.2f seconds.", len(users), vaultID, o.now().Sub(start).Seconds())
	return res, nil
}

// UpdateUserPermissions resolves target vaults (vaultID, or every vault listed
// with perms), lists each vault's users, keeps those whose permissions would
// change and applies the change through ApplyUsers.
func (o *Orchestrator) UpdateUserPermissions(ctx context.Context, action onepassword.Action, perms []string, vaultID string) (Summary, error) {
	total := Summary{Action: action, Principal: PrincipalUser}
	if len(perms) == 0 {
		return total, operrors.ConfigError{Field: "permissions", Message: "at least one permission is required"}
	}

	vaults, err := o.resolveVaults(ctx, vaultID, strings.Join(perms, ","))
	if err != nil {
		return total, err
	}

	for _, vault := range vaults {
		users, err := o.users.List(ctx, vault.ID)
		if err != nil {
			if operrors.IsEscalating(err) {
				return total, err
			}
			o.logger.Error("Failed to list users of vault %s: %v", vault.ID, err)
			total.Targets++
			total.fail(vault.ID, "", err)
			continue
		}

		filtered := onepassword.FilterUsers(action, users, perms)
		o.logger.Info("Vault %s: %d of %d users need %s of %s", vault.ID, len(filtered), len(users), action, strings.Join(perms, ","))

		s, err := o.ApplyUsers(ctx, action, vault.ID, filtered, perms)
		total.Add(s)
		if err != nil {
			return total, err
		}
	}

	o.logger.Info("%s", total)
	return total, nil
}

func (o *Orchestrator) resolveVaults(ctx context.Context, vaultID, permission string) ([]onepassword.Vault, error) {
	if vaultID != "" {
		v, err := o.vaults.Get(ctx, vaultID)
		if err != nil {
			return nil, err
		}
		if v.ID == "" {
			v.ID = vaultID
		}
		return []onepassword.Vault{v}, nil
	}
	return o.vaults.List(ctx, permission)
}

// GrantSearchAccess gives the search group its permission on vaults.
func (o *Orchestrator) GrantSearchAccess(ctx context.Context, vaults []onepassword.Vault) (Summary, error) {
	return o.ApplyGroup(ctx, onepassword.Grant, vaults, o.opts.SearchGroup, []string{o.opts.SearchPermission})
}

// RevokeSearchAccess removes the search group's permission from every vault
// where the caller currently holds it.
func (o *Orchestrator) RevokeSearchAccess(ctx context.Context) (Summary, error) {
	vaults, err := o.vaults.List(ctx, o.opts.SearchPermission)
	if err != nil {
		return Summary{Action: onepassword.Revoke, Principal: PrincipalGroup}, err
	}

	chunks := chunk.Count(len(vaults), o.opts.VaultChunkSize)
	o.logger.Info("Processing %d chunks of vaults", chunks)

	s, err := o.ApplyGroup(ctx, onepassword.Revoke, vaults, o.opts.SearchGroup, []string{o.opts.SearchPermission})
	if err != nil {
		return s, err
	}
	o.logger.Info("Successfully revoked all vault permissions")
	return s, nil
}

// Package search finds items whose visible fields contain a term.
//
// A search resolves its vaults, grants the search group viewing access on
// them, lists their items and fetches those items in chunks on the bounded
// executor. The grant is left in place; cleanup revokes it separately.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/opbulk/internal/batch"
	"github.com/systmms/opbulk/internal/chunk"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/onepassword"
	"github.com/systmms/opbulk/internal/permissions"
)

// DefaultItemChunkSize is the number of items fetched by one executor task.
const DefaultItemChunkSize = 10

// Match is one item containing the search term.
type Match struct {
	VaultID string
	ItemID  string
	Title   string
	Field   FieldMatch
}

func (m Match) String() string {
	label := m.Field.Label
	if label == "" {
		label = m.Field.ID
	}
	return fmt.Sprintf("vault=%s item=%s title=%q field=%s", m.VaultID, m.ItemID, m.Title, label)
}

// Options tune an Orchestrator.
type Options struct {
	ItemChunkSize int
	// MaxItemChunks caps how many item chunks are fetched. Zero means no cap.
	MaxItemChunks int
}

// Orchestrator runs credential searches.
type Orchestrator struct {
	vaults   *onepassword.VaultClient
	items    *onepassword.ItemClient
	grants   *permissions.Orchestrator
	executor *batch.Executor
	logger   *logging.Logger
	metrics  *metrics.Collectors
	opts     Options
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOptions replaces the tuning options.
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) { o.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics counts scanned and matching items.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. grants performs the search-access grant.
func New(vaults *onepassword.VaultClient, items *onepassword.ItemClient, grants *permissions.Orchestrator, executor *batch.Executor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		vaults:   vaults,
		items:    items,
		grants:   grants,
		executor: executor,
		logger:   logging.NewNop(),
		opts:     Options{ItemChunkSize: DefaultItemChunkSize},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.opts.ItemChunkSize < 1 {
		return nil, operrors.ConfigError{Field: "chunks.items", Value: o.opts.ItemChunkSize, Message: "chunk size must be at least 1"}
	}
	if o.opts.MaxItemChunks < 0 {
		return nil, operrors.ConfigError{Field: "max_item_chunks", Value: o.opts.MaxItemChunks, Message: "must not be negative"}
	}
	return o, nil
}

// Search looks for term in every item of vaultID, or of every visible vault
// when vaultID is empty. Matches are ordered by vault, then by item as op
// listed them. An unknown vaultID is reported as ErrNotFound. Items that fail
// to load are logged and skipped; authentication failures end the search.
func (o *Orchestrator) Search(ctx context.Context, term, vaultID string) ([]Match, error) {
	if strings.TrimSpace(term) == "" {
		return nil, operrors.ConfigError{Field: "term", Message: "search term must not be empty"}
	}
	start := time.Now()

	vaults, err := o.resolveVaults(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Searching %d vaults for %q", len(vaults), term)

	if _, err := o.grants.GrantSearchAccess(ctx, vaults); err != nil {
		return nil, err
	}

	items, err := o.listItems(ctx, vaults)
	if err != nil {
		return nil, err
	}

	chunks, err := chunk.Split(items, o.opts.ItemChunkSize)
	if err != nil {
		return nil, err
	}
	if limit := o.opts.MaxItemChunks; limit > 0 && len(chunks) > limit {
		o.logger.Info("Limiting search to %d of %d item chunks", limit, len(chunks))
		chunks = chunks[:limit]
	}
	o.logger.Info("Processing %d chunks of items", len(chunks))

	results, execErr := batch.Execute(ctx, o.executor, chunks, func(ctx context.Context, c []onepassword.ItemOverview) ([]Match, error) {
		return o.scanChunk(ctx, term, c)
	})

	var matches []Match
	for i, r := range results {
		if !r.OK {
			o.logger.Warn("Discarding item chunk %d: %v", i, r.Err)
			continue
		}
		matches = append(matches, r.Value...)
	}

	o.logger.Info("Found %d matching items in %.2f seconds", len(matches), time.Since(start).Seconds())
	return matches, execErr
}

func (o *Orchestrator) resolveVaults(ctx context.Context, vaultID string) ([]onepassword.Vault, error) {
	if vaultID == "" {
		return o.vaults.List(ctx, "")
	}
	v, err := o.vaults.Get(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v.ID == "" {
		v.ID = vaultID
	}
	return []onepassword.Vault{v}, nil
}

// listItems lists every vault's items on the executor and flattens them in
// vault order. A vault that cannot be listed is logged and left out.
func (o *Orchestrator) listItems(ctx context.Context, vaults []onepassword.Vault) ([]onepassword.ItemOverview, error) {
	results, err := batch.Execute(ctx, o.executor, vaults, func(ctx context.Context, v onepassword.Vault) ([]onepassword.ItemOverview, error) {
		items, err := o.items.List(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		for i := range items {
			if items[i].Vault.ID == "" {
				items[i].Vault.ID = v.ID
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}

	var items []onepassword.ItemOverview
	for i, r := range results {
		if !r.OK {
			o.logger.Error("Failed to list items in vault %s: %v", vaults[i].ID, r.Err)
			continue
		}
		items = append(items, r.Value...)
	}
	return items, nil
}

// scanChunk fetches the chunk's items one after another and tests each.
func (o *Orchestrator) scanChunk(ctx context.Context, term string, items []onepassword.ItemOverview) ([]Match, error) {
	var matches []Match
	for _, overview := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := o.items.Get(ctx, overview.ID, overview.Vault.ID)
		if err != nil {
			if operrors.IsEscalating(err) {
				return nil, err
			}
			o.logger.Warn("Skipping item %s in vault %s: %v", overview.ID, overview.Vault.ID, err)
			continue
		}
		o.metrics.ItemsScanned(1)

		field, ok := MatchFields(item.Raw, term)
		if !ok {
			continue
		}
		o.metrics.SearchMatch()
		matches = append(matches, Match{
			VaultID: overview.Vault.ID,
			ItemID:  overview.ID,
			Title:   overview.Title,
			Field:   field,
		})
	}
	return matches, nil
}

// Package actions exposes the named high-level operations offered by the menu.
//
// Each action has one asynchronous entry point, Registry.Start, which runs it
// on its own goroutine and delivers a single Outcome. Registry.Run is the
// blocking adapter: it owns a single-use context, starts the action and waits.
package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/onepassword"
	"github.com/systmms/opbulk/internal/permissions"
	"github.com/systmms/opbulk/internal/search"
)

// Action names, in menu order.
const (
	SearchAllVaults       = "IR-CredSearch-AllVaults"
	SearchSingleVault     = "IR-CredSearch-SingleVault"
	SearchComplete        = "IR-CredSearch-Complete"
	ModifyUserPermissions = "Modify-User-Permissions"
)

// Searcher runs credential searches.
type Searcher interface {
	Search(ctx context.Context, term, vaultID string) ([]search.Match, error)
}

// PermissionManager applies bulk permission changes.
type PermissionManager interface {
	RevokeSearchAccess(ctx context.Context) (permissions.Summary, error)
	UpdateUserPermissions(ctx context.Context, action onepassword.Action, perms []string, vaultID string) (permissions.Summary, error)
}

// Input is everything an action may need from the user.
type Input struct {
	SearchTerm  string
	VaultID     string
	Action      onepassword.Action
	Permissions []string
}

// Result is what an action produced. Searches fill Matches; permission
// actions fill Summary.
type Result struct {
	Matches []search.Match
	Summary *permissions.Summary
}

// Outcome is the single value delivered by Start.
type Outcome struct {
	Result Result
	Err    error
}

// Sample holds the fixed identifiers substituted in testing mode.
type Sample struct {
	VaultID    string
	SearchTerm string
}

// DefaultSample is the sample vault and term used by --testing.
var DefaultSample = Sample{VaultID: "4lgmhntcrfyquabprztyp5zwi4", SearchTerm: "huge"}

// Action is one menu entry.
type Action struct {
	Name    string
	Help    string
	run     func(context.Context, Input) (Result, error)
	collect func(context.Context, Prompter) (Input, error)
}

// Registry maps action names to their implementations. It is built
// explicitly from its collaborators; there is no package-level state.
type Registry struct {
	actions  []Action
	searcher Searcher
	perms    PermissionManager
	testing  bool
	sample   Sample
	logger   *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTesting substitutes sample identifiers for user input.
func WithTesting(sample Sample) Option {
	return func(r *Registry) {
		r.testing = true
		r.sample = sample
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry registers the four menu actions.
func NewRegistry(searcher Searcher, perms PermissionManager, opts ...Option) *Registry {
	r := &Registry{
		searcher: searcher,
		perms:    perms,
		sample:   DefaultSample,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.register(SearchAllVaults, "Search for credentials in all vaults", r.searchAll, r.collectSearchAll)
	r.register(SearchSingleVault, "Search for credentials in a single vault", r.searchSingle, r.collectSearchSingle)
	r.register(SearchComplete, "Once you're done searching, run this to clean up permissions.", r.complete, nil)
	r.register(ModifyUserPermissions, "Grant or revoke permissions for vault users", r.modifyUsers, r.collectModifyUsers)
	return r
}

func (r *Registry) register(name, help string, run func(context.Context, Input) (Result, error), collect func(context.Context, Prompter) (Input, error)) {
	r.actions = append(r.actions, Action{Name: name, Help: help, run: run, collect: collect})
}

// Actions returns the registered actions in menu order.
func (r *Registry) Actions() []Action {
	return append([]Action(nil), r.actions...)
}

// Testing reports whether sample identifiers replace user input.
func (r *Registry) Testing() bool {
	return r.testing
}

// HelpText renders the numbered menu.
func (r *Registry) HelpText() string {
	lines := make([]string, 0, len(r.actions))
	for i, a := range r.actions {
		lines = append(lines, fmt.Sprintf("%d. %-25s - %s", i+1, a.Name, a.Help))
	}
	return strings.Join(lines, "\n")
}

// Lookup resolves a 1-based menu number or an exact action name.
func (r *Registry) Lookup(selection string) (Action, error) {
	selection = strings.TrimSpace(selection)
	if n, err := strconv.Atoi(selection); err == nil {
		if n >= 1 && n <= len(r.actions) {
			return r.actions[n-1], nil
		}
	} else {
		for _, a := range r.actions {
			if a.Name == selection {
				return a, nil
			}
		}
	}
	return Action{}, operrors.ConfigError{
		Field:      "selection",
		Value:      selection,
		Message:    "invalid selection",
		Suggestion: "Use --help to see valid options",
	}
}

// Collect gathers the input for the named action through p. In testing mode
// the search term and vault come from the sample instead.
func (r *Registry) Collect(ctx context.Context, name string, p Prompter) (Input, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return Input{}, err
	}
	if a.collect == nil {
		return Input{}, nil
	}
	return a.collect(ctx, p)
}

// Start runs the named action asynchronously. The returned channel receives
// exactly one Outcome and is then closed.
func (r *Registry) Start(ctx context.Context, name string, in Input) <-chan Outcome {
	ch := make(chan Outcome, 1)

	a, err := r.Lookup(name)
	if err != nil {
		ch <- Outcome{Err: err}
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		r.logger.Info("Executing action: %s", a.Name)
		res, err := a.run(ctx, in)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// Run is the blocking adapter over Start. It derives a context that lives
// exactly as long as the call.
func (r *Registry) Run(ctx context.Context, name string, in Input) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := <-r.Start(ctx, name, in)
	return out.Result, out.Err
}

func (r *Registry) searchAll(ctx context.Context, in Input) (Result, error) {
	term, vaultID := in.SearchTerm, ""
	if r.testing {
		term, vaultID = r.sample.SearchTerm, r.sample.VaultID
	}
	return r.search(ctx, term, vaultID)
}

func (r *Registry) searchSingle(ctx context.Context, in Input) (Result, error) {
	term, vaultID := in.SearchTerm, in.VaultID
	if r.testing {
		term, vaultID = r.sample.SearchTerm, r.sample.VaultID
	}
	if vaultID == "" {
		return Result{}, operrors.ConfigError{Field: "vault", Message: "a vault ID is required"}
	}
	return r.search(ctx, term, vaultID)
}

func (r *Registry) search(ctx context.Context, term, vaultID string) (Result, error) {
	matches, err := r.searcher.Search(ctx, term, vaultID)
	if err != nil {
		return Result{Matches: matches}, fmt.Errorf("credential search failed: %w", err)
	}
	return Result{Matches: matches}, nil
}

func (r *Registry) complete(ctx context.Context, _ Input) (Result, error) {
	summary, err := r.perms.RevokeSearchAccess(ctx)
	if err != nil {
		return Result{Summary: &summary}, fmt.Errorf("failed to revoke permissions: %w", err)
	}
	return Result{Summary: &summary}, nil
}

func (r *Registry) modifyUsers(ctx context.Context, in Input) (Result, error) {
	vaultID, perms := in.VaultID, in.Permissions
	if r.testing {
		vaultID = r.sample.VaultID
		if len(perms) == 0 {
			perms = []string{onepassword.ExportItems}
		}
	}
	if in.Action == "" {
		return Result{}, operrors.ConfigError{Field: "action", Message: "grant or revoke is required"}
	}

	summary, err := r.perms.UpdateUserPermissions(ctx, in.Action, perms, vaultID)
	if err != nil {
		return Result{Summary: &summary}, fmt.Errorf("failed to update user permissions: %w", err)
	}
	return Result{Summary: &summary}, nil
}

func (r *Registry) collectSearchAll(ctx context.Context, p Prompter) (Input, error) {
	if r.testing {
		return Input{SearchTerm: r.sample.SearchTerm}, nil
	}
	term, err := p.Prompt(ctx, "Enter search term: ")
	return Input{SearchTerm: term}, err
}

func (r *Registry) collectSearchSingle(ctx context.Context, p Prompter) (Input, error) {
	if r.testing {
		return Input{SearchTerm: r.sample.SearchTerm, VaultID: r.sample.VaultID}, nil
	}
	term, err := p.Prompt(ctx, "Enter search term: ")
	if err != nil {
		return Input{}, err
	}
	vaultID, err := p.Prompt(ctx, "Enter vault ID: ")
	return Input{SearchTerm: term, VaultID: vaultID}, err
}

func (r *Registry) collectModifyUsers(ctx context.Context, p Prompter) (Input, error) {
	var in Input
	if r.testing {
		raw, err := p.Prompt(ctx, "Enter (grant/revoke): ")
		if err != nil {
			return in, err
		}
		if in.Action, err = onepassword.ParseAction(raw); err != nil {
			return in, err
		}
		return Input{VaultID: r.sample.VaultID, Action: in.Action, Permissions: []string{onepassword.ExportItems}}, nil
	}

	vaultID, err := p.Prompt(ctx, "Enter vault ID: ")
	if err != nil {
		return in, err
	}
	in.VaultID = vaultID

	raw, err := p.Prompt(ctx, fmt.Sprintf("What action would you like to take?\n [%s %s]\n\n", onepassword.Grant, onepassword.Revoke))
	if err != nil {
		return in, err
	}
	if in.Action, err = onepassword.ParseAction(raw); err != nil {
		return in, err
	}

	raw, err = p.Prompt(ctx, fmt.Sprintf("Provide a comma separated list of permissions you want to take action on: \n%s\n\n",
		strings.Join(onepassword.KnownPermissions, ", ")))
	if err != nil {
		return in, err
	}
	in.Permissions, err = onepassword.ParsePermissions(raw)
	return in, err
}

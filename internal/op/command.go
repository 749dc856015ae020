package op

import (
	"slices"
	"strings"
)

// FormatJSON is the output format requested from op unless a command opts out.
const FormatJSON = "json"

// Option is a single "--name value" pair.
type Option struct {
	Name  string
	Value string
}

// Command describes one op invocation. The zero value is not useful; start
// from NewCommand. Builder methods return a modified copy and never share
// backing arrays with the receiver.
type Command struct {
	Resource   string
	Subcommand []string
	Args       []string
	Options    []Option
	Flags      []string
	// Format is passed as --format. Empty omits the flag.
	Format string
}

// NewCommand starts a command for resource with an optional subcommand path,
// e.g. NewCommand("vault", "group", "grant").
func NewCommand(resource string, subcommand ...string) Command {
	return Command{
		Resource:   resource,
		Subcommand: slices.Clone(subcommand),
		Format:     FormatJSON,
	}
}

// WithArgs appends positional arguments.
func (c Command) WithArgs(args ...string) Command {
	c.Args = append(slices.Clone(c.Args), args...)
	return c
}

// WithOption appends "--name value". Empty values are skipped.
func (c Command) WithOption(name, value string) Command {
	if value == "" {
		return c
	}
	c.Options = append(slices.Clone(c.Options), Option{Name: name, Value: value})
	return c
}

// WithFlag appends a valueless "--name".
func (c Command) WithFlag(name string) Command {
	c.Flags = append(slices.Clone(c.Flags), name)
	return c
}

// WithFormat overrides the output format. Empty disables --format.
func (c Command) WithFormat(format string) Command {
	c.Format = format
	return c
}

// Argv renders the argument vector passed to the op binary. account, when
// non-empty, is appended as --account.
func (c Command) Argv(account string) []string {
	argv := make([]string, 0, 1+len(c.Subcommand)+len(c.Args)+2*len(c.Options)+len(c.Flags)+4)
	argv = append(argv, c.Resource)
	argv = append(argv, c.Subcommand...)
	argv = append(argv, c.Args...)
	for _, opt := range c.Options {
		argv = append(argv, "--"+opt.Name, opt.Value)
	}
	for _, flag := range c.Flags {
		argv = append(argv, "--"+flag)
	}
	if c.Format != "" {
		argv = append(argv, "--format", c.Format)
	}
	if account != "" {
		argv = append(argv, "--account", account)
	}
	return argv
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return Binary + " " + strings.Join(c.Argv(""), " ")
}

// Name is the resource plus subcommand path, used as a metrics label.
func (c Command) Name() string {
	return strings.Join(append([]string{c.Resource}, c.Subcommand...), " ")
}

// Common op commands.

// VaultGroupGrant grants permissions on a vault to a group.
func VaultGroupGrant(vault, group string, permissions []string) Command {
	return NewCommand("vault", "group", "grant").
		WithOption("vault", vault).
		WithOption("group", group).
		WithOption("permissions", strings.Join(permissions, ",")).
		WithFlag("no-input")
}

// VaultGroupRevoke revokes permissions on a vault from a group.
func VaultGroupRevoke(vault, group string, permissions []string) Command {
	return NewCommand("vault", "group", "revoke").
		WithOption("vault", vault).
		WithOption("group", group).
		WithOption("permissions", strings.Join(permissions, ",")).
		WithFlag("no-input")
}

// VaultUserGrant grants permissions on a vault to a user.
func VaultUserGrant(vault, user string, permissions []string) Command {
	return NewCommand("vault", "user", "grant").
		WithOption("vault", vault).
		WithOption("user", user).
		WithOption("permissions", strings.Join(permissions, ",")).
		WithFlag("no-input")
}

// VaultUserRevoke revokes permissions on a vault from a user.
func VaultUserRevoke(vault, user string, permissions []string) Command {
	return NewCommand("vault", "user", "revoke").
		WithOption("vault", vault).
		WithOption("user", user).
		WithOption("permissions", strings.Join(permissions, ",")).
		WithFlag("no-input")
}

// VaultList lists vaults, optionally filtered to those where the caller holds
// permission.
func VaultList(permission string) Command {
	return NewCommand("vault", "list").WithOption("permission", permission)
}

// VaultGet fetches one vault by id or name.
func VaultGet(vault string) Command {
	return NewCommand("vault", "get").WithArgs(vault)
}

// VaultUserList lists the users of a vault together with their permissions.
func VaultUserList(vault string) Command {
	return NewCommand("vault", "user", "list").WithArgs(vault)
}

// ItemList lists the items of a vault.
func ItemList(vault string) Command {
	return NewCommand("item", "list").WithOption("vault", vault)
}

// ItemGet fetches one item with all of its fields.
func ItemGet(id, vault string) Command {
	return NewCommand("item", "get").WithArgs(id).WithOption("vault", vault)
}

// GroupList lists groups in the account.
func GroupList() Command {
	return NewCommand("group", "list")
}

// WhoAmI reports the signed-in account.
func WhoAmI() Command {
	return NewCommand("whoami")
}

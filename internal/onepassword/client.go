// Package onepassword wraps op commands in typed clients for vaults, vault
// permissions, items, users and groups.
//
// The clients do no retrying and no concurrency of their own; they run each
// command once through the op.Runner they were built with.
package onepassword

import (
	"context"
	"fmt"

	"github.com/systmms/opbulk/internal/op"
)

// run executes cmd and decodes its output into T. Empty output yields the zero T.
func run[T any](ctx context.Context, r op.Runner, cmd op.Command) (T, error) {
	var v T
	out := r.Run(ctx, cmd)
	if err := out.Decode(&v); err != nil {
		return v, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return v, nil
}

// VaultClient covers vault listing and, through Group and User, the two kinds
// of vault permission change.
type VaultClient struct {
	runner op.Runner
	Group  *VaultGroupClient
	User   *VaultUserClient
}

// NewVaultClient builds a VaultClient with its group and user sub-clients.
func NewVaultClient(r op.Runner) *VaultClient {
	return &VaultClient{
		runner: r,
		Group:  &VaultGroupClient{runner: r},
		User:   &VaultUserClient{runner: r},
	}
}

// List returns all visible vaults. A non-empty permission restricts the list
// to vaults where the caller holds that permission.
func (c *VaultClient) List(ctx context.Context, permission string) ([]Vault, error) {
	return run[[]Vault](ctx, c.runner, op.VaultList(permission))
}

// Get fetches one vault by id or name.
func (c *VaultClient) Get(ctx context.Context, vault string) (Vault, error) {
	return run[Vault](ctx, c.runner, op.VaultGet(vault))
}

// VaultGroupClient changes group permissions on vaults.
type VaultGroupClient struct {
	runner op.Runner
}

// Apply grants or revokes perms for group on vault.
func (c *VaultGroupClient) Apply(ctx context.Context, action Action, vault, group string, perms []string) (GroupPermissionUpdate, error) {
	switch action {
	case Grant:
		return c.Grant(ctx, vault, group, perms)
	case Revoke:
		return c.Revoke(ctx, vault, group, perms)
	}
	return GroupPermissionUpdate{}, fmt.Errorf("unknown action %q", action)
}

// Grant adds perms for group on vault.
func (c *VaultGroupClient) Grant(ctx context.Context, vault, group string, perms []string) (GroupPermissionUpdate, error) {
	return run[GroupPermissionUpdate](ctx, c.runner, op.VaultGroupGrant(vault, group, perms))
}

// Revoke removes perms for group on vault.
func (c *VaultGroupClient) Revoke(ctx context.Context, vault, group string, perms []string) (GroupPermissionUpdate, error) {
	return run[GroupPermissionUpdate](ctx, c.runner, op.VaultGroupRevoke(vault, group, perms))
}

// VaultUserClient changes user permissions on vaults.
type VaultUserClient struct {
	runner op.Runner
}

// Apply grants or revokes perms for user on vault.
func (c *VaultUserClient) Apply(ctx context.Context, action Action, vault, user string, perms []string) (UserPermissionUpdate, error) {
	switch action {
	case Grant:
		return run[UserPermissionUpdate](ctx, c.runner, op.VaultUserGrant(vault, user, perms))
	case Revoke:
		return run[UserPermissionUpdate](ctx, c.runner, op.VaultUserRevoke(vault, user, perms))
	}
	return UserPermissionUpdate{}, fmt.Errorf("unknown action %q", action)
}

// List returns the users with access to vault and their permissions.
func (c *VaultUserClient) List(ctx context.Context, vault string) ([]VaultUser, error) {
	return run[[]VaultUser](ctx, c.runner, op.VaultUserList(vault))
}

// ItemClient reads items.
type ItemClient struct {
	runner op.Runner
}

// NewItemClient creates an ItemClient.
func NewItemClient(r op.Runner) *ItemClient {
	return &ItemClient{runner: r}
}

// List returns the items of vault without field values.
func (c *ItemClient) List(ctx context.Context, vault string) ([]ItemOverview, error) {
	return run[[]ItemOverview](ctx, c.runner, op.ItemList(vault))
}

// Get fetches one item with every field.
func (c *ItemClient) Get(ctx context.Context, id, vault string) (Item, error) {
	cmd := op.ItemGet(id, vault)
	out := c.runner.Run(ctx, cmd)

	var item Item
	if err := out.Decode(&item); err != nil {
		return Item{}, fmt.Errorf("%s %s: %w", cmd.Name(), id, err)
	}
	item.Raw = out.Value
	return item, nil
}

// GroupClient reads account groups.
type GroupClient struct {
	runner op.Runner
}

// NewGroupClient creates a GroupClient.
func NewGroupClient(r op.Runner) *GroupClient {
	return &GroupClient{runner: r}
}

// List returns every group in the account.
func (c *GroupClient) List(ctx context.Context) ([]Group, error) {
	return run[[]Group](ctx, c.runner, op.GroupList())
}

package onepassword

import (
	"fmt"
	"slices"
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	operrors "github.com/systmms/opbulk/internal/errors"
)

// Action is the direction of a permission change.
type Action string

const (
	Grant  Action = "grant"
	Revoke Action = "revoke"
)

// ParseAction accepts "grant" or "revoke" in any case.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case Grant:
		return Grant, nil
	case Revoke:
		return Revoke, nil
	}
	return "", fmt.Errorf("%w: unknown action %q (want grant or revoke)", operrors.ErrInvalidConfiguration, s)
}

// Vault permission names understood by op.
const (
	AllowViewing         = "allow_viewing"
	AllowEditing         = "allow_editing"
	AllowManaging        = "allow_managing"
	ManageVault          = "manage_vault"
	ViewItems            = "view_items"
	CreateItems          = "create_items"
	EditItems            = "edit_items"
	ArchiveItems         = "archive_items"
	DeleteItems          = "delete_items"
	ViewAndCopyPasswords = "view_and_copy_passwords"
	ViewItemHistory      = "view_item_history"
	ImportItems          = "import_items"
	ExportItems          = "export_items"
	CopyAndShareItems    = "copy_and_share_items"
	PrintItems           = "print_items"
)

// KnownPermissions lists every accepted permission name.
var KnownPermissions = []string{
	AllowViewing, AllowEditing, AllowManaging, ManageVault,
	ViewItems, CreateItems, EditItems, ArchiveItems, DeleteItems,
	ViewAndCopyPasswords, ViewItemHistory, ImportItems, ExportItems,
	CopyAndShareItems, PrintItems,
}

// OwnersGroup is the group search grants temporary access to.
const OwnersGroup = "Owners"

// ParsePermissions splits a comma-separated list, lower-cases and
// de-duplicates it, and rejects unknown names.
func ParsePermissions(s string) ([]string, error) {
	var perms []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !slices.Contains(KnownPermissions, p) {
			return nil, operrors.ConfigError{
				Field:      "permissions",
				Value:      p,
				Message:    "unknown vault permission",
				Suggestion: "Valid permissions: " + strings.Join(KnownPermissions, ", "),
			}
		}
		perms = append(perms, p)
	}
	if len(perms) == 0 {
		return nil, operrors.ConfigError{
			Field:   "permissions",
			Message: "at least one permission is required",
		}
	}
	return slice.Unique(perms), nil
}

// NeedsChange reports whether applying action with perms would alter the
// user's current permissions: a grant needs a missing permission, a revoke
// needs a held one.
func NeedsChange(action Action, current, perms []string) bool {
	for _, p := range perms {
		held := slices.Contains(current, p)
		if action == Grant && !held {
			return true
		}
		if action == Revoke && held {
			return true
		}
	}
	return false
}

// FilterUsers keeps the users whose permissions would change, each at most once.
func FilterUsers(action Action, users []VaultUser, perms []string) []VaultUser {
	seen := make(map[string]struct{}, len(users))
	return slice.Filter(users, func(_ int, u VaultUser) bool {
		if _, dup := seen[u.ID]; dup || !NeedsChange(action, u.Permissions, perms) {
			return false
		}
		seen[u.ID] = struct{}{}
		return true
	})
}

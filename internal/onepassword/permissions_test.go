package onepassword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operrors "github.com/systmms/opbulk/internal/errors"
)

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" GRANT ")
	require.NoError(t, err)
	assert.Equal(t, Grant, a)

	a, err = ParseAction("revoke")
	require.NoError(t, err)
	assert.Equal(t, Revoke, a)

	_, err = ParseAction("toggle")
	assert.ErrorIs(t, err, operrors.ErrInvalidConfiguration)
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "single", input: "view_items", want: []string{"view_items"}},
		{name: "list with spaces and case", input: "View_Items, export_items ,", want: []string{"view_items", "export_items"}},
		{name: "duplicates removed", input: "view_items,view_items,print_items", want: []string{"view_items", "print_items"}},
		{name: "unknown", input: "view_items,fly", wantErr: true},
		{name: "empty", input: " , ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePermissions(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, operrors.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterUsers(t *testing.T) {
	users := []VaultUser{
		{ID: "u1", Permissions: []string{ViewItems, ExportItems}},
		{ID: "u2", Permissions: []string{ViewItems}},
		{ID: "u3"},
		{ID: "u1", Permissions: []string{ViewItems, ExportItems}},
	}

	t.Run("grant keeps users missing any permission", func(t *testing.T) {
		got := FilterUsers(Grant, users, []string{ViewItems, ExportItems})
		assert.Equal(t, []string{"u2", "u3"}, ids(got))
	})

	t.Run("revoke keeps users holding any permission once", func(t *testing.T) {
		got := FilterUsers(Revoke, users, []string{ExportItems})
		assert.Equal(t, []string{"u1"}, ids(got))
	})

	t.Run("no permissions means no change", func(t *testing.T) {
		assert.Empty(t, FilterUsers(Grant, users, nil))
	})
}

func ids(users []VaultUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

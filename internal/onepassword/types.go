package onepassword

import "encoding/json"

// Vault is one entry of "op vault list" or the result of "op vault get".
type Vault struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ContentVersion   int    `json:"content_version,omitempty"`
	AttributeVersion int    `json:"attribute_version,omitempty"`
	Items            int    `json:"items,omitempty"`
	Type             string `json:"type,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// VaultUser is a user with their permissions on one vault.
type VaultUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Type        string   `json:"type"`
	State       string   `json:"state"`
	Permissions []string `json:"permissions"`
}

// Group is an account group.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// VaultRef is the abbreviated vault embedded in item records.
type VaultRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ItemOverview is one entry of "op item list". It carries no field values.
type ItemOverview struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Vault        VaultRef `json:"vault"`
	LastEditedBy string   `json:"last_edited_by,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// Item is the full record returned by "op item get".
type Item struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Version  int      `json:"version,omitempty"`
	Category string   `json:"category"`
	Vault    VaultRef `json:"vault"`
	Tags     []string `json:"tags,omitempty"`
	Fields   []Field  `json:"fields"`
	URLs     []URL    `json:"urls,omitempty"`

	// Raw is the document op printed, kept for field matching.
	Raw json.RawMessage `json:"-"`
}

// FieldTypeConcealed marks secret field values. They are never searched.
const FieldTypeConcealed = "CONCEALED"

// Field is one item field.
type Field struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	Label     string `json:"label,omitempty"`
	Value     string `json:"value,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Concealed reports whether the field holds a secret value.
func (f Field) Concealed() bool {
	return f.Type == FieldTypeConcealed
}

// URL is a website attached to an item.
type URL struct {
	Label   string `json:"label,omitempty"`
	Primary bool   `json:"primary,omitempty"`
	Href    string `json:"href"`
}

// GroupPermissionUpdate is printed by "op vault group grant|revoke".
type GroupPermissionUpdate struct {
	VaultID     string `json:"vault_id"`
	VaultName   string `json:"vault_name"`
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name,omitempty"`
	Permissions string `json:"permissions"`
}

// UserPermissionUpdate is printed by "op vault user grant|revoke".
type UserPermissionUpdate struct {
	VaultID     string `json:"vault_id"`
	VaultName   string `json:"vault_name"`
	UserID      string `json:"user_id"`
	UserEmail   string `json:"user_email"`
	Permissions string `json:"permissions"`
}

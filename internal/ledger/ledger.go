// Package ledger records the temporary vault grants made by credential search
// so cleanup and the grants command can see what is still outstanding.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	operrors "github.com/systmms/opbulk/internal/errors"
)

// Entry is one group grant on one vault.
type Entry struct {
	ID         string     `json:"id"`
	VaultID    string     `json:"vault_id"`
	Group      string     `json:"group"`
	Permission string     `json:"permission"`
	RunID      string     `json:"run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Outstanding reports whether the grant has not been revoked.
func (e Entry) Outstanding() bool {
	return e.RevokedAt == nil
}

// Store persists grant entries. Implementations are safe for concurrent use.
type Store interface {
	// Record saves e, filling ID and CreatedAt when empty.
	Record(ctx context.Context, e Entry) (Entry, error)
	// Outstanding returns unrevoked entries, oldest first.
	Outstanding(ctx context.Context) ([]Entry, error)
	// MarkRevoked closes every outstanding entry for the vault, group and
	// permission and returns how many were closed.
	MarkRevoked(ctx context.Context, vaultID, group, permission string, at time.Time) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendNone     = "none"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the JSON file for the file backend. Empty uses DefaultPath.
	Path string
	// DSN is the connection string for SQL backends.
	DSN string
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		path := cfg.Path
		if path == "" {
			path = DefaultPath()
		}
		return NewFileStore(path), nil
	case BackendPostgres, BackendMySQL:
		if cfg.DSN == "" {
			return nil, operrors.ConfigError{
				Field:   "ledger.dsn",
				Message: fmt.Sprintf("a DSN is required for the %s ledger backend", cfg.Backend),
			}
		}
		return OpenSQL(ctx, cfg.Backend, cfg.DSN)
	case BackendNone:
		return Nop{}, nil
	}
	return nil, operrors.ConfigError{
		Field:      "ledger.backend",
		Value:      cfg.Backend,
		Message:    "unknown ledger backend",
		Suggestion: "Use one of: file, postgres, mysql, none",
	}
}

// DefaultPath returns the default ledger file location.
func DefaultPath() string {
	if dir := os.Getenv("OPBULK_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "grants.json")
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "opbulk", "grants.json")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "opbulk", "grants.json")
	}

	return filepath.Join(os.TempDir(), "opbulk", "grants.json")
}

func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(_ context.Context, e Entry) (Entry, error) { return prepare(e), nil }

func (Nop) Outstanding(context.Context) ([]Entry, error) { return nil, nil }

func (Nop) MarkRevoked(context.Context, string, string, string, time.Time) (int, error) {
	return 0, nil
}

func (Nop) Close() error { return nil }

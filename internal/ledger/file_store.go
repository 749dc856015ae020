package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps entries in a single JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileDocument struct {
	Entries []Entry `json:"entries"`
}

// NewFileStore creates a store backed by path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) load() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to read ledger file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to unmarshal ledger: %w", err)
	}
	return doc, nil
}

func (fs *FileStore) save(doc fileDocument) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0700); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".grants-*.json")
	if err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	return nil
}

// Record appends e.
func (fs *FileStore) Record(_ context.Context, e Entry) (Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.load()
	if err != nil {
		return Entry{}, err
	}
	e = prepare(e)
	doc.Entries = append(doc.Entries, e)
	if err := fs.save(doc); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Outstanding returns unrevoked entries, oldest first.
func (fs *FileStore) Outstanding(_ context.Context) ([]Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.load()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range doc.Entries {
		if e.Outstanding() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkRevoked closes matching outstanding entries.
func (fs *FileStore) MarkRevoked(_ context.Context, vaultID, group, permission string, at time.Time) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.load()
	if err != nil {
		return 0, err
	}

	at = at.UTC()
	n := 0
	for i := range doc.Entries {
		e := &doc.Entries[i]
		if e.Outstanding() && e.VaultID == vaultID && e.Group == group && e.Permission == permission {
			e.RevokedAt = &at
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := fs.save(doc); err != nil {
		return 0, err
	}
	return n, nil
}

// Close is a no-op.
func (fs *FileStore) Close() error {
	return nil
}

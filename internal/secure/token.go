package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrTokenDestroyed is returned when a destroyed token is used.
var ErrTokenDestroyed = errors.New("token has been destroyed")

// Token is an optional secret held in an encrypted enclave. The zero value and
// a nil *Token both represent "no token".
type Token struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewToken seals value. An empty value yields a Token for which IsSet is false.
func NewToken(value string) *Token {
	t := &Token{}
	if value == "" {
		return t
	}
	// NewEnclave wipes its input, so hand it a private copy.
	t.enclave = memguard.NewEnclave([]byte(value))
	return t
}

// IsSet reports whether a token value is available.
func (t *Token) IsSet() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.destroyed && t.enclave != nil
}

// Env returns a single NAME=value environment entry, or nil when no token is set.
func (t *Token) Env(name string) ([]string, error) {
	if t == nil {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.destroyed {
		return nil, ErrTokenDestroyed
	}
	if t.enclave == nil {
		return nil, nil
	}

	locked, err := t.enclave.Open()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	// string(...) copies; locked.String() aliases memory that Destroy wipes.
	return []string{name + "=" + string(locked.Bytes())}, nil
}

// Destroy drops the enclave. Idempotent.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enclave = nil
	t.destroyed = true
}

// Purge wipes every memguard-managed region. Call once at process exit.
func Purge() {
	memguard.Purge()
}

package op

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/systmms/opbulk/internal/secure"
)

// KeyringService is the OS keyring service name tokens are stored under.
const KeyringService = "opbulk"

// DefaultKeyringUser is used when no account is configured.
const DefaultKeyringUser = "service-account"

// TokenOrigin names where a token was loaded from.
type TokenOrigin string

const (
	TokenFromEnv     TokenOrigin = "environment"
	TokenFromKeyring TokenOrigin = "keyring"
	TokenNone        TokenOrigin = "none"
)

// KeyringUser maps an account to the keyring entry that holds its token.
func KeyringUser(account string) string {
	if account == "" {
		return DefaultKeyringUser
	}
	return account
}

// LoadToken looks for a service-account token in the environment first and the
// OS keyring second. Finding neither is not an error: op then falls back to
// its own interactive session.
func LoadToken(account string, useKeyring bool) (*secure.Token, TokenOrigin, error) {
	if v := strings.TrimSpace(os.Getenv(TokenEnvVar)); v != "" {
		return secure.NewToken(v), TokenFromEnv, nil
	}

	if !useKeyring {
		return secure.NewToken(""), TokenNone, nil
	}

	v, err := keyring.Get(KeyringService, KeyringUser(account))
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return secure.NewToken(""), TokenNone, nil
	case err != nil:
		return nil, TokenNone, fmt.Errorf("reading token from keyring: %w", err)
	}
	return secure.NewToken(v), TokenFromKeyring, nil
}

// StoreToken saves value in the OS keyring for account.
func StoreToken(account, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("token must not be empty")
	}
	if err := keyring.Set(KeyringService, KeyringUser(account), value); err != nil {
		return fmt.Errorf("writing token to keyring: %w", err)
	}
	return nil
}

// DeleteToken removes the keyring entry for account. A missing entry is not an error.
func DeleteToken(account string) error {
	err := keyring.Delete(KeyringService, KeyringUser(account))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting token from keyring: %w", err)
	}
	return nil
}

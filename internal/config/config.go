package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/ledger"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/onepassword"
	"github.com/systmms/opbulk/internal/op"
)

// DefaultPath is read when --config is not given. A missing default file is
// not an error.
const DefaultPath = "opbulk.yaml"

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema configuration files are validated against.
func Schema() []byte {
	return schemaJSON
}

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition is the opbulk.yaml structure.
type Definition struct {
	Version       int               `yaml:"version"`
	Account       string            `yaml:"account"`
	Token         TokenConfig       `yaml:"token"`
	MinCLIVersion string            `yaml:"min_cli_version"`
	Concurrency   ConcurrencyConfig `yaml:"concurrency"`
	Chunks        ChunkConfig       `yaml:"chunks"`
	Retry         RetryConfig       `yaml:"retry"`
	Search        SearchConfig      `yaml:"search"`
	Ledger        LedgerConfig      `yaml:"ledger"`
	LogFile       string            `yaml:"log_file"`
	MetricsAddr   string            `yaml:"metrics_addr"`
	Testing       TestingConfig     `yaml:"testing"`
}

// TokenConfig selects where a service-account token may come from.
type TokenConfig struct {
	Env     bool `yaml:"env"`
	Keyring bool `yaml:"keyring"`
}

// ConcurrencyConfig sets executor limits. Default bounds permission
// changes; Batch bounds item fetching during search.
type ConcurrencyConfig struct {
	Default int `yaml:"default"`
	Batch   int `yaml:"batch"`
}

// ChunkConfig sets chunk sizes per target kind.
type ChunkConfig struct {
	Vaults int `yaml:"vaults"`
	Users  int `yaml:"users"`
	Items  int `yaml:"items"`
}

// RetryConfig controls rate-limit retries.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// SearchConfig is the temporary grant made for credential search.
type SearchConfig struct {
	Group      string `yaml:"group"`
	Permission string `yaml:"permission"`
}

// LedgerConfig selects the grant ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// TestingConfig holds the sample inputs used by --testing.
type TestingConfig struct {
	VaultID    string `yaml:"vault_id"`
	SearchTerm string `yaml:"search_term"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Definition {
	return &Definition{
		Token:         TokenConfig{Env: true, Keyring: true},
		MinCLIVersion: op.MinimumVersion.String(),
		Concurrency:   ConcurrencyConfig{Default: 5, Batch: 8},
		Chunks:        ChunkConfig{Vaults: 10, Users: 100, Items: 10},
		Retry:         RetryConfig{MaxRetries: op.DefaultMaxRetries, InitialDelay: op.DefaultInitialDelay},
		Search:        SearchConfig{Group: onepassword.OwnersGroup, Permission: onepassword.AllowViewing},
		Ledger:        LedgerConfig{Backend: ledger.BackendFile},
		Testing:       TestingConfig{VaultID: "4lgmhntcrfyquabprztyp5zwi4", SearchTerm: "huge"},
	}
}

// Load reads c.Path, validates it against the schema and overlays it on the
// defaults. A missing file at DefaultPath yields the defaults; a missing file
// anywhere else is an error.
func (c *Config) Load() error {
	path := c.Path
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			c.Definition = Defaults()
			return nil
		}
		if os.IsNotExist(err) {
			return operrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or remove the flag to use defaults",
			}
		}
		return operrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration from %s", path)
	}
	return nil
}

// Parse validates a YAML document and returns it merged over Defaults.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, operrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validate(raw); err != nil {
		return nil, err
	}

	def := Defaults()
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, operrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func validate(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errorMessages []string
	for _, desc := range result.Errors() {
		errorMessages = append(errorMessages, desc.String())
	}
	return operrors.ConfigError{
		Field:      result.Errors()[0].Field(),
		Message:    "schema validation failed:\n  - " + strings.Join(errorMessages, "\n  - "),
		Suggestion: "Compare your opbulk.yaml with 'opbulk doctor --schema'",
	}
}

// Validate checks values the schema cannot express.
func (d *Definition) Validate() error {
	if _, err := op.ParseVersion(d.MinCLIVersion); err != nil {
		return operrors.ConfigError{
			Field:   "min_cli_version",
			Value:   d.MinCLIVersion,
			Message: "not a semantic version",
		}
	}
	if d.Retry.InitialDelay < 0 {
		return operrors.ConfigError{Field: "retry.initial_delay", Value: d.Retry.InitialDelay, Message: "must not be negative"}
	}
	switch d.Ledger.Backend {
	case ledger.BackendPostgres, ledger.BackendMySQL:
		if d.Ledger.DSN == "" {
			return operrors.ConfigError{
				Field:      "ledger.dsn",
				Message:    fmt.Sprintf("a DSN is required for the %s ledger backend", d.Ledger.Backend),
				Suggestion: "Set ledger.dsn or switch ledger.backend to file",
			}
		}
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (d *Definition) RetryPolicy() op.RetryPolicy {
	return op.RetryPolicy{MaxRetries: d.Retry.MaxRetries, InitialDelay: d.Retry.InitialDelay}
}

// MinimumVersion returns the parsed min_cli_version.
func (d *Definition) MinimumVersion() op.Version {
	v, err := op.ParseVersion(d.MinCLIVersion)
	if err != nil {
		return op.MinimumVersion
	}
	return v
}

// StoreConfig converts the ledger settings.
func (d *Definition) StoreConfig() ledger.Config {
	return ledger.Config{Backend: d.Ledger.Backend, Path: d.Ledger.Path, DSN: d.Ledger.DSN}
}

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for remote operations. Classified errors wrap exactly one of
// these so callers can branch with errors.Is.
var (
	// ErrAuthRequired means the CLI session is missing or expired. Never retried;
	// always escalates out of batch operations.
	ErrAuthRequired = errors.New("authentication required")

	// ErrRateLimited marks a transient rate-limit response. It only escapes the
	// retrying runner wrapped in ErrRetriesExhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRetriesExhausted is returned once the retry budget for a rate-limited
	// command is spent.
	ErrRetriesExhausted = errors.New("rate limit retries exhausted")

	// ErrNotFound means a referenced vault, user, group or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrParse means the CLI printed output that is not valid JSON.
	ErrParse = errors.New("failed to decode command output as JSON")

	// ErrCommandFailed is the generic fatal classification.
	ErrCommandFailed = errors.New("command failed")

	// ErrUnsupportedVersion means the installed CLI is older than required or
	// reported a version that cannot be parsed.
	ErrUnsupportedVersion = errors.New("unsupported 1Password CLI version")

	// ErrCLINotFound means the op binary is not on PATH.
	ErrCLINotFound = errors.New("1Password CLI not found")

	// ErrInvalidConfiguration is returned for invalid sizes, limits and config values.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// IsEscalating reports whether err must abort a batch instead of being recorded
// as a per-item failure.
func IsEscalating(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Unwrap lets errors.Is match ErrInvalidConfiguration for every ConfigError.
func (e ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// CommandError is a classified failure of one op invocation.
type CommandError struct {
	Command  string
	ExitCode int
	Message  string
	// Kind is one of the taxonomy sentinels above.
	Kind error
	// Err is the underlying cause, if any (decode error, exec error).
	Err error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// OpError enhances a 1Password CLI failure with an actionable suggestion.
func OpError(operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("1Password error during %s", operation),
		Details:    err.Error(),
		Suggestion: getOpSuggestion(err),
		Err:        err,
	}
}

func getOpSuggestion(err error) string {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return "Run 'op signin' (or export OP_SERVICE_ACCOUNT_TOKEN) and try again"
	case errors.Is(err, ErrRetriesExhausted), errors.Is(err, ErrRateLimited):
		return "1Password is rate limiting this account. Wait a few minutes or lower concurrency.batch"
	case errors.Is(err, ErrNotFound):
		return "Verify the identifier. Use 'op vault list' or 'op item list' to see what exists"
	case errors.Is(err, ErrUnsupportedVersion):
		return "Update the 1Password CLI: https://developer.1password.com/docs/cli/get-started/"
	case errors.Is(err, ErrCLINotFound):
		return "Install 1Password CLI: https://developer.1password.com/docs/cli/get-started/"
	case errors.Is(err, ErrParse):
		return "Re-run with --debug to see the raw CLI output"
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return OpError("command execution", err)
	}

	errStr := err.Error()
	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	return err
}

package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/opbulk/internal/errors"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "chunks.vaults",
		Value:      0,
		Message:    "chunk size must be at least 1",
		Suggestion: "Remove the key to use the default of 10",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "chunks.vaults")
	assert.Contains(t, errMsg, "value: 0")
	assert.Contains(t, errMsg, "chunk size must be at least 1")
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestCommandErrorUnwrapsKind(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("unexpected end of JSON input")
	err := &errors.CommandError{
		Command:  "op item get abc",
		ExitCode: 0,
		Kind:     errors.ErrParse,
		Err:      cause,
	}

	assert.ErrorIs(t, err, errors.ErrParse)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, errors.ErrAuthRequired)
	assert.Contains(t, err.Error(), "op item get abc")
	assert.Contains(t, err.Error(), errors.ErrParse.Error())
}

func TestCommandErrorFormatting(t *testing.T) {
	t.Parallel()

	err := &errors.CommandError{
		Command:  "op vault get Missing",
		ExitCode: 1,
		Message:  `[ERROR] "Missing" isn't a vault in this account`,
		Kind:     errors.ErrNotFound,
	}

	errMsg := err.Error()
	assert.Contains(t, errMsg, "exit code: 1")
	assert.Contains(t, errMsg, "isn't a vault")
}

func TestIsEscalating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth sentinel", errors.ErrAuthRequired, true},
		{"wrapped auth", fmt.Errorf("vault grant: %w", &errors.CommandError{Kind: errors.ErrAuthRequired}), true},
		{"rate limit exhausted", fmt.Errorf("%w: %w", errors.ErrRetriesExhausted, errors.ErrRateLimited), false},
		{"not found", errors.ErrNotFound, false},
		{"parse", errors.ErrParse, false},
		{"generic", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.IsEscalating(tt.err))
		})
	}
}

func TestOpErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		err                error
		expectedSuggestion string
	}{
		{"auth", errors.ErrAuthRequired, "op signin"},
		{"rate limit", errors.ErrRetriesExhausted, "rate limiting"},
		{"not found", errors.ErrNotFound, "op vault list"},
		{"version", errors.ErrUnsupportedVersion, "Update the 1Password CLI"},
		{"missing cli", errors.ErrCLINotFound, "Install 1Password CLI"},
		{"timeout", fmt.Errorf("context deadline exceeded"), "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.OpError("search", tt.err)
			assert.Contains(t, err.Error(), tt.expectedSuggestion)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.SimplifyError(nil))

	userErr := errors.UserError{Message: "already friendly"}
	assert.Equal(t, userErr, errors.SimplifyError(userErr))

	cmdErr := fmt.Errorf("grant: %w", &errors.CommandError{Command: "op vault group grant", Kind: errors.ErrAuthRequired})
	simplified := errors.SimplifyError(cmdErr)
	assert.Contains(t, simplified.Error(), "op signin")
	assert.ErrorIs(t, simplified, errors.ErrAuthRequired)

	yamlErr := errors.SimplifyError(fmt.Errorf("yaml: line 3: did not find expected key"))
	assert.ErrorIs(t, yamlErr, errors.ErrInvalidConfiguration)
}

package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertNoSecretLeak verifies that none of secrets appear in output and that
// at least one [REDACTED] marker took their place.
//
// Example usage:
//
//	AssertNoSecretLeak(t, logOutput, []string{"ops_token_123"})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		assert.NotContains(t, output, secret,
			"Secret %q should be redacted, but appears in output", secret)
	}

	assert.Contains(t, output, "[REDACTED]",
		"Expected at least one [REDACTED] marker in output")
}

// AssertArgvExcludes verifies that a recorded op invocation did not carry
// value on its command line.
func AssertArgvExcludes(t *testing.T, call RecordedCall, value string) {
	t.Helper()

	assert.NotContains(t, call.Key(), value,
		"Value %q must not be passed on the command line", value)
	for _, arg := range call.Args {
		assert.False(t, strings.Contains(arg, value), "argument %q contains %q", arg, value)
	}
}

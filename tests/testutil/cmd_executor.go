// Package testutil provides testing utilities for opbulk.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockCommandExecutor provides a configurable mock of pkg/exec.CommandExecutor.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args).
	// The longest matching pattern wins.
	Responses map[string]MockResponse

	// sequences hold per-pattern response queues. The final response repeats.
	sequences map[string][]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool

	// Delay is applied to every call before responding. It honours ctx.
	Delay time.Duration
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	Err      error
	ExitCode int // Used to build Err when Err is nil and ExitCode is non-zero
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Command string
	Args    []string
	Env     []string
	Context context.Context
}

// Key returns the space-joined command line of the call.
func (c RecordedCall) Key() string {
	return buildKey(c.Command, c.Args)
}

// ExitError mimics a process exiting with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode satisfies the interface pkg/exec.ExitCode looks for.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses:     make(map[string]MockResponse),
		sequences:     make(map[string][]MockResponse),
		RecordedCalls: make([]RecordedCall, 0),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{
		Command: name,
		Args:    append([]string(nil), args...),
		Env:     append([]string(nil), env...),
		Context: ctx,
	})
	resp, err := m.lookup(buildKey(name, args))
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, nil, err
	}
	if resp.Err == nil && resp.ExitCode != 0 {
		resp.Err = &ExitError{Code: resp.ExitCode, Stderr: string(resp.Stderr)}
	}
	return resp.Stdout, resp.Stderr, resp.Err
}

// lookup must be called with m.mu held.
func (m *MockCommandExecutor) lookup(key string) (MockResponse, error) {
	if pattern := longestMatch(key, m.sequences); pattern != "" {
		queue := m.sequences[pattern]
		resp := queue[0]
		if len(queue) > 1 {
			m.sequences[pattern] = queue[1:]
		}
		return resp, nil
	}

	if pattern := longestMatch(key, m.Responses); pattern != "" {
		return m.Responses[pattern], nil
	}

	if m.DefaultResponse != nil {
		return *m.DefaultResponse, nil
	}

	if m.StrictMode {
		return MockResponse{}, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	// Non-strict mode returns empty success
	return MockResponse{Stdout: []byte{}, Stderr: []byte{}}, nil
}

func longestMatch[V any](key string, patterns map[string]V) string {
	best := ""
	for pattern := range patterns {
		if matchesPattern(key, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	return best
}

func buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// matchesPattern checks if the command key matches a pattern.
// A trailing "*" or a plain prefix both allow additional args.
func matchesPattern(key, pattern string) bool {
	if i := strings.Index(pattern, "*"); i >= 0 {
		return strings.HasPrefix(key, pattern[:i])
	}
	return strings.HasPrefix(key, pattern)
}

// AddResponse registers a mock response for a specific command pattern.
func (m *MockCommandExecutor) AddResponse(commandPattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = response
}

// AddSequence registers responses that are returned in order for a pattern.
// Once the queue has a single entry left that entry is returned forever.
func (m *MockCommandExecutor) AddSequence(commandPattern string, responses ...MockResponse) {
	if len(responses) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[commandPattern] = append([]MockResponse(nil), responses...)
}

// AddJSONResponse is a convenience method to add a JSON response.
func (m *MockCommandExecutor) AddJSONResponse(commandPattern string, jsonData string) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout: []byte(jsonData),
		Stderr: []byte{},
	})
}

// AddErrorResponse adds an error response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, exitCode int) {
	m.AddResponse(commandPattern, ErrorResponse(errMsg, exitCode))
}

// ErrorResponse builds a failed invocation with the given stderr.
func ErrorResponse(errMsg string, exitCode int) MockResponse {
	return MockResponse{
		Stdout:   []byte{},
		Stderr:   []byte(errMsg),
		Err:      &ExitError{Code: exitCode, Stderr: errMsg},
		ExitCode: exitCode,
	}
}

// GetCalls returns all recorded calls matching the given command name.
func (m *MockCommandExecutor) GetCalls(commandName string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if call.Command == commandName {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallsMatching returns all recorded calls whose command line starts with prefix.
func (m *MockCommandExecutor) CallsMatching(prefix string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if strings.HasPrefix(call.Key(), prefix) {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Reset clears all recorded calls and responses.
func (m *MockCommandExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = make(map[string]MockResponse)
	m.sequences = make(map[string][]MockResponse)
	m.RecordedCalls = make([]RecordedCall, 0)
	m.DefaultResponse = nil
}

// AssertCalled verifies that a specific command line prefix was called at least once.
func (m *MockCommandExecutor) AssertCalled(t interface{ Error(args ...interface{}) }, prefix string) bool {
	calls := m.CallsMatching(prefix)
	if len(calls) == 0 {
		t.Error("expected command", prefix, "to be called, but it was not")
		return false
	}
	return true
}

// AssertNotCalled verifies that a specific command line prefix was never called.
func (m *MockCommandExecutor) AssertNotCalled(t interface{ Error(args ...interface{}) }, prefix string) bool {
	calls := m.CallsMatching(prefix)
	if len(calls) > 0 {
		t.Error("expected command", prefix, "to not be called, but it was called", len(calls), "times")
		return false
	}
	return true
}

// AssertCallCount verifies the exact number of times a command line prefix was called.
func (m *MockCommandExecutor) AssertCallCount(t interface{ Error(args ...interface{}) }, prefix string, expected int) bool {
	calls := m.CallsMatching(prefix)
	if len(calls) != expected {
		t.Error("expected command", prefix, "to be called", expected, "times, but was called", len(calls), "times")
		return false
	}
	return true
}

// OnePasswordMockResponses provides pre-configured responses for the op CLI.
type OnePasswordMockResponses struct{}

// Version returns the output of op --version.
func (OnePasswordMockResponses) Version(v string) MockResponse {
	return MockResponse{Stdout: []byte(v + "\n")}
}

// NotSignedIn is the failure op prints without a valid session.
func (OnePasswordMockResponses) NotSignedIn() MockResponse {
	return ErrorResponse("[ERROR] 2024/01/15 10:30:00 You are not currently signed in. Please run `op signin --help` for instructions\n", 1)
}

// RateLimited is the failure op prints when the account is throttled.
func (OnePasswordMockResponses) RateLimited() MockResponse {
	return ErrorResponse("[ERROR] 2024/01/15 10:30:00 rate limit exceeded\n", 1)
}

// NotFound is the failure op prints for a missing vault.
func (OnePasswordMockResponses) NotFound(name string) MockResponse {
	return ErrorResponse(fmt.Sprintf("[ERROR] 2024/01/15 10:30:00 %q isn't a vault in this account. Specify the vault with its ID or name.\n", name), 1)
}

// Empty is a successful invocation that printed nothing.
func (OnePasswordMockResponses) Empty() MockResponse {
	return MockResponse{Stdout: []byte{}}
}

// Vaults returns an op vault list response for the given ids.
func (OnePasswordMockResponses) Vaults(ids ...string) MockResponse {
	entries := make([]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fmt.Sprintf(`{"id":%q,"name":"Vault %s","content_version":1}`, id, id))
	}
	return MockResponse{Stdout: []byte("[" + strings.Join(entries, ",") + "]")}
}

// Vault returns an op vault get response.
func (OnePasswordMockResponses) Vault(id string) MockResponse {
	return MockResponse{Stdout: []byte(fmt.Sprintf(`{"id":%q,"name":"Vault %s","content_version":1}`, id, id))}
}

// Items returns an op item list response for the given ids.
func (OnePasswordMockResponses) Items(vaultID string, ids ...string) MockResponse {
	entries := make([]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fmt.Sprintf(`{"id":%q,"title":"Item %s","category":"LOGIN","vault":{"id":%q}}`, id, id, vaultID))
	}
	return MockResponse{Stdout: []byte("[" + strings.Join(entries, ",") + "]")}
}

// ItemRead returns a mock 1Password item response.
func (OnePasswordMockResponses) ItemRead(vault, item, username, password string) MockResponse {
	return MockResponse{
		Stdout: []byte(fmt.Sprintf(`{
			"id": "%s",
			"title": "Test Login",
			"vault": {
				"id": "%s",
				"name": "Test Vault"
			},
			"category": "LOGIN",
			"fields": [
				{"id": "username", "type": "STRING", "purpose": "USERNAME", "label": "username", "value": "%s"},
				{"id": "password", "type": "CONCEALED", "purpose": "PASSWORD", "label": "password", "value": "%s"},
				{"id": "custom", "type": "STRING", "label": "api_key", "value": "custom-value-123"}
			]
		}`, item, vault, username, password)),
	}
}

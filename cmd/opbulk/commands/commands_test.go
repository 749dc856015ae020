package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/systmms/opbulk/internal/config"
	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/ledger"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
	"github.com/systmms/opbulk/internal/op"
	"github.com/systmms/opbulk/tests/testutil"
)

var responses = testutil.OnePasswordMockResponses{}

// newTestEnv returns an Env backed by a mock op binary that reports a
// supported version. The keyring is mocked and the token variable cleared,
// so these tests must not run in parallel.
func newTestEnv(t *testing.T) (*Env, *testutil.MockCommandExecutor) {
	t.Helper()
	keyring.MockInit()
	t.Setenv(op.TokenEnvVar, "")

	mock := testutil.NewMockCommandExecutor()
	mock.StrictMode = true
	mock.AddResponse("op --version", responses.Version("2.30.0"))

	def := config.Defaults()
	def.Ledger = config.LedgerConfig{Backend: ledger.BackendFile, Path: filepath.Join(t.TempDir(), "grants.json")}
	def.Retry.InitialDelay = time.Millisecond

	return &Env{
		Config:   &config.Config{Definition: def, Logger: logging.NewNop()},
		Metrics:  metrics.New(),
		RunID:    "run-1",
		Executor: mock,
	}, mock
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func itemWithNote(id, vault, note string) testutil.MockResponse {
	return testutil.MockResponse{Stdout: []byte(`{"id":"` + id + `","title":"Item ` + id + `","category":"LOGIN","vault":{"id":"` + vault + `"},` +
		`"fields":[{"id":"notesPlain","type":"STRING","label":"notes","value":"` + note + `"}]}`)}
}

func TestSearchCommandSingleVault(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op vault get v1", responses.Vault("v1"))
	mock.AddResponse("op vault group grant", responses.Empty())
	mock.AddResponse("op item list --vault v1", responses.Items("v1", "a", "b"))
	mock.AddResponse("op item get a ", itemWithNote("a", "v1", "rotate AKIA123 soon"))
	mock.AddResponse("op item get b ", itemWithNote("b", "v1", "nothing here"))

	output, err := execute(t, NewSearchCommand(env), "--term", "AKIA", "--vault", "v1")
	require.NoError(t, err)

	assert.Contains(t, output, "VAULT")
	assert.Contains(t, output, "Item a")
	assert.NotContains(t, output, "Item b")
	assert.Contains(t, output, "1 matching item(s)")

	calls := mock.GetCalls("op")
	require.NotEmpty(t, calls)
	assert.Equal(t, "op --version", calls[0].Key())

	store := ledger.NewFileStore(env.Config.Definition.Ledger.Path)
	entries, err := store.Outstanding(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v1", entries[0].VaultID)
	assert.Equal(t, "run-1", entries[0].RunID)
}

func TestSearchCommandRefusesOldCLI(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op --version", responses.Version("2.24.9"))

	_, err := execute(t, NewSearchCommand(env), "--term", "AKIA")
	require.Error(t, err)
	assert.ErrorIs(t, err, operrors.ErrUnsupportedVersion)
	assert.Equal(t, 1, mock.CallCount())
}

func TestSearchCommandTestingMode(t *testing.T) {
	env, mock := newTestEnv(t)
	env.Testing = true
	sample := env.Config.Definition.Testing.VaultID

	ids := make([]string, 15)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	mock.AddResponse("op vault get "+sample, responses.Vault(sample))
	mock.AddResponse("op vault group grant", responses.Empty())
	mock.AddResponse("op item list --vault "+sample, responses.Items(sample, ids...))
	mock.AddResponse("op item get", itemWithNote("x", sample, "a huge secret"))

	output, err := execute(t, NewSearchCommand(env))
	require.NoError(t, err)

	// Only the first chunk of items is fetched.
	assert.Len(t, mock.CallsMatching("op item get"), 10)
	assert.Contains(t, output, "10 matching item(s)")
}

func TestCleanupCommand(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op vault list --permission allow_viewing", responses.Vaults("v1", "v2"))
	mock.AddResponse("op vault group revoke", responses.Empty())

	output, err := execute(t, NewCleanupCommand(env))
	require.NoError(t, err)

	assert.Contains(t, output, "2 succeeded")
	mock.AssertCallCount(t, "op vault group revoke --vault v1 --group Owners --permissions allow_viewing", 1)
	mock.AssertCallCount(t, "op vault group revoke --vault v2 --group Owners --permissions allow_viewing", 1)
}

func TestCleanupCommandLogsSessionSettings(t *testing.T) {
	env, mock := newTestEnv(t)
	var logs bytes.Buffer
	env.Config.Logger = logging.NewWithOptions(logging.Options{Output: &logs, NoColor: true, Debug: true})
	mock.AddResponse("op vault list --permission allow_viewing", responses.Vaults())

	_, err := execute(t, NewCleanupCommand(env))
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "Session ready")
	assert.Contains(t, logs.String(), "retries=3")
	assert.Contains(t, logs.String(), "workers=5/8")
}

func TestCleanupCommandAuthFailure(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op vault list", responses.NotSignedIn())

	_, err := execute(t, NewCleanupCommand(env))
	require.Error(t, err)
	assert.ErrorIs(t, err, operrors.ErrAuthRequired)
	mock.AssertNotCalled(t, "op vault group revoke")
}

func TestUsersCommandGrant(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op vault get v1", responses.Vault("v1"))
	mock.AddJSONResponse("op vault user list v1", `[
		{"id":"u1","permissions":["view_items"]},
		{"id":"u2","permissions":[]}
	]`)
	mock.AddResponse("op vault user grant", responses.Empty())

	output, err := execute(t, NewUsersCommand(env), "grant", "--vault", "v1", "--permissions", "view_items")
	require.NoError(t, err)

	assert.Contains(t, output, "1 succeeded")
	mock.AssertCallCount(t, "op vault user grant --vault v1 --user u2 --permissions view_items", 1)
	mock.AssertNotCalled(t, "op vault user grant --vault v1 --user u1")
}

func TestUsersCommandValidatesBeforeRunningOp(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown action", []string{"promote", "--permissions", "view_items"}},
		{"unknown permission", []string{"grant", "--permissions", "fly"}},
		{"no action", []string{"--permissions", "view_items"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, mock := newTestEnv(t)
			_, err := execute(t, NewUsersCommand(env), tt.args...)
			assert.Error(t, err)
			assert.Equal(t, 0, mock.CallCount())
		})
	}
}

func TestMenuCommandWithSelection(t *testing.T) {
	env, mock := newTestEnv(t)
	env.In = strings.NewReader("needle\nv1\n")
	mock.AddResponse("op vault get v1", responses.Vault("v1"))
	mock.AddResponse("op vault group grant", responses.Empty())
	mock.AddResponse("op item list --vault v1", responses.Items("v1", "a"))
	mock.AddResponse("op item get a ", itemWithNote("a", "v1", "a needle"))

	output, err := execute(t, NewMenuCommand(env), "--selection", "IR-CredSearch-SingleVault")
	require.NoError(t, err)

	assert.Contains(t, output, "Enter search term: ")
	assert.Contains(t, output, "Enter vault ID: ")
	assert.Contains(t, output, "1 matching item(s)")
}

func TestMenuCommandPromptsForSelection(t *testing.T) {
	env, mock := newTestEnv(t)
	env.In = strings.NewReader("3\n")
	mock.AddResponse("op vault list --permission allow_viewing", responses.Vaults())

	output, err := execute(t, NewMenuCommand(env))
	require.NoError(t, err)

	assert.Contains(t, output, "1. IR-CredSearch-AllVaults")
	assert.Contains(t, output, "4. Modify-User-Permissions")
	assert.Contains(t, output, "Select an action: ")
	assert.Contains(t, output, "0 targets")
}

func TestMenuCommandInvalidSelection(t *testing.T) {
	env, _ := newTestEnv(t)

	_, err := execute(t, NewMenuCommand(env), "--selection", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid selection")
}

func TestMenuCommandTestingModeUsers(t *testing.T) {
	env, mock := newTestEnv(t)
	env.Testing = true
	env.In = strings.NewReader("revoke\n")
	sample := env.Config.Definition.Testing.VaultID

	mock.AddResponse("op vault get "+sample, responses.Vault(sample))
	mock.AddJSONResponse("op vault user list "+sample, `[{"id":"u1","permissions":["export_items"]}]`)
	mock.AddResponse("op vault user revoke", responses.Empty())

	output, err := execute(t, NewMenuCommand(env), "-s", "4")
	require.NoError(t, err)

	assert.Contains(t, output, "Testing mode:")
	assert.Contains(t, output, "Enter (grant/revoke): ")
	mock.AssertCallCount(t, "op vault user revoke --vault "+sample+" --user u1 --permissions export_items", 1)
}

func TestGrantsCommand(t *testing.T) {
	env, _ := newTestEnv(t)

	output, err := execute(t, NewGrantsCommand(env))
	require.NoError(t, err)
	assert.Contains(t, output, "No outstanding search grants.")

	store := ledger.NewFileStore(env.Config.Definition.Ledger.Path)
	_, err = store.Record(context.Background(), ledger.Entry{VaultID: "v1", Group: "Owners", Permission: "allow_viewing", RunID: "run-0"})
	require.NoError(t, err)

	output, err = execute(t, NewGrantsCommand(env))
	require.NoError(t, err)
	assert.Contains(t, output, "VAULT")
	assert.Contains(t, output, "v1")
	assert.Contains(t, output, "run-0")
	assert.Contains(t, output, "1 outstanding grant(s)")
}

func TestLoginCommand(t *testing.T) {
	env, mock := newTestEnv(t)
	env.Config.Definition.Account = "acme"
	env.In = strings.NewReader("ops_abc123\n")
	var logs bytes.Buffer
	env.Config.Logger = logging.NewWithOptions(logging.Options{Output: &logs, NoColor: true, Debug: true})

	output, err := execute(t, NewLoginCommand(env))
	require.NoError(t, err)
	assert.Contains(t, output, "Stored token for acme")
	assert.Equal(t, 0, mock.CallCount())
	testutil.AssertNoSecretLeak(t, logs.String(), []string{"ops_abc123"})

	token, origin, err := op.LoadToken("acme", true)
	require.NoError(t, err)
	defer token.Destroy()
	assert.Equal(t, op.TokenFromKeyring, origin)

	output, err = execute(t, NewLoginCommand(env), "--delete")
	require.NoError(t, err)
	assert.Contains(t, output, "Removed stored token for acme")

	_, origin, err = op.LoadToken("acme", true)
	require.NoError(t, err)
	assert.Equal(t, op.TokenNone, origin)
}

func TestLoginCommandNoInput(t *testing.T) {
	env, _ := newTestEnv(t)
	env.In = strings.NewReader("")

	_, err := execute(t, NewLoginCommand(env))
	assert.Error(t, err)
}

func TestDoctorCommandHealthy(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddJSONResponse("op whoami", `{"url":"acme.1password.com","email":"ada@acme.com"}`)
	mock.AddJSONResponse("op group list", `[{"id":"g1","name":"Owners"}]`)

	output, err := execute(t, NewDoctorCommand(env))
	require.NoError(t, err)

	assert.Contains(t, output, "CHECK")
	assert.Contains(t, output, "2.30.0 (minimum 2.25.0)")
	assert.Contains(t, output, "ada@acme.com on acme.1password.com")
	assert.Contains(t, output, "Owners (g1)")
	assert.Contains(t, output, "file "+env.Config.Definition.Ledger.Path+", 0 outstanding grant(s)")
	assert.Contains(t, output, "Summary: 6/6 checks passed")
}

func TestDoctorCommandOldCLI(t *testing.T) {
	env, mock := newTestEnv(t)
	mock.AddResponse("op --version", responses.Version("2.24.9"))

	output, err := execute(t, NewDoctorCommand(env))
	require.Error(t, err)

	assert.Contains(t, output, "below minimum required 2.25.0")
	assert.Contains(t, output, "op cli check failed")
	assert.Contains(t, output, "Summary: 5/6 checks passed")
	mock.AssertNotCalled(t, "op whoami")
	mock.AssertNotCalled(t, "op group list")
}

func TestDoctorCommandMissingSearchGroup(t *testing.T) {
	env, mock := newTestEnv(t)
	env.Config.Definition.Search.Group = "Responders"
	mock.AddJSONResponse("op whoami", `{"email":"ada@acme.com"}`)
	mock.AddJSONResponse("op group list", `[{"id":"g1","name":"Owners"}]`)

	output, err := execute(t, NewDoctorCommand(env))
	require.Error(t, err)
	assert.Contains(t, output, `group "Responders" not found`)
}

func TestDoctorCommandSchema(t *testing.T) {
	env, mock := newTestEnv(t)

	output, err := execute(t, NewDoctorCommand(env), "--schema")
	require.NoError(t, err)
	assert.Contains(t, output, `"$schema"`)
	assert.Equal(t, 0, mock.CallCount())
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "opbulk"}
	root.AddCommand(NewCompletionCommand())

	output, err := execute(t, root, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, output, "bash completion")

	_, err = execute(t, root, "completion", "tcsh")
	assert.Error(t, err)
}

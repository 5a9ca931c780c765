package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/update"
)

func TestConversationWorkflow(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("", "start", "--name", "Ana", "--email", "ana@example.com", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	started := decodeJSON(t, res.stdout)
	assert.Equal(t, "c-1", started["conversationId"])
	assert.Equal(t, "active", started["status"])
	assert.Equal(t, "default", started["profile"])

	res = env.run("", "status", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	status := decodeJSON(t, res.stdout)
	assert.Equal(t, "active", status["status"])
	assert.Equal(t, "c-1", status["conversationId"])
	assert.Equal(t, "Ana", status["name"])
	assert.Equal(t, "file", status["store"])

	res = env.run("", "send", "-o", "json", "hello", "there")
	require.NoError(t, res.err, res.stderr)
	sent := decodeJSON(t, res.stdout)
	assert.Equal(t, "hello there", sent["text"])
	assert.Equal(t, "confirmed", sent["state"])

	env.support.reply("How can I help?")

	res = env.run("", "transcript")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "hello there")
	assert.Contains(t, res.stdout, "Agent (support): How can I help?")

	res = env.run("", "transcript", "--jq", ".messages | length")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "2", strings.TrimSpace(res.stdout))

	res = env.run("", "transcript", "-n", "1", "-o", "json", "--jq", ".messages[0].text")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, `"How can I help?"`, strings.TrimSpace(res.stdout))

	res = env.run("", "reset")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Forgot the conversation for profile default")

	res = env.run("", "status", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "none", decodeJSON(t, res.stdout)["status"])
}

func TestStartTwiceNeedsReplace(t *testing.T) {
	env := setupTestEnv(t)

	require.NoError(t, env.run("", "start", "--name", "Ana").err)

	res := env.run("", "start", "--name", "Ana")
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, errAlreadyHandled))
	assert.Equal(t, exitState, ExitCode(res.err))
	assert.Contains(t, res.stderr, "already active")

	res = env.run("", "start", "--name", "Bea", "--replace")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Started conversation c-1")
	assert.Equal(t, 2, env.support.startCount())
}

func TestStartRequiresName(t *testing.T) {
	env := setupTestEnv(t)
	res := env.run("", "start")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, `"name" not set`)
}

func TestStatusReportsClosedConversation(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)

	env.support.set(func(s *fakeSupport) { s.closed = true })

	res := env.run("", "status")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "invalid")

	// the identity was purged, so the next look finds nothing
	res = env.run("", "status", "-o", "json")
	require.NoError(t, res.err)
	assert.Equal(t, "none", decodeJSON(t, res.stdout)["status"])
}

func TestSendWithoutConversation(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("", "send", "hello")
	require.Error(t, res.err)
	assert.Equal(t, exitState, ExitCode(res.err))
	assert.Contains(t, res.stderr, "No active conversation")
}

func TestSendToDeletedConversation(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)
	env.support.set(func(s *fakeSupport) { s.gone = true })

	res := env.run("", "send", "-o", "json", "hello")
	require.Error(t, res.err)
	assert.Equal(t, exitNotFound, ExitCode(res.err))
	assert.Contains(t, res.stderr, `"code"`)
}

func TestSendBlankText(t *testing.T) {
	env := setupTestEnv(t)
	res := env.run("", "send", "   ")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestSendReportsDeliveryFailure(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)
	env.support.set(func(s *fakeSupport) { s.failSend = true })

	res := env.run("", "send", "--wait-timeout", "5s", "hello")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "not delivered")
}

func TestSendNoWait(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)

	res := env.run("", "send", "--wait=false", "-o", "json", "quick one")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "quick one", decodeJSON(t, res.stdout)["text"])
}

func TestTranscriptEmpty(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)

	res := env.run("", "transcript")
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "No messages yet.")
}

func TestTranscriptRejectsBadSince(t *testing.T) {
	env := setupTestEnv(t)
	res := env.run("", "transcript", "--since", "last tuesday")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "invalid --since")
}

func TestResetWorksOffline(t *testing.T) {
	env := setupTestEnv(t)
	t.Setenv("SUPPORTSYNC_BASE_URL", "")

	res := env.run("", "reset", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	out := decodeJSON(t, res.stdout)
	assert.Equal(t, "none", out["status"])
}

func TestMissingBaseURL(t *testing.T) {
	env := setupTestEnv(t)
	t.Setenv("SUPPORTSYNC_BASE_URL", "")

	res := env.run("", "status")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
	assert.Contains(t, res.stderr, "No support server configured")
}

func TestUnknownStoreBackend(t *testing.T) {
	env := setupTestEnv(t)
	res := env.run("", "status", "--store", "red")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
	assert.Contains(t, res.stderr, `did you mean "redis"`)
}

func TestUnknownCommandSuggestion(t *testing.T) {
	setupTestEnv(t)
	res := runCLI(t, "", "transcrpt")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, `Did you mean "transcript"?`)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestUnknownFlagSuggestion(t *testing.T) {
	setupTestEnv(t)
	res := runCLI(t, "", "transcript", "--limt", "3")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, `Did you mean "--limit"?`)
}

func TestJQRejectsExplicitText(t *testing.T) {
	setupTestEnv(t)
	res := runCLI(t, "", "version", "-o", "text", "--jq", ".version")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "--jq requires --output json")
}

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	res := runCLI(t, "", "version")
	require.NoError(t, res.err)
	assert.Equal(t, "supportsync version dev\n", res.stdout)

	res = runCLI(t, "", "version", "--jq", ".version")
	require.NoError(t, res.err)
	assert.Equal(t, `"dev"`, strings.TrimSpace(res.stdout))
}

func TestRequireActive(t *testing.T) {
	assert.NoError(t, requireActive("active"))
	assert.ErrorIs(t, requireActive("nonexistent"), engine.ErrNotFound)
	assert.ErrorIs(t, requireActive("invalid"), engine.ErrInvalid)
	assert.ErrorIs(t, requireActive("none"), engine.ErrNotActive)
}

func TestDryRunChangesNothing(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("", "start", "--name", "Ana", "--dry-run")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "[DRY-RUN] Would start a conversation for profile default")
	assert.Contains(t, res.stdout, "/api/v1/support/conversations")
	assert.Equal(t, 0, env.support.startCount())

	res = env.run("", "send", "--dry-run", "hello")
	require.Error(t, res.err)
	assert.Equal(t, exitState, ExitCode(res.err))

	require.NoError(t, env.run("", "start", "--name", "Ana").err)

	res = env.run("", "send", "--dr", "-o", "json", "hello")
	require.NoError(t, res.err, res.stderr)
	out := decodeJSON(t, res.stdout)
	assert.Equal(t, true, out["dryRun"])
	preview, ok := out["preview"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "send", preview["operation"])
	assert.Contains(t, preview["request"], "/conversations/c-1/messages")
	assert.Empty(t, env.support.texts())

	res = env.run("", "reset", "--dry-run")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Conversation c-1 would be forgotten")

	res = env.run("", "status", "-o", "json")
	require.NoError(t, res.err)
	assert.Equal(t, "active", decodeJSON(t, res.stdout)["status"])
}

func TestVersionCheck(t *testing.T) {
	setupTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.0","html_url":"https://example.com/v1.2.0"}`))
	}))
	t.Cleanup(srv.Close)

	origURL, origVersion := update.ReleasesURL, version
	update.ReleasesURL, version = srv.URL, "1.1.0"
	t.Cleanup(func() { update.ReleasesURL, version = origURL, origVersion })

	res := runCLI(t, "", "version", "--check")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Update available: 1.1.0 -> 1.2.0")

	res = runCLI(t, "", "version", "--check", "--jq", ".update.updateAvailable")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "true", strings.TrimSpace(res.stdout))

	version = "dev"
	res = runCLI(t, "", "version", "--check")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "development build")
}

func TestSchemaCommands(t *testing.T) {
	setupTestEnv(t)

	res := runCLI(t, "", "schema", "list")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "RECORD")
	assert.Contains(t, res.stdout, "chat-event")

	res = runCLI(t, "", "schema", "show", "message")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Record: message")
	assert.Contains(t, res.stdout, "state: string (required)")
	assert.Contains(t, res.stdout, "one of: pending, confirmed, errored")
	assert.Contains(t, res.stdout, "timestamp: string (date-time) (required)")

	res = runCLI(t, "", "schema", "show", "status", "--jq", ".properties.status.enum | length")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "4", strings.TrimSpace(res.stdout))

	res = runCLI(t, "", "schema", "show", "mesage")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, `did you mean "message"?`)
}

func TestStatusWhenServerIsDown(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)
	env.support.set(func(s *fakeSupport) { s.down = true })

	res := env.run("", "status", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	out := decodeJSON(t, res.stdout)
	assert.NotEmpty(t, out["warning"])
	assert.Equal(t, "down", out["server"])

	// the stored conversation survives a network failure
	env.support.set(func(s *fakeSupport) { s.down = false })
	res = env.run("", "status", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	out = decodeJSON(t, res.stdout)
	assert.Equal(t, "active", out["status"])
	assert.Nil(t, out["server"])
}

func TestProbeServer(t *testing.T) {
	env := setupTestEnv(t)
	assert.Equal(t, "up", probeServer(context.Background(), newClient(env.server.URL)))

	env.support.set(func(s *fakeSupport) { s.down = true })
	assert.Equal(t, "down", probeServer(context.Background(), newClient(env.server.URL)))
}

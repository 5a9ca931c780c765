package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSendsAndDrainsOnQuit(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("hello\n//start is not a command\n/quit\n", "chat", "--no-push", "--name", "Ana")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "Ana (you): hello")
	assert.Contains(t, res.stderr, "conversation c-1")
	assert.ElementsMatch(t, []string{"hello", "/start is not a command"}, env.support.texts())
}

func TestChatEOFQuits(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)
	env.support.reply("Welcome back")

	res := env.run("", "chat", "--no-push")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Agent (support): Welcome back")
}

func TestChatRequiresConversation(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("hello\n", "chat", "--no-push")
	require.Error(t, res.err)
	assert.Equal(t, exitState, ExitCode(res.err))
	assert.Empty(t, env.support.texts())
}

func TestChatSlashCommandSuggestion(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("/retyr\n/dismiss\n/status\n/quit\n", "chat", "--no-push", "--name", "Ana")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stderr, "unknown command /retyr, did you mean /retry?")
	assert.Contains(t, res.stderr, "no failed message with that id")
	assert.Contains(t, res.stderr, "status active")
}

func TestChatRetryAfterFailure(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.run("", "start", "--name", "Ana").err)
	env.support.set(func(s *fakeSupport) { s.failSend = true })

	pr, pw := io.Pipe()
	done := make(chan result, 1)
	go func() { done <- runCLIWithInput(t, pr, "chat", "--no-push") }()

	write := func(line string) {
		_, err := io.WriteString(pw, line+"\n")
		require.NoError(t, err)
	}

	write("oops")
	require.Eventually(t, func() bool { return env.support.sendFailures() == 1 }, 5*time.Second, 10*time.Millisecond)
	env.support.set(func(s *fakeSupport) { s.failSend = false })

	// /retry is a no-op until the failure has been recorded locally
	deadline := time.Now().Add(5 * time.Second)
	for len(env.support.texts()) == 0 && time.Now().Before(deadline) {
		write("/retry")
		time.Sleep(50 * time.Millisecond)
	}
	write("/quit")
	_ = pw.Close()

	res := <-done
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, []string{"oops"}, env.support.texts())
	assert.Contains(t, res.stdout, "[failed, /retry")
}

func TestChatJSONLEvents(t *testing.T) {
	env := setupTestEnv(t)

	res := env.run("hi\n/quit\n", "chat", "--no-push", "--name", "Ana", "-o", "jsonl")
	require.NoError(t, res.err, res.stderr)

	var sawMessage, sawStatus bool
	for _, line := range strings.Split(strings.TrimSpace(res.stdout), "\n") {
		var ev chatEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		switch ev.Type {
		case "message":
			require.NotNil(t, ev.Message)
			if ev.Message.Text == "hi" {
				sawMessage = true
			}
		case "status":
			sawStatus = true
			assert.Equal(t, "c-1", ev.ConversationID)
		}
	}
	assert.True(t, sawMessage, "no message event in %q", res.stdout)
	assert.True(t, sawStatus, "no status event in %q", res.stdout)
}

func TestChatMetricsListenerError(t *testing.T) {
	setupTestEnv(t)

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	res := runCLIWithInput(t, pr, "chat", "--no-push", "--name", "Ana", "--metrics-addr", "127.0.0.1:99999")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "metrics listener")
}

func TestServeMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var errOut bytes.Buffer
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("supportsync_up 1\n"))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, addr, h, &errOut) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ = io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "supportsync_up 1\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/iocontext"
)

// fakeSupport is an in-memory support API serving one conversation, c-1.
type fakeSupport struct {
	mu       sync.Mutex
	started  int
	closed   bool
	gone     bool
	failSend bool
	down     bool
	failures int
	messages []map[string]any
	nextID   int
}

func (s *fakeSupport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	const conv = "/api/v1/support/conversations/c-1"
	switch {
	case s.down:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/support/conversations":
		s.started++
		_, _ = w.Write([]byte(`{"conversationId":"c-1"}`))
	case s.gone && strings.HasPrefix(r.URL.Path, conv):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	case r.Method == http.MethodGet && r.URL.Path == conv+"/verify":
		_ = json.NewEncoder(w).Encode(map[string]any{"exists": true, "valid": !s.closed})
	case r.Method == http.MethodGet && r.URL.Path == conv+"/messages":
		_ = json.NewEncoder(w).Encode(s.messages)
	case r.Method == http.MethodPost && r.URL.Path == conv+"/messages":
		if s.failSend {
			s.failures++
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
			return
		}
		var req api.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.nextID++
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		s.messages = append(s.messages, map[string]any{
			"id":        s.nextID,
			"text":      req.Text,
			"sender":    req.Sender,
			"timestamp": ts,
			"tempId":    req.TempID,
		})
		_ = json.NewEncoder(w).Encode(map[string]any{"id": s.nextID, "timestamp": ts, "tempId": req.TempID})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// reply adds a support agent message to the history.
func (s *fakeSupport) reply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.messages = append(s.messages, map[string]any{
		"id":        s.nextID,
		"text":      text,
		"sender":    map[string]any{"name": "Agent", "isAdmin": true},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *fakeSupport) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *fakeSupport) sendFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// texts lists the stored message bodies in order.
func (s *fakeSupport) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		text, _ := m["text"].(string)
		out = append(out, text)
	}
	return out
}

func (s *fakeSupport) set(fn func(s *fakeSupport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// testEnv points every command at a fake server and a private file store.
type testEnv struct {
	t       *testing.T
	support *fakeSupport
	server  *httptest.Server
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	support := &fakeSupport{}
	server := httptest.NewServer(support)
	t.Cleanup(server.Close)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("SUPPORTSYNC_TESTING", "1")
	t.Setenv("SUPPORTSYNC_ENV_FILE", "")
	t.Setenv("SUPPORTSYNC_OUTPUT", "")
	t.Setenv("SUPPORTSYNC_BASE_URL", server.URL)
	t.Setenv("SUPPORTSYNC_CABLE_URL", "")
	t.Setenv("SUPPORTSYNC_PROFILE", "")
	t.Setenv("SUPPORTSYNC_STORE", "file")
	t.Setenv("SUPPORTSYNC_STORE_DIR", t.TempDir())
	t.Setenv("SUPPORTSYNC_POLL_INTERVAL", "100ms")
	t.Setenv("SUPPORTSYNC_ALLOW_PRIVATE", "1")
	t.Setenv("SUPPORTSYNC_MAX_5XX_RETRIES", "0")

	return &testEnv{t: t, support: support, server: server}
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI with the given stdin.
func (e *testEnv) run(stdin string, args ...string) result {
	e.t.Helper()
	return runCLI(e.t, stdin, args...)
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	return runCLIWithInput(t, strings.NewReader(stdin), args...)
}

func runCLIWithInput(t *testing.T, in io.Reader, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx := iocontext.WithIO(context.Background(), &iocontext.IO{Out: &out, ErrOut: &errOut, In: in})
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	err := Execute(ctx, args)
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	return v
}

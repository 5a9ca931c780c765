package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/store"
)

// supportServer is a minimal in-memory support API.
type supportServer struct {
	mu       sync.Mutex
	messages []map[string]any
	gone     atomic.Bool
	nextID   int
}

func (s *supportServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.gone.Load() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/support/conversations":
		_, _ = w.Write([]byte(`{"conversationId":"c-1"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/support/conversations/c-1/messages":
		_ = json.NewEncoder(w).Encode(s.messages)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/support/conversations/c-1/messages":
		var req api.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.nextID++
		msg := map[string]any{
			"id":        s.nextID,
			"text":      req.Text,
			"sender":    req.Sender,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		s.messages = append(s.messages, msg)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": s.nextID, "timestamp": msg["timestamp"]})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestEngineAgainstHTTPBackend(t *testing.T) {
	backend := &supportServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	client := api.NewForTesting(srv.URL)
	client.SetRetryConfig(api.RetryConfig{CircuitBreakerThreshold: 100, CircuitBreakerResetTime: time.Minute})

	st := store.NewMemoryStore()
	e := newTestEngine(t, client.Support(), st)

	id, err := e.Start(context.Background(), UserInfo{Name: "Ana", Email: "ana@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)

	_, err = e.Send(context.Background(), "hello from the widget", chat.Sender{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return confirmedCount(e.Messages()) == 1 }, waitFor, tick)

	// the poller sees the same message from the server and must not add it
	assert.Never(t, func() bool { return len(e.Messages()) != 1 }, 100*time.Millisecond, tick)

	backend.gone.Store(true)
	require.Eventually(t, func() bool { return e.Status() == chat.StatusNonexistent }, waitFor, tick)
	_, err = st.Load(context.Background())
	assert.ErrorIs(t, err, store.ErrNoIdentity)
	assert.Empty(t, e.Messages())
}

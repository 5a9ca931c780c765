// Package cabletest runs an in-process ActionCable server for tests.
package cabletest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type wireFrame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Command    string          `json:"command,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

type room struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id"`
}

// Server accepts ActionCable connections, confirms subscriptions and lets
// tests broadcast frames into conversation rooms.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    map[*websocket.Conn]map[string]string // conn -> conversation id -> identifier
	commands []string
	reject   map[string]bool
	connects int
	changed  chan struct{}
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		conns:   make(map[*websocket.Conn]map[string]string),
		reject:  make(map[string]bool),
		changed: make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.DropAll()
		s.srv.Close()
	})
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Reject makes subscriptions to conversationID fail.
func (s *Server) Reject(conversationID string) {
	s.mu.Lock()
	s.reject[conversationID] = true
	s.mu.Unlock()
}

// Commands returns "subscribe:<id>" and "unsubscribe:<id>" in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Connects returns how many connections have been accepted.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Subscribed reports whether any live connection is in the room.
func (s *Server) Subscribed(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rooms := range s.conns {
		if _, ok := rooms[conversationID]; ok {
			return true
		}
	}
	return false
}

// WaitFor polls cond until it holds or timeout elapses.
func (s *Server) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-time.After(10 * time.Millisecond):
		}
	}
	return cond()
}

// Broadcast sends payload as the message of a room frame to every
// subscriber of conversationID and returns how many received it.
func (s *Server) Broadcast(conversationID, payload string) int {
	type target struct {
		conn *websocket.Conn
		id   string
	}
	s.mu.Lock()
	var targets []target
	for conn, rooms := range s.conns {
		if id, ok := rooms[conversationID]; ok {
			targets = append(targets, target{conn, id})
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sent := 0
	for _, tg := range targets {
		data, _ := json.Marshal(wireFrame{Identifier: tg.id, Message: json.RawMessage(payload)})
		if tg.conn.Write(ctx, websocket.MessageText, data) == nil {
			sent++
		}
	}
	return sent
}

// DropAll closes every live connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (s *Server) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"actioncable-v1-json"},
	})
	if err != nil {
		return
	}
	ctx := r.Context()

	s.mu.Lock()
	s.conns[conn] = make(map[string]string)
	s.connects++
	s.notify()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.notify()
		s.mu.Unlock()
		_ = conn.CloseNow()
	}()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`)); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f wireFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		var rm room
		_ = json.Unmarshal([]byte(f.Identifier), &rm)

		s.mu.Lock()
		s.commands = append(s.commands, fmt.Sprintf("%s:%s", f.Command, rm.ConversationID))
		rejected := s.reject[rm.ConversationID]
		switch f.Command {
		case "subscribe":
			if !rejected {
				s.conns[conn][rm.ConversationID] = f.Identifier
			}
		case "unsubscribe":
			delete(s.conns[conn], rm.ConversationID)
		}
		s.notify()
		s.mu.Unlock()

		if f.Command == "subscribe" {
			typ := "confirm_subscription"
			if rejected {
				typ = "reject_subscription"
			}
			reply, _ := json.Marshal(wireFrame{Type: typ, Identifier: f.Identifier})
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return
			}
		}
	}
}

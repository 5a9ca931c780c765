package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/outfmt"
)

// shortID trims a TempID to something a person can type back.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMessage(m chat.Message) string {
	ts := m.Timestamp.Local().Format(time.TimeOnly)
	who := "you"
	if m.Sender.IsAdmin {
		who = "support"
	}
	name := m.Sender.Name
	if name == "" {
		name = who
	}
	line := fmt.Sprintf("[%s] %s (%s): %s", ts, name, who, strings.TrimSpace(m.Text))
	switch m.State {
	case chat.StatePending:
		line += "  [sending]"
	case chat.StateErrored:
		line += fmt.Sprintf("  [failed, /retry %s]", shortID(m.TempID))
	}
	return line
}

func writeMessages(w io.Writer, messages []chat.Message) error {
	for _, m := range messages {
		if _, err := fmt.Fprintln(w, formatMessage(m)); err != nil {
			return err
		}
	}
	return nil
}

// messageKey identifies a rendered line across updates.
func messageKey(m chat.Message) string {
	if m.TempID != "" {
		return "t:" + m.TempID
	}
	return "i:" + m.ID
}

// renderer prints only what changed between successive message lists.
// It is safe for concurrent use.
type renderer struct {
	f    *outfmt.Formatter
	mu   sync.Mutex
	seen map[string]chat.State
}

func newRenderer(f *outfmt.Formatter) *renderer {
	return &renderer{f: f, seen: make(map[string]chat.State)}
}

// render prints new messages and transitions into the failed state.
// A promotion from pending to confirmed is silent.
func (r *renderer) render(messages []chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range messages {
		key := messageKey(m)
		prev, ok := r.seen[key]
		r.seen[key] = m.State
		if ok && (prev == m.State || m.State != chat.StateErrored) {
			continue
		}
		ev := chatEvent{Type: "message", ConversationID: m.ConversationID, Message: &m}
		if err := r.f.Event(ev, formatMessage(m)); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) forget(m chat.Message) {
	r.mu.Lock()
	delete(r.seen, messageKey(m))
	r.mu.Unlock()
}

func (r *renderer) reset() {
	r.mu.Lock()
	clear(r.seen)
	r.mu.Unlock()
}

// lockedWriter serializes writes from the update pump and the input loop.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// findByTempID returns the entry for tempID, matched by prefix so users can
// type the short form.
func findByTempID(messages []chat.Message, tempID string) (chat.Message, bool) {
	if tempID == "" {
		return chat.Message{}, false
	}
	for _, m := range messages {
		if m.TempID != "" && strings.HasPrefix(m.TempID, tempID) {
			return m, true
		}
	}
	return chat.Message{}, false
}

// lastErrored returns the newest failed message.
func lastErrored(messages []chat.Message) (chat.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].State == chat.StateErrored {
			return messages[i], true
		}
	}
	return chat.Message{}, false
}

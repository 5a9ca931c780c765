package actioncable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// DefaultPingTimeout is how long we wait without receiving any frame
// (including server pings) before treating the connection as dead.
// ActionCable servers ping every ~3s, so 15s means ~5 missed pings.
var DefaultPingTimeout = 15 * time.Second

// ErrPingTimeout is returned when no frames are received within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// ConversationChannel is the server channel that streams one conversation room.
const ConversationChannel = "ConversationChannel"

// frame is a raw ActionCable JSON frame.
type frame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Command    string          `json:"command,omitempty"`
	Data       string          `json:"data,omitempty"`
	Reconnect  *bool           `json:"reconnect,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// ChannelID identifies a room subscription. It is serialized to JSON and
// double-encoded as the ActionCable identifier string.
type ChannelID struct {
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id"`
}

// Room returns the conversation room identifier for conversationID.
func Room(conversationID string) ChannelID {
	return ChannelID{Channel: ConversationChannel, ConversationID: conversationID}
}

// Identifier returns the wire identifier string.
func (id ChannelID) Identifier() string {
	data, _ := json.Marshal(id)
	return string(data)
}

// EventType classifies an Event.
type EventType int

const (
	EventMessage EventType = iota
	EventConfirm
	EventReject
)

// Event is a frame received from the ActionCable server.
type Event struct {
	Type       EventType
	Identifier string          // subscription the frame belongs to
	Data       json.RawMessage // the "message" field payload
	Err        error           // non-nil on read error or disconnect
}

// Client is an ActionCable WebSocket client. One goroutine may read via
// Listen while others write subscription commands.
type Client struct {
	conn *websocket.Conn
	url  string
}

// maxReadSize caps the maximum WebSocket frame size to 1 MB.
const maxReadSize = 1 << 20

// Connect dials the ActionCable endpoint and waits for the welcome frame.
func Connect(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"actioncable-v1-json"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("parse welcome: %w", err)
	}
	if f.Type != "welcome" {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("expected welcome, got %q (reason: %s)", f.Type, f.Reason)
	}

	return &Client{conn: conn, url: url}, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Subscribe sends a subscribe command. The server's confirm or reject arrives
// as an Event on the Listen channel.
func (c *Client) Subscribe(ctx context.Context, id ChannelID) error {
	return c.command(ctx, "subscribe", id)
}

// Unsubscribe leaves a room. Frames already in flight for it may still arrive.
func (c *Client) Unsubscribe(ctx context.Context, id ChannelID) error {
	return c.command(ctx, "unsubscribe", id)
}

func (c *Client) command(ctx context.Context, command string, id ChannelID) error {
	data, err := json.Marshal(frame{Command: command, Identifier: id.Identifier()})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", command, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", command, err)
	}
	return nil
}

// Listen starts the read loop and returns a channel of events.
// Pings are handled silently. The channel closes when the connection drops
// or ctx is cancelled.
//
// A rolling ping timeout detects half-dead connections: if no frame
// (including server pings) arrives within DefaultPingTimeout, the
// connection is treated as dead and an ErrPingTimeout is emitted.
func (c *Client) Listen(ctx context.Context) <-chan Event {
	return c.ListenWithTimeout(ctx, DefaultPingTimeout)
}

// ListenWithTimeout is like Listen but with a configurable ping timeout.
// Use 0 to disable the timeout.
func (c *Client) ListenWithTimeout(ctx context.Context, pingTimeout time.Duration) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			readCtx := ctx
			var readCancel context.CancelFunc
			if pingTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, pingTimeout)
			}

			_, data, err := c.conn.Read(readCtx)

			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				if pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
					err = ErrPingTimeout
				}
				emit(Event{Err: err})
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}

			switch {
			case f.Type == "ping", f.Type == "welcome":
				continue
			case f.Type == "disconnect":
				reconnect := f.Reconnect != nil && *f.Reconnect
				emit(Event{Err: fmt.Errorf("disconnect (reason=%s, reconnect=%v)", f.Reason, reconnect)})
				return
			case f.Type == "confirm_subscription":
				if !emit(Event{Type: EventConfirm, Identifier: f.Identifier}) {
					return
				}
			case f.Type == "reject_subscription":
				if !emit(Event{Type: EventReject, Identifier: f.Identifier}) {
					return
				}
			case len(f.Message) > 0:
				if !emit(Event{Type: EventMessage, Identifier: f.Identifier, Data: f.Message}) {
					return
				}
			}
		}
	}()
	return ch
}

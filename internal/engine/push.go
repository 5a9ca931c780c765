package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwoot/supportsync/internal/actioncable"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/metrics"
)

// ConnectionStatus is the push connection state.
type ConnectionStatus string

const (
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnDisconnected ConnectionStatus = "disconnected"
)

// PushConn is one live push connection. *actioncable.Client implements it.
type PushConn interface {
	Subscribe(ctx context.Context, id actioncable.ChannelID) error
	Unsubscribe(ctx context.Context, id actioncable.ChannelID) error
	Listen(ctx context.Context) <-chan actioncable.Event
	Close() error
}

// Dialer opens a PushConn.
type Dialer func(ctx context.Context, url string) (PushConn, error)

// DialCable connects to an ActionCable endpoint.
func DialCable(ctx context.Context, url string) (PushConn, error) {
	c, err := actioncable.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Backoff is the reconnect policy. The delay doubles from Min to Max and
// drops back to Min after a connection stayed up for StableAfter.
type Backoff struct {
	Min         time.Duration
	Max         time.Duration
	StableAfter time.Duration
}

// DefaultBackoff reconnects after 2s, doubling up to 30s.
var DefaultBackoff = Backoff{Min: 2 * time.Second, Max: 30 * time.Second, StableAfter: 60 * time.Second}

const commandTimeout = 5 * time.Second

// pusher owns the shared connection and the one room the engine is in.
type pusher struct {
	e       *Engine
	url     string
	dial    Dialer
	backoff Backoff
	logger  *slog.Logger

	// cmdMu orders subscription writes; mu guards the fields below and is
	// never held across a socket write.
	cmdMu  sync.Mutex
	mu     sync.Mutex
	conn   PushConn
	room   string
	status ConnectionStatus
}

func newPusher(e *Engine, url string, dial Dialer, b Backoff) *pusher {
	if dial == nil {
		dial = DialCable
	}
	if b.Min <= 0 {
		b.Min = DefaultBackoff.Min
	}
	if b.Max < b.Min {
		b.Max = max(DefaultBackoff.Max, b.Min)
	}
	if b.StableAfter <= 0 {
		b.StableAfter = DefaultBackoff.StableAfter
	}
	return &pusher{
		e:       e,
		url:     url,
		dial:    dial,
		backoff: b,
		logger:  e.logger.With("component", "push"),
		status:  ConnDisconnected,
	}
}

func (p *pusher) Status() ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *pusher) setStatus(s ConnectionStatus) {
	p.mu.Lock()
	changed := p.status != s
	p.status = s
	p.mu.Unlock()
	if !changed {
		return
	}
	p.e.metrics.SetPushConnected(s == ConnConnected)
	p.e.emit(Update{Kind: UpdateConnection, Connection: s})
}

// join enters the conversation room, now if connected or on next connect.
func (p *pusher) join(id string) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	prev, conn := p.room, p.conn
	p.room = id
	p.mu.Unlock()

	if prev == id || conn == nil {
		return
	}
	if prev != "" {
		p.command(conn.Unsubscribe, prev)
	}
	p.command(conn.Subscribe, id)
}

// leave exits the room. Frames already in flight for it are ignored.
func (p *pusher) leave(id string) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	if p.room != id {
		p.mu.Unlock()
		return
	}
	p.room = ""
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		p.command(conn.Unsubscribe, id)
	}
}

// command sends one subscription command. Caller holds cmdMu, never mu.
func (p *pusher) command(fn func(context.Context, actioncable.ChannelID) error, id string) {
	ctx, cancel := context.WithTimeout(p.e.ctx, commandTimeout)
	defer cancel()
	if err := fn(ctx, actioncable.Room(id)); err != nil {
		// the read loop sees the broken connection and reconnects
		p.logger.Warn("room command failed", "conversation_id", id, "error", err)
	}
}

func (p *pusher) currentRoom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// run keeps one connection open until ctx is done.
func (p *pusher) run(ctx context.Context) error {
	backoff := p.backoff.Min
	for {
		p.setStatus(ConnConnecting)
		started := time.Now()
		err := p.session(ctx)
		p.setStatus(ConnDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(started) > p.backoff.StableAfter {
			backoff = p.backoff.Min
		}
		p.logger.Warn("push disconnected, reconnecting", "error", err, "backoff", backoff)
		p.e.metrics.Reconnects.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, p.backoff.Max)
	}
}

// session serves one connection and returns why it ended.
func (p *pusher) session(ctx context.Context) error {
	conn, err := p.dial(ctx, p.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	events := conn.Listen(ctx)

	p.cmdMu.Lock()
	p.mu.Lock()
	p.conn = conn
	room := p.room
	p.mu.Unlock()
	if room != "" {
		p.command(conn.Subscribe, room)
	}
	p.cmdMu.Unlock()
	defer func() {
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
	}()

	p.setStatus(ConnConnected)
	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		p.handle(ev)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("push connection closed")
}

func (p *pusher) handle(ev actioncable.Event) {
	var cid actioncable.ChannelID
	if err := json.Unmarshal([]byte(ev.Identifier), &cid); err != nil {
		p.logger.Debug("frame with unreadable identifier", "identifier", ev.Identifier)
		return
	}

	switch ev.Type {
	case actioncable.EventConfirm:
		p.logger.Debug("joined room", "conversation_id", cid.ConversationID)
	case actioncable.EventReject:
		p.logger.Warn("room join rejected", "conversation_id", cid.ConversationID)
	case actioncable.EventMessage:
		room := p.currentRoom()
		if room == "" || cid.ConversationID != room {
			p.logger.Debug("frame for a room we left", "conversation_id", cid.ConversationID)
			return
		}
		p.e.receivePush(room, ev.Data)
	}
}

// receivePush normalizes one payload and merges it as a batch of one.
func (e *Engine) receivePush(convID string, raw []byte) {
	msg, shape, err := chat.Normalize(raw, e.now())
	if err != nil {
		e.metrics.MalformedPayloads.Inc()
		e.logger.Warn("dropping push payload",
			"component", "push",
			"conversation_id", convID,
			"error", newMalformedPayloadError(raw, err))
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = convID
	} else if msg.ConversationID != convID {
		e.logger.Debug("push payload for another conversation", "component", "push", "conversation_id", msg.ConversationID)
		return
	}

	gen, ok := e.activeGen(convID)
	if !ok {
		return
	}
	e.logger.Debug("push message", "component", "push", "conversation_id", convID, "shape", shape.String())
	e.mergeIfCurrent(gen, metrics.SourcePush, msg)
}

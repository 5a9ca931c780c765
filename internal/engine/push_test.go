package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwoot/supportsync/internal/actioncable"
	"github.com/chatwoot/supportsync/internal/actioncable/cabletest"
	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
)

func fastBackoff(o *Options) {
	o.Reconnect = Backoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, StableAfter: time.Minute}
}

// pushEngine starts an engine on cable server srv, runs it, and bootstraps c-1.
func pushEngine(t *testing.T, srv *cabletest.Server, b *fakeBackend, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := append([]func(*Options){func(o *Options) { o.CableURL = srv.URL() }, fastBackoff}, mutate...)
	e, _ := activeEngine(t, b, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.True(t, srv.WaitFor(waitFor, func() bool { return srv.Subscribed("c-1") }), "engine never joined the room")
	require.Eventually(t, func() bool { return e.ConnectionStatus() == ConnConnected }, waitFor, tick)
	return e
}

func TestPushDeliversFlatAndNestedShapes(t *testing.T) {
	srv := cabletest.New(t)
	e := pushEngine(t, srv, &fakeBackend{})

	require.Equal(t, 1, srv.Broadcast("c-1", `{"id":10,"message":"flat","senderName":"Support","isAdmin":true,"timestamp":"2026-03-01T09:00:00Z"}`))
	require.Equal(t, 1, srv.Broadcast("c-1", `{"event":"message.created","data":{"id":"11","text":"nested","sender":{"name":"Support","isAdmin":true},"timestamp":"2026-03-01T09:00:01Z"}}`))

	require.Eventually(t, func() bool { return len(e.Messages()) == 2 }, waitFor, tick)
	msgs := e.Messages()
	assert.Equal(t, "10", msgs[0].ID)
	assert.Equal(t, "flat", msgs[0].Text)
	assert.True(t, msgs[0].Sender.IsAdmin)
	assert.Equal(t, "c-1", msgs[0].ConversationID)
	assert.Equal(t, "nested", msgs[1].Text)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics().Merges.WithLabelValues("push")))
}

func TestPushAndPollRedeliveryYieldsOneMessage(t *testing.T) {
	srv := cabletest.New(t)
	b := &fakeBackend{}
	e := pushEngine(t, srv, b)

	srv.Broadcast("c-1", `{"id":"42","text":"once","sender":{"name":"Support","isAdmin":true},"timestamp":"2026-03-01T09:00:00Z"}`)
	require.Eventually(t, func() bool { return len(e.Messages()) == 1 }, waitFor, tick)

	b.setDelta(func(int, time.Time) (api.MessageList, error) {
		return api.MessageList{Messages: []chat.Message{serverMessage("42", "once", support, t0)}}, nil
	})
	polled := b.polls()
	require.Eventually(t, func() bool { return b.polls() >= polled+2 }, waitFor, tick)
	srv.Broadcast("c-1", `{"id":"42","text":"once","sender":{"name":"Support","isAdmin":true},"timestamp":"2026-03-01T09:00:00Z"}`)

	assert.Never(t, func() bool { return len(e.Messages()) != 1 }, 100*time.Millisecond, tick)
}

func TestPushMalformedPayloadIsDropped(t *testing.T) {
	srv := cabletest.New(t)
	e := pushEngine(t, srv, &fakeBackend{history: []chat.Message{serverMessage("1", "hi", ana, t0)}})
	before := e.Messages()

	srv.Broadcast("c-1", `{"body":"no sender fields"}`)
	srv.Broadcast("c-1", `{"id":2,"message":"bad time","senderName":"S","timestamp":"yesterday"}`)
	srv.Broadcast("c-1", `"just a string"`)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(e.Metrics().MalformedPayloads) == 3
	}, waitFor, tick)
	assert.Equal(t, before, e.Messages())
	assert.Equal(t, chat.StatusActive, e.Status())

	// the pipeline keeps working afterwards
	srv.Broadcast("c-1", `{"id":3,"message":"fine","senderName":"Support","isAdmin":true}`)
	require.Eventually(t, func() bool { return len(e.Messages()) == 2 }, waitFor, tick)
}

func TestPushPromotesPendingSend(t *testing.T) {
	srv := cabletest.New(t)
	release := make(chan struct{})
	b := &fakeBackend{}
	b.sendFn = func(n int, req api.SendMessageRequest) (api.SendMessageResponse, error) {
		<-release
		return api.SendMessageResponse{ID: "50", TempID: req.TempID}, nil
	}
	e := pushEngine(t, srv, b)
	defer close(release)

	tempID, err := e.Send(context.Background(), "ping", ana)
	require.NoError(t, err)
	srv.Broadcast("c-1", fmt.Sprintf(`{"id":"50","text":"ping","tempId":%q,"sender":{"name":"Ana","isAdmin":false}}`, tempID))

	require.Eventually(t, func() bool {
		m, ok := e.log.Find(tempID)
		return ok && m.State == chat.StateConfirmed && m.ID == "50"
	}, waitFor, tick)
	assert.Len(t, e.Messages(), 1)
}

func TestPushReconnectRejoinsRoom(t *testing.T) {
	srv := cabletest.New(t)
	e := pushEngine(t, srv, &fakeBackend{})

	srv.DropAll()
	require.True(t, srv.WaitFor(waitFor, func() bool {
		return srv.Connects() >= 2 && srv.Subscribed("c-1")
	}), "room not re-joined after reconnect")
	require.Eventually(t, func() bool { return e.ConnectionStatus() == ConnConnected }, waitFor, tick)
	assert.GreaterOrEqual(t, testutil.ToFloat64(e.Metrics().Reconnects), 1.0)

	srv.Broadcast("c-1", `{"id":1,"message":"after reconnect","senderName":"Support","isAdmin":true}`)
	require.Eventually(t, func() bool { return len(e.Messages()) == 1 }, waitFor, tick)
}

func TestResetLeavesRoom(t *testing.T) {
	srv := cabletest.New(t)
	e := pushEngine(t, srv, &fakeBackend{})

	require.NoError(t, e.Reset(context.Background()))
	require.True(t, srv.WaitFor(waitFor, func() bool { return !srv.Subscribed("c-1") }))
	assert.Contains(t, srv.Commands(), "unsubscribe:c-1")

	// frames racing the unsubscribe are ignored
	e.receivePush("c-1", []byte(`{"id":1,"message":"late","senderName":"Support"}`))
	assert.Empty(t, e.Messages())
}

func TestPushJoinsRoomOnStart(t *testing.T) {
	srv := cabletest.New(t)
	b := &fakeBackend{startID: "c-7"}
	e := newTestEngine(t, b, nil, func(o *Options) { o.CableURL = srv.URL() }, fastBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	_, err := e.Start(context.Background(), UserInfo{Name: "Ana"})
	require.NoError(t, err)
	require.True(t, srv.WaitFor(waitFor, func() bool { return srv.Subscribed("c-7") }))
}

func TestHandleIgnoresOtherRooms(t *testing.T) {
	e, _ := activeEngine(t, &fakeBackend{}, func(o *Options) { o.CableURL = "ws://unused" })
	e.push.join("c-1")

	e.push.handle(actioncable.Event{
		Type:       actioncable.EventMessage,
		Identifier: actioncable.Room("c-2").Identifier(),
		Data:       []byte(`{"id":1,"message":"wrong room","senderName":"S"}`),
	})
	e.push.handle(actioncable.Event{
		Type:       actioncable.EventMessage,
		Identifier: actioncable.Room("c-1").Identifier(),
		Data:       []byte(`{"id":2,"conversationId":"c-2","message":"wrong conversation","senderName":"S"}`),
	})
	assert.Empty(t, e.Messages())

	e.push.handle(actioncable.Event{
		Type:       actioncable.EventMessage,
		Identifier: actioncable.Room("c-1").Identifier(),
		Data:       []byte(`{"id":3,"message":"right","senderName":"S"}`),
	})
	assert.Len(t, e.Messages(), 1)
}

func TestNewPusherDefaults(t *testing.T) {
	e := newTestEngine(t, &fakeBackend{}, nil, func(o *Options) { o.CableURL = "ws://x" })
	assert.Equal(t, DefaultBackoff, e.push.backoff)
	assert.Equal(t, ConnDisconnected, e.ConnectionStatus())
}

// stalledConn blocks every room command until release is closed.
type stalledConn struct {
	entered chan string
	release chan struct{}
}

func (c *stalledConn) wait(ctx context.Context, kind string) error {
	c.entered <- kind
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stalledConn) Subscribe(ctx context.Context, _ actioncable.ChannelID) error {
	return c.wait(ctx, "subscribe")
}

func (c *stalledConn) Unsubscribe(ctx context.Context, _ actioncable.ChannelID) error {
	return c.wait(ctx, "unsubscribe")
}

func (c *stalledConn) Listen(context.Context) <-chan actioncable.Event { return nil }
func (c *stalledConn) Close() error                                    { return nil }

func TestSlowRoomCommandDoesNotBlockReaders(t *testing.T) {
	e, _ := activeEngine(t, &fakeBackend{}, func(o *Options) { o.CableURL = "ws://unused" })
	conn := &stalledConn{entered: make(chan string, 4), release: make(chan struct{})}
	e.push.mu.Lock()
	e.push.conn = conn
	e.push.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.push.join("c-9")
	}()
	t.Cleanup(func() {
		close(conn.release)
		<-done
	})

	select {
	case <-conn.entered:
	case <-time.After(waitFor):
		t.Fatal("join never wrote to the connection")
	}

	read := make(chan string, 1)
	go func() {
		_ = e.push.Status()
		read <- e.push.currentRoom()
	}()
	select {
	case room := <-read:
		assert.Equal(t, "c-9", room)
	case <-time.After(time.Second):
		t.Fatal("readers blocked behind a room command")
	}
}

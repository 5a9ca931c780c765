// Package engine keeps one support conversation in sync with the server. It
// owns the lifecycle (bootstrap, start, reset), a poll loop that is the
// correctness backstop, a push subscription that lowers latency, and the
// optimistic send path. Every write to the message list goes through
// chat.Merge via a single chat.Log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/metrics"
	"github.com/chatwoot/supportsync/internal/store"
)

// Backend is the remote support API. api.SupportService implements it.
type Backend interface {
	StartConversation(ctx context.Context, req api.StartConversationRequest) (string, error)
	VerifyConversation(ctx context.Context, conversationID string) (api.Verification, error)
	GetConversationMessages(ctx context.Context, conversationID string) (api.MessageList, error)
	GetNewMessages(ctx context.Context, conversationID string, since time.Time) (api.MessageList, error)
	SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (api.SendMessageResponse, error)
}

// DefaultPollInterval matches the widget's reference cadence.
const DefaultPollInterval = 3 * time.Second

const defaultUpdateBuffer = 256

// Options configures an Engine. Backend is required.
type Options struct {
	Backend Backend
	// Store persists the identity. Defaults to an in-memory store.
	Store store.Store
	// CableURL enables the push adapter when set.
	CableURL     string
	Dial         Dialer
	Reconnect    Backoff
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	UpdateBuffer int

	Now       func() time.Time
	NewTempID func() string
}

// UserInfo identifies the visitor opening a conversation.
type UserInfo struct {
	Name  string
	Email string
}

// Engine is safe for concurrent use.
type Engine struct {
	backend      Backend
	store        store.Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	now          func() time.Time
	newTempID    func() string

	log  *chat.Log
	push *pusher

	// lifeMu serializes Bootstrap, Start, Reset and not-found handling.
	lifeMu sync.Mutex

	// stateMu guards the fields below. Merges hold it for reading so a
	// reset cannot interleave with a generation check and its merge.
	stateMu  sync.RWMutex
	conv     chat.Conversation
	identity store.Identity
	gen      uint64
	stopPoll context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	workMu  sync.Mutex
	closing bool
	wg      sync.WaitGroup

	updMu     sync.RWMutex
	updates   chan Update
	updClosed bool
}

// New builds an idle engine. Call Bootstrap or Start to activate a
// conversation and Run to drive the push connection.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = defaultUpdateBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTempID == nil {
		opts.NewTempID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		backend:      opts.Backend,
		store:        opts.Store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
		newTempID:    opts.NewTempID,
		log:          chat.NewLog(),
		conv:         chat.Conversation{Status: chat.StatusNone, LastSyncMarker: chat.Epoch},
		ctx:          ctx,
		cancel:       cancel,
		updates:      make(chan Update, opts.UpdateBuffer),
	}
	if opts.CableURL != "" {
		e.push = newPusher(e, opts.CableURL, opts.Dial, opts.Reconnect)
	}
	return e, nil
}

// Run drives the push connection until ctx is cancelled or Close is called.
// Without a cable URL it just blocks; polling runs independently of Run.
func (e *Engine) Run(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if e.push != nil {
		g.Go(func() error { return e.push.run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine run: %w", err)
	}
	return nil
}

// Close stops every adapter and waits for in-flight sends. The stored
// identity is kept so the next process can resume.
func (e *Engine) Close() error {
	e.workMu.Lock()
	if e.closing {
		e.workMu.Unlock()
		return nil
	}
	e.closing = true
	e.workMu.Unlock()

	e.cancel()
	e.stateMu.Lock()
	e.stopPoll = nil
	e.stateMu.Unlock()
	e.wg.Wait()

	e.updMu.Lock()
	e.updClosed = true
	close(e.updates)
	e.updMu.Unlock()
	return nil
}

// Updates streams message, status, connection and notice changes. The
// channel is closed by Close. Updates are dropped, not queued, when the
// consumer falls behind; Messages always has the latest list.
func (e *Engine) Updates() <-chan Update { return e.updates }

// Messages returns a copy of the current message list.
func (e *Engine) Messages() []chat.Message { return e.log.Snapshot() }

// Conversation returns the current conversation state.
func (e *Engine) Conversation() chat.Conversation {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.conv
}

// Status returns the current lifecycle status.
func (e *Engine) Status() chat.Status { return e.Conversation().Status }

// Identity returns the visitor identity of the active conversation.
func (e *Engine) Identity() store.Identity {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.identity
}

// ConnectionStatus reports the push connection state. It is diagnostic only.
func (e *Engine) ConnectionStatus() ConnectionStatus {
	if e.push == nil {
		return ConnDisconnected
	}
	return e.push.Status()
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// track runs fn on a goroutine Close waits for. It returns false once the
// engine is closing.
func (e *Engine) track(fn func()) bool {
	e.workMu.Lock()
	defer e.workMu.Unlock()
	if e.closing {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) isClosed() bool {
	e.workMu.Lock()
	defer e.workMu.Unlock()
	return e.closing
}

// bind returns a context cancelled by either ctx or Close.
func (e *Engine) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// active returns the live generation and conversation, if any.
func (e *Engine) active() (uint64, string, store.Identity, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.conv.Status != chat.StatusActive {
		return 0, "", store.Identity{}, false
	}
	return e.gen, e.conv.ID, e.identity, true
}

// activeGen returns the generation when id is the active conversation.
func (e *Engine) activeGen(id string) (uint64, bool) {
	gen, current, _, ok := e.active()
	if !ok || current != id {
		return 0, false
	}
	return gen, true
}

func (e *Engine) currentGen() uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.gen
}

// mergeIfCurrent folds batch into the log only while gen is still the live
// activation. Results from a torn-down conversation are discarded.
func (e *Engine) mergeIfCurrent(gen uint64, src metrics.Source, batch ...chat.Message) (chat.Result, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.gen != gen || e.conv.Status != chat.StatusActive {
		return chat.Result{}, false
	}
	convID := e.conv.ID
	res := e.log.Apply(func(current []chat.Message) chat.Result {
		r := chat.Merge(current, batch)
		if r.Changed() || r.Errored > 0 {
			e.emit(Update{
				Kind:           UpdateMessages,
				ConversationID: convID,
				Messages:       cloneMessages(r.Messages),
				ScrollToLatest: r.Changed(),
			})
		}
		return r
	})
	e.metrics.ObserveMerge(src, res.Appended, res.Promoted, res.Dropped, len(res.Messages))
	return res, true
}

func cloneMessages(in []chat.Message) []chat.Message {
	out := make([]chat.Message, len(in))
	copy(out, in)
	return out
}

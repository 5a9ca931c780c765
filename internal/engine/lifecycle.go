package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/metrics"
	"github.com/chatwoot/supportsync/internal/store"
	"github.com/chatwoot/supportsync/internal/validation"
)

const (
	resetReasonUser     = "user"
	resetReasonNotFound = "not_found"
	resetReasonInvalid  = "invalid"
)

// Bootstrap resumes the stored conversation, if any.
//
// A missing identity leaves the engine in StatusNone. A conversation the
// server reports gone or closed is purged and ErrNotFound or ErrInvalid is
// returned. Any failure that is not a definitive answer from the server
// returns a TransientError and leaves both the status and the stored
// identity untouched. A TransientError alongside StatusActive means the
// history could not be loaded and the poller will backfill it.
func (e *Engine) Bootstrap(ctx context.Context) (chat.Status, error) {
	ctx, done := e.bind(ctx)
	defer done()

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.isClosed() {
		return e.Status(), ErrClosed
	}
	if st := e.Status(); st == chat.StatusActive {
		return st, nil
	}

	ident, err := e.store.Load(ctx)
	if errors.Is(err, store.ErrNoIdentity) {
		e.setIdle(chat.StatusNone)
		return chat.StatusNone, nil
	}
	if err != nil {
		return e.Status(), &TransientError{Op: "load stored conversation", Err: err}
	}

	logger := e.logger.With("component", "lifecycle", "conversation_id", ident.ConversationID)
	v, err := e.backend.VerifyConversation(ctx, ident.ConversationID)
	switch {
	case api.IsNotFoundError(err) || (err == nil && !v.Exists):
		logger.Info("stored conversation no longer exists")
		if err := e.deactivate(ctx, chat.StatusNonexistent, resetReasonNotFound); err != nil {
			logger.Warn("purge failed", "error", err)
		}
		return chat.StatusNonexistent, ErrNotFound
	case err != nil:
		return e.Status(), &TransientError{Op: "verify conversation", Err: err}
	case !v.IsValid():
		logger.Info("stored conversation is closed", "server_status", v.Status)
		if err := e.deactivate(ctx, chat.StatusInvalid, resetReasonInvalid); err != nil {
			logger.Warn("purge failed", "error", err)
		}
		return chat.StatusInvalid, ErrInvalid
	}

	gen := e.activate(ident)
	return e.startActive(ctx, gen, ident.ConversationID)
}

// Start opens a new conversation for info and makes it active. The identity
// is persisted before activation; if that fails nothing is activated.
func (e *Engine) Start(ctx context.Context, info UserInfo) (string, error) {
	if err := validation.ValidateName(info.Name); err != nil {
		return "", err
	}
	if err := validation.ValidateEmail(info.Email); err != nil {
		return "", err
	}

	ctx, done := e.bind(ctx)
	defer done()

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.isClosed() {
		return "", ErrClosed
	}
	if e.Status() == chat.StatusActive {
		return "", ErrAlreadyActive
	}

	id, err := e.backend.StartConversation(ctx, api.StartConversationRequest{Name: info.Name, Email: info.Email})
	if err != nil {
		return "", &TransientError{Op: "start conversation", Err: err}
	}
	ident := store.Identity{
		ConversationID: id,
		Name:           info.Name,
		Email:          info.Email,
		SavedAt:        e.now().UTC(),
	}
	if err := e.store.Save(ctx, ident); err != nil {
		return "", fmt.Errorf("persist conversation %s: %w", id, err)
	}

	gen := e.activate(ident)
	_, err = e.startActive(ctx, gen, id)
	return id, err
}

// Reset forgets the conversation: stored identity, message list, poller and
// push room. It is idempotent and always lands in StatusNone.
func (e *Engine) Reset(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.deactivate(ctx, chat.StatusNone, resetReasonUser)
}

// activate installs a new generation for ident. Caller holds lifeMu.
func (e *Engine) activate(ident store.Identity) uint64 {
	e.stateMu.Lock()
	if e.stopPoll != nil {
		e.stopPoll()
		e.stopPoll = nil
	}
	e.gen++
	gen := e.gen
	e.conv = chat.Conversation{ID: ident.ConversationID, Status: chat.StatusActive, LastSyncMarker: chat.Epoch}
	e.identity = ident
	e.log.Clear()
	e.stateMu.Unlock()

	e.emitStatus(chat.StatusActive, ident.ConversationID)
	return gen
}

// startActive loads history and starts both adapters. Caller holds lifeMu.
func (e *Engine) startActive(ctx context.Context, gen uint64, id string) (chat.Status, error) {
	logger := e.logger.With("component", "lifecycle", "conversation_id", id)

	var notice error
	list, err := e.backend.GetConversationMessages(ctx, id)
	switch {
	case api.IsNotFoundError(err):
		e.notFoundLocked(gen)
		return chat.StatusNonexistent, ErrNotFound
	case err != nil:
		notice = &TransientError{Op: "load history", Err: err}
		logger.Warn("history load failed, poller will backfill", "error", err)
		e.notify(notice)
	default:
		if list.Skipped > 0 {
			logger.Warn("skipped unrecognized history entries", "count", list.Skipped)
		}
		e.mergeIfCurrent(gen, metrics.SourceHistory, list.Messages...)
	}

	e.stateMu.Lock()
	if e.gen == gen {
		e.conv.LastSyncMarker = chat.NewestConfirmed(e.log.Snapshot())
	}
	e.stateMu.Unlock()

	e.startAdapters(gen, id)
	return chat.StatusActive, notice
}

// startAdapters launches the poller and joins the push room for gen.
func (e *Engine) startAdapters(gen uint64, id string) {
	pctx, cancel := context.WithCancel(e.ctx)
	e.stateMu.Lock()
	if e.gen != gen {
		e.stateMu.Unlock()
		cancel()
		return
	}
	e.stopPoll = cancel
	e.stateMu.Unlock()

	if !e.track(func() { e.poll(pctx, gen, id) }) {
		cancel()
		return
	}
	if e.push != nil {
		e.push.join(id)
	}
}

// deactivate tears the conversation down and records status. Caller holds
// lifeMu.
func (e *Engine) deactivate(ctx context.Context, status chat.Status, reason string) error {
	e.stateMu.Lock()
	e.gen++
	prev := e.conv.ID
	wasActive := e.conv.Status == chat.StatusActive
	e.conv = chat.Conversation{Status: status, LastSyncMarker: chat.Epoch}
	e.identity = store.Identity{}
	stop := e.stopPoll
	e.stopPoll = nil
	e.log.Clear()
	e.stateMu.Unlock()

	if stop != nil {
		stop()
	}
	if e.push != nil && prev != "" {
		e.push.leave(prev)
	}
	err := e.store.Clear(context.WithoutCancel(ctx))

	if wasActive || reason != resetReasonUser {
		e.metrics.Resets.WithLabelValues(reason).Inc()
	}
	e.metrics.Messages.Set(0)
	e.emit(Update{Kind: UpdateMessages, ConversationID: prev})
	e.emitStatus(status, prev)

	if err != nil {
		return fmt.Errorf("clear stored conversation: %w", err)
	}
	return nil
}

// setIdle records a non-active status without touching storage.
func (e *Engine) setIdle(status chat.Status) {
	e.stateMu.Lock()
	changed := e.conv.Status != status
	e.conv.Status = status
	e.stateMu.Unlock()
	if changed {
		e.emitStatus(status, "")
	}
}

// handleNotFound purges after a 404 seen by gen. Later generations are left
// alone, so a stale poller cannot reset a newer conversation.
func (e *Engine) handleNotFound(gen uint64) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.notFoundLocked(gen)
}

func (e *Engine) notFoundLocked(gen uint64) {
	if e.currentGen() != gen {
		return
	}
	if err := e.deactivate(context.Background(), chat.StatusNonexistent, resetReasonNotFound); err != nil {
		e.logger.Warn("purge after not found failed", "component", "lifecycle", "error", err)
	}
	e.notify(ErrNotFound)
}

// marker returns the poll lower bound for gen.
func (e *Engine) marker(gen uint64) (chat.Conversation, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.gen != gen || e.conv.Status != chat.StatusActive {
		return chat.Conversation{}, false
	}
	return e.conv, true
}

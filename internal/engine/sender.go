package engine

import (
	"context"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/metrics"
	"github.com/chatwoot/supportsync/internal/validation"
)

// Send shows text as a pending message right away and delivers it in the
// background. It returns the TempID of the pending entry. An empty sender
// name falls back to the conversation's stored identity.
func (e *Engine) Send(ctx context.Context, text string, sender chat.Sender) (string, error) {
	return e.send(ctx, text, sender, "")
}

// Retry re-sends a failed message under a fresh TempID. The failed entry
// stays visible until the retry is confirmed.
func (e *Engine) Retry(ctx context.Context, tempID string) (string, error) {
	m, ok := e.log.Find(tempID)
	if !ok || m.State != chat.StateErrored {
		return "", ErrUnknownMessage
	}
	return e.send(ctx, m.Text, m.Sender, m.TempID)
}

// Dismiss removes a failed message. Pending and confirmed entries stay.
func (e *Engine) Dismiss(tempID string) bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	convID := e.conv.ID
	var found bool
	e.log.Apply(func(current []chat.Message) chat.Result {
		var out []chat.Message
		out, found = chat.Dismiss(current, tempID)
		if found {
			e.emit(Update{Kind: UpdateMessages, ConversationID: convID, Messages: cloneMessages(out)})
		}
		return chat.Result{Messages: out}
	})
	if found {
		e.metrics.Messages.Set(float64(e.log.Len()))
	}
	return found
}

func (e *Engine) send(ctx context.Context, text string, sender chat.Sender, retryOf string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := validation.ValidateMessageText(text)
	if err != nil {
		return "", err
	}
	gen, convID, ident, ok := e.active()
	if !ok {
		return "", ErrNotActive
	}
	if sender.Name == "" {
		sender.Name = ident.Name
		sender.Email = ident.Email
	}
	sender.IsAdmin = false

	msg := chat.Message{
		TempID:         e.newTempID(),
		ConversationID: convID,
		Text:           text,
		Sender:         sender,
		Timestamp:      e.now().UTC(),
		State:          chat.StatePending,
		RetryOf:        retryOf,
	}
	if _, ok := e.mergeIfCurrent(gen, metrics.SourceSend, msg); !ok {
		return "", ErrNotActive
	}
	if !e.track(func() { e.deliver(gen, msg) }) {
		e.markErrored(gen, msg)
		return msg.TempID, ErrClosed
	}
	return msg.TempID, nil
}

// deliver posts msg and folds the outcome back through the merge.
func (e *Engine) deliver(gen uint64, msg chat.Message) {
	logger := e.logger.With("component", "send", "conversation_id", msg.ConversationID, "temp_id", msg.TempID)

	resp, err := e.backend.SendMessage(e.ctx, msg.ConversationID, api.SendMessageRequest{
		Text:   msg.Text,
		Sender: msg.Sender,
		TempID: msg.TempID,
	})
	if err != nil {
		if isNotFound(err) {
			e.metrics.Sends.WithLabelValues("not_found").Inc()
			logger.Warn("conversation gone while sending")
			e.handleNotFound(gen)
			return
		}
		e.metrics.Sends.WithLabelValues("failed").Inc()
		logger.Warn("send failed", "error", err)
		e.markErrored(gen, msg)
		e.notify(&TransientError{Op: "send message", Err: err})
		return
	}
	e.metrics.Sends.WithLabelValues("ok").Inc()

	confirmed := chat.Message{
		ID:             string(resp.ID),
		TempID:         resp.TempID,
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		Sender:         msg.Sender,
		Timestamp:      e.now().UTC(),
		State:          chat.StateConfirmed,
	}
	if ts, err := chat.ParseTimestamp(string(resp.Timestamp)); err == nil {
		confirmed.Timestamp = ts
	}
	if confirmed.ID == "" && confirmed.TempID == "" {
		// bare acknowledgement, promote by our own nonce
		confirmed.TempID = msg.TempID
	}
	e.mergeIfCurrent(gen, metrics.SourceSend, confirmed)
}

func (e *Engine) markErrored(gen uint64, msg chat.Message) {
	e.mergeIfCurrent(gen, metrics.SourceSend, chat.Message{
		TempID: msg.TempID,
		State:  chat.StateErrored,
	})
}

package engine

import "github.com/chatwoot/supportsync/internal/chat"

// UpdateKind tags an Update.
type UpdateKind int

const (
	UpdateMessages UpdateKind = iota
	UpdateStatus
	UpdateConnection
	UpdateNotice
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessages:
		return "messages"
	case UpdateStatus:
		return "status"
	case UpdateConnection:
		return "connection"
	case UpdateNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Update is one change observed by the presentation layer.
type Update struct {
	Kind           UpdateKind
	ConversationID string

	// UpdateMessages
	Messages       []chat.Message
	ScrollToLatest bool

	// UpdateStatus
	Status chat.Status

	// UpdateConnection
	Connection ConnectionStatus

	// UpdateNotice carries a dismissible error such as a TransientError.
	Notice error
}

// emit never blocks. A full buffer drops the update and counts it.
func (e *Engine) emit(u Update) {
	e.updMu.RLock()
	defer e.updMu.RUnlock()
	if e.updClosed {
		return
	}
	select {
	case e.updates <- u:
	default:
		e.metrics.DroppedUpdates.Inc()
	}
}

func (e *Engine) emitStatus(status chat.Status, convID string) {
	e.emit(Update{Kind: UpdateStatus, Status: status, ConversationID: convID})
}

func (e *Engine) notify(err error) {
	e.emit(Update{Kind: UpdateNotice, Notice: err})
}

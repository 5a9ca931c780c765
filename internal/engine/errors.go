package engine

import (
	"errors"
	"fmt"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/validation"
)

var (
	// ErrNotFound means the server reported the conversation gone. The engine
	// has already purged local state when this is returned.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalid means the conversation exists but was closed.
	ErrInvalid = errors.New("conversation is closed")

	ErrNotActive      = errors.New("no active conversation")
	ErrAlreadyActive  = errors.New("a conversation is already active")
	ErrUnknownMessage = errors.New("no failed message with that id")
	ErrClosed         = errors.New("engine is closed")
	ErrEmptyMessage   = validation.ErrEmptyMessage
)

// TransientError wraps a failure that left the conversation untouched. The
// next poll tick or a user retry is expected to recover.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// MalformedPayloadError describes a push payload that matched no known shape.
type MalformedPayloadError struct {
	Payload string
	Err     error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed push payload %s: %v", e.Payload, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

const maxPayloadPreview = 256

func newMalformedPayloadError(raw []byte, err error) *MalformedPayloadError {
	preview := string(raw)
	if len(preview) > maxPayloadPreview {
		preview = preview[:maxPayloadPreview] + "..."
	}
	return &MalformedPayloadError{Payload: preview, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || api.IsNotFoundError(err)
}

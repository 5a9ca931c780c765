package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a machine-readable failure class used for JSON errors and
// exit codes.
type ErrorCode string

const (
	// ErrConversationGone: the server no longer knows the conversation (HTTP 404).
	ErrConversationGone ErrorCode = "conversation_gone"
	// ErrConversationClosed: support closed the conversation.
	ErrConversationClosed ErrorCode = "conversation_closed"
	// ErrNoConversation: nothing is stored for the profile.
	ErrNoConversation ErrorCode = "no_conversation"
	// ErrConversationActive: a conversation is already running.
	ErrConversationActive ErrorCode = "conversation_active"
	// ErrRejected: the server refused the payload (HTTP 400, 409, 422).
	ErrRejected ErrorCode = "rejected"
	// ErrRefused: the server refused this client (HTTP 401, 403).
	ErrRefused ErrorCode = "refused"
	// ErrInvalidInput: a flag, setting or message failed local checks.
	ErrInvalidInput ErrorCode = "invalid_input"
	ErrRateLimited  ErrorCode = "rate_limited"
	ErrServerError  ErrorCode = "server_error"
	ErrTimeout      ErrorCode = "timeout"
	ErrCircuitOpen  ErrorCode = "circuit_open"
	ErrUnknown      ErrorCode = "unknown"
)

type codeInfo struct {
	retryable  bool
	suggestion string
}

var codes = map[ErrorCode]codeInfo{
	ErrConversationGone:   {suggestion: "Run 'supportsync start --name <name>' to open a new conversation"},
	ErrConversationClosed: {suggestion: "Run 'supportsync start --name <name>' to open a new conversation"},
	ErrNoConversation:     {suggestion: "Run 'supportsync start --name <name>' first"},
	ErrConversationActive: {suggestion: "Continue with 'supportsync chat', or 'supportsync reset' first"},
	ErrRejected:           {suggestion: "Check the message text and visitor details"},
	ErrRefused:            {suggestion: "Check that --base-url points at the right support workspace"},
	ErrRateLimited:        {retryable: true, suggestion: "Wait a moment and retry"},
	ErrServerError:        {retryable: true, suggestion: "The support server failed; try again later"},
	ErrTimeout:            {retryable: true, suggestion: "Check network connectivity and retry"},
	ErrCircuitOpen:        {retryable: true, suggestion: "Too many recent failures; wait before retrying"},
}

// IsRetryable reports whether running the same command again may succeed.
func (c ErrorCode) IsRetryable() bool { return codes[c].retryable }

// Suggestion is a short next step for the user, or "".
func (c ErrorCode) Suggestion() string { return codes[c].suggestion }

// CodeForStatus classifies an HTTP status from the support API.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == 404:
		return ErrConversationGone
	case status == 401 || status == 403:
		return ErrRefused
	case status == 400 || status == 409 || status == 422:
		return ErrRejected
	case status == 429:
		return ErrRateLimited
	case status >= 500 && status < 600:
		return ErrServerError
	}
	return ErrUnknown
}

// StructuredError is the JSON form of a failure.
type StructuredError struct {
	Code          ErrorCode      `json:"code"`
	Message       string         `json:"message"`
	Retryable     bool           `json:"retryable"`
	Suggestion    string         `json:"suggestion,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	AllowedValues []string       `json:"allowed_values,omitempty"`
}

func (e *StructuredError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewStructuredError fills retryable and suggestion from code.
func NewStructuredError(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:       code,
		Message:    message,
		Retryable:  code.IsRetryable(),
		Suggestion: code.Suggestion(),
	}
}

// NewChoiceError reports a value outside a fixed set, such as a store backend.
func NewChoiceError(field, got string, allowed []string, message string) *StructuredError {
	se := NewStructuredError(ErrInvalidInput, message)
	se.Suggestion = "Use one of: " + strings.Join(allowed, ", ")
	se.AllowedValues = allowed
	se.Context = map[string]any{"field": field, "got": got}
	return se
}

// StructuredErrorFromError classifies err. Errors it cannot place get
// ErrUnknown; nil stays nil.
func StructuredErrorFromError(err error) *StructuredError {
	if err == nil {
		return nil
	}
	var (
		se      *StructuredError
		apiErr  *APIError
		limited *RateLimitError
		tripped *CircuitBreakerError
	)
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &apiErr):
		out := NewStructuredError(CodeForStatus(apiErr.StatusCode), apiErr.Body)
		out.Context = map[string]any{"status_code": apiErr.StatusCode}
		if apiErr.RequestID != "" {
			out.Context["request_id"] = apiErr.RequestID
		}
		return out
	case errors.As(err, &limited):
		out := NewStructuredError(ErrRateLimited, limited.Error())
		out.Context = map[string]any{"retry_after": limited.RetryAfter.String()}
		return out
	case errors.As(err, &tripped):
		return NewStructuredError(ErrCircuitOpen, tripped.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return NewStructuredError(ErrTimeout, err.Error())
	}
	return NewStructuredError(ErrUnknown, err.Error())
}

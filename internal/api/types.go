package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chatwoot/supportsync/internal/chat"
)

// StartConversationRequest opens a new support conversation.
type StartConversationRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// StartConversationResponse carries the id of the created conversation.
type StartConversationResponse struct {
	ConversationID chat.FlexString `json:"conversationId"`
}

// Verification is the server's view of a stored conversation id. Valid is
// nil when the server omits it; callers treat that as valid when Exists.
type Verification struct {
	Exists bool   `json:"exists"`
	Valid  *bool  `json:"valid,omitempty"`
	Status string `json:"status,omitempty"`
}

// IsValid reports whether the conversation can be resumed.
func (v Verification) IsValid() bool {
	if !v.Exists {
		return false
	}
	return v.Valid == nil || *v.Valid
}

// SendMessageRequest posts one visitor message.
type SendMessageRequest struct {
	Text   string      `json:"text"`
	Sender chat.Sender `json:"sender"`
	TempID string      `json:"tempId,omitempty"`
}

// SendMessageResponse confirms a sent message. TempID is echoed by servers
// that support client nonces.
type SendMessageResponse struct {
	ID        chat.FlexString `json:"id"`
	Timestamp chat.FlexString `json:"timestamp"`
	TempID    string          `json:"tempId,omitempty"`
}

// MessageList is a decoded history or delta response. Skipped counts entries
// that matched no known message layout.
type MessageList struct {
	Messages []chat.Message
	Skipped  int
}

// decodeMessageList accepts a bare array or an object wrapping the array in
// "messages", "payload" or "data".
func decodeMessageList(body []byte, normalize func([]byte) (chat.Message, error)) (MessageList, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return MessageList{}, nil
	}

	var items []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return MessageList{}, fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	} else {
		var wrapped struct {
			Messages []json.RawMessage `json:"messages"`
			Payload  []json.RawMessage `json:"payload"`
			Data     []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return MessageList{}, fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
		switch {
		case wrapped.Messages != nil:
			items = wrapped.Messages
		case wrapped.Payload != nil:
			items = wrapped.Payload
		default:
			items = wrapped.Data
		}
	}

	out := MessageList{Messages: make([]chat.Message, 0, len(items))}
	for _, raw := range items {
		msg, err := normalize(raw)
		if err != nil {
			out.Skipped++
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

// Package chat holds the canonical support-conversation model and the
// reconciler that merges message batches from every delivery path.
package chat

import (
	"strconv"
	"time"
)

// State is the delivery state of a message.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateErrored   State = "errored"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	// StatusNone means no conversation is loaded. Reset always lands here.
	StatusNone Status = "none"
	// StatusActive is the only status in which adapters may run.
	StatusActive Status = "active"
	// StatusInvalid means the server reported the conversation closed.
	StatusInvalid Status = "invalid"
	// StatusNonexistent means the server reported the conversation gone.
	StatusNonexistent Status = "nonexistent"
)

// Sender identifies who wrote a message.
type Sender struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// Message is the canonical message shape shared by all adapters.
type Message struct {
	ID             string    `json:"id,omitempty"`
	TempID         string    `json:"tempId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	State          State     `json:"state"`
	// RetryOf names the errored TempID a retry supersedes.
	RetryOf string `json:"retryOf,omitempty"`
}

// Signature is the weak identity key used to match a pending message to its
// server confirmation and to collapse redundant deliveries.
func (m Message) Signature() string {
	return m.Text + "|" + m.Sender.Name + "|" + strconv.FormatBool(m.Sender.IsAdmin)
}

// IsPending reports whether the message awaits server confirmation.
func (m Message) IsPending() bool {
	return m.State == StatePending
}

// Conversation is the root entity owning the message list.
type Conversation struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	LastSyncMarker time.Time `json:"lastSyncMarker"`
}

// Epoch is the lower bound used for the first delta fetch when nothing is known.
var Epoch = time.Unix(0, 0).UTC()

// NewestConfirmed returns the newest confirmed timestamp, or Epoch.
func NewestConfirmed(messages []Message) time.Time {
	newest := Epoch
	for _, m := range messages {
		if m.State == StateConfirmed && m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}
	return newest
}

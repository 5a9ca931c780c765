// Package store persists the single conversation identity a client keeps
// between runs: the conversation id plus the visitor's name and email.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoIdentity is returned by Load when nothing is stored for the profile.
var ErrNoIdentity = errors.New("no stored conversation")

const defaultProfile = "default"

// Identity is the persisted client-local state.
type Identity struct {
	ConversationID string    `json:"conversationId"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	SavedAt        time.Time `json:"savedAt"`
}

// Store loads, saves and clears the identity for one profile.
type Store interface {
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
	Clear(ctx context.Context) error
}

// identityKey scopes an identity to a profile.
func identityKey(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = defaultProfile
	}
	return "identity:" + profile
}

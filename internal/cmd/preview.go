package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/dryrun"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/iocontext"
	"github.com/chatwoot/supportsync/internal/outfmt"
	"github.com/chatwoot/supportsync/internal/store"
	"github.com/chatwoot/supportsync/internal/validation"
)

// maybeDryRun prints preview when --dry-run is set and reports whether it did.
func maybeDryRun(cmd *cobra.Command, preview func(s *session, ident store.Identity, stored bool) (*dryrun.Preview, error)) (bool, error) {
	ctx := cmd.Context()
	if !dryrun.IsEnabled(ctx) {
		return false, nil
	}

	s, err := openSession(ctx, sessionOptions{offline: true})
	if err != nil {
		return true, err
	}
	defer func() { _ = s.Close() }()

	ident, stored, err := storedIdentity(ctx, s.store)
	if err != nil {
		return true, err
	}
	p, err := preview(s, ident, stored)
	if err != nil {
		return true, err
	}
	if s.cfg.BaseURL == "" {
		p.Warnings = append(p.Warnings, "no base URL configured; the real command would fail")
	}

	if outfmt.IsJSON(ctx) {
		return true, outfmt.WriteJSON(cmd.OutOrStdout(), p.Payload(), outfmt.IsCompact(ctx))
	}
	p.Write(iocontext.GetIO(ctx).Out)
	return true, nil
}

// storedIdentity reads the identity without asking the server about it.
func storedIdentity(ctx context.Context, st store.Store) (store.Identity, bool, error) {
	ident, err := st.Load(ctx)
	if errors.Is(err, store.ErrNoIdentity) {
		return store.Identity{}, false, nil
	}
	if err != nil {
		return store.Identity{}, false, err
	}
	return ident, true, nil
}

func previewStart(name, email string, replace bool) func(*session, store.Identity, bool) (*dryrun.Preview, error) {
	return func(s *session, ident store.Identity, stored bool) (*dryrun.Preview, error) {
		if err := validation.ValidateName(name); err != nil {
			return nil, err
		}
		if err := validation.ValidateEmail(email); err != nil {
			return nil, err
		}
		p := &dryrun.Preview{
			Operation: "start",
			Target:    "a conversation for profile " + s.cfg.Profile,
			Request:   "POST " + s.client.SupportURL("/conversations"),
			Details:   map[string]any{"name": name, "email": email},
		}
		switch {
		case stored && replace:
			p.Warnings = append(p.Warnings, fmt.Sprintf("conversation %s would be forgotten first", ident.ConversationID))
		case stored:
			p.Warnings = append(p.Warnings, fmt.Sprintf("profile already follows conversation %s; without --replace start fails if it is still active", ident.ConversationID))
		}
		return p, nil
	}
}

func previewSend(text string) func(*session, store.Identity, bool) (*dryrun.Preview, error) {
	return func(s *session, ident store.Identity, stored bool) (*dryrun.Preview, error) {
		text, err := validation.ValidateMessageText(text)
		if err != nil {
			return nil, err
		}
		if !stored {
			return nil, engine.ErrNotActive
		}
		return &dryrun.Preview{
			Operation:   "send",
			Target:      "a message to conversation " + ident.ConversationID,
			Description: "The message would show as sending until the server confirms it.",
			Request:     "POST " + s.client.SupportURL("/conversations/"+url.PathEscape(ident.ConversationID)+"/messages"),
			Details:     map[string]any{"text": text, "sender": visitorLabel(ident.Name, ident.Email)},
		}, nil
	}
}

func previewReset(s *session, ident store.Identity, stored bool) (*dryrun.Preview, error) {
	p := &dryrun.Preview{
		Operation: "reset",
		Target:    "profile " + s.cfg.Profile,
		Details:   map[string]any{"store": storeName(s.cfg.StoreBackend)},
	}
	if stored {
		p.Description = fmt.Sprintf("Conversation %s would be forgotten locally. The server keeps it.", ident.ConversationID)
	} else {
		p.Description = "Nothing is stored for this profile."
	}
	return p, nil
}

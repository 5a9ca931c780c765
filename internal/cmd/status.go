package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/outfmt"
	"github.com/chatwoot/supportsync/internal/store"
)

type statusView struct {
	Profile        string      `json:"profile"`
	Store          string      `json:"store"`
	Status         chat.Status `json:"status"`
	ConversationID string      `json:"conversationId,omitempty"`
	Name           string      `json:"name,omitempty"`
	Email          string      `json:"email,omitempty"`
	SavedAt        *time.Time  `json:"savedAt,omitempty"`
	Messages       int         `json:"messages"`
	Pending        int         `json:"pending"`
	Failed         int         `json:"failed"`
	Warning        string      `json:"warning,omitempty"`
	Server         string      `json:"server,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored conversation and whether the server still has it",
		Long: `Resume the stored conversation and report its status.

A conversation the server reports gone or closed is forgotten, and the
status shows nonexistent or invalid. Network failures leave it untouched.`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			var warning string
			status, err := s.bootstrap(ctx)
			if err != nil {
				if !engine.IsTransient(err) {
					return err
				}
				warning = err.Error()
			}

			view := buildStatusView(s, status, warning)
			if warning != "" {
				view.Server = probeServer(ctx, s.client)
			}
			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(view); handled {
				return err
			}

			f.Row("Profile", view.Profile)
			f.Row("Store", view.Store)
			f.Row("Status", string(view.Status))
			if view.ConversationID != "" {
				f.Row("Conversation", view.ConversationID)
				f.Row("Visitor", visitorLabel(view.Name, view.Email))
				f.Row("Messages", strconv.Itoa(view.Messages))
				if view.Failed > 0 {
					f.Row("Failed", strconv.Itoa(view.Failed))
				}
			}
			if err := f.EndTable(); err != nil {
				return err
			}
			if warning != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s (server %s)\n", warning, view.Server)
			}
			return nil
		}),
	}
}

func buildStatusView(s *session, status chat.Status, warning string) statusView {
	view := statusView{
		Profile: s.cfg.Profile,
		Store:   storeName(s.cfg.StoreBackend),
		Status:  status,
		Warning: warning,
	}
	if status != chat.StatusActive {
		return view
	}
	ident := s.engine.Identity()
	view.ConversationID = ident.ConversationID
	view.Name = ident.Name
	view.Email = ident.Email
	if !ident.SavedAt.IsZero() {
		saved := ident.SavedAt
		view.SavedAt = &saved
	}
	for _, m := range s.engine.Messages() {
		view.Messages++
		switch m.State {
		case chat.StatePending:
			view.Pending++
		case chat.StateErrored:
			view.Failed++
		}
	}
	return view
}

// probeServer reports "up" when the health endpoint answers, "down" otherwise.
func probeServer(ctx context.Context, client *api.Client) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if ok, err := client.HealthCheck(ctx); err == nil && ok {
		return "up"
	}
	return "down"
}

// storeName reports the backend store.Open picks for name.
func storeName(name string) string {
	if name == "" {
		return store.BackendKeyring
	}
	return name
}

func visitorLabel(name, email string) string {
	if email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

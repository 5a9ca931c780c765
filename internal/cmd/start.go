package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/outfmt"
)

type startView struct {
	ConversationID string      `json:"conversationId"`
	Status         chat.Status `json:"status"`
	Profile        string      `json:"profile"`
	Warning        string      `json:"warning,omitempty"`
}

func newStartCmd() *cobra.Command {
	var (
		name    string
		email   string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a new support conversation",
		Long: `Open a new conversation and remember it for this profile.

Fails when the profile already has an active conversation unless --replace
is given, which forgets the old one first.`,
		Example: `  supportsync start --name "Ana" --email ana@example.com
  supportsync start --name "Ana" --replace`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ok, err := maybeDryRun(cmd, previewStart(name, email, replace)); ok {
				return err
			}
			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if replace {
				if err := s.engine.Reset(ctx); err != nil {
					return err
				}
			} else if _, err := s.bootstrap(ctx); err != nil && s.engine.Status() != chat.StatusActive {
				return err
			}

			id, err := s.engine.Start(ctx, engine.UserInfo{Name: name, Email: email})
			view := startView{ConversationID: id, Status: s.engine.Status(), Profile: s.cfg.Profile}
			switch {
			case err == nil:
			case id != "" && engine.IsTransient(err):
				// started, but the first history load failed
				view.Warning = err.Error()
			default:
				return err
			}

			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(view); handled {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started conversation %s (profile %s)\n", id, s.cfg.Profile)
			if view.Warning != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", view.Warning)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Your display name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Your email address")
	cmd.Flags().BoolVar(&replace, "replace", false, "Forget the current conversation first")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// requireActive turns a non-active status into the matching error.
func requireActive(status chat.Status) error {
	switch status {
	case chat.StatusActive:
		return nil
	case chat.StatusNonexistent:
		return engine.ErrNotFound
	case chat.StatusInvalid:
		return engine.ErrInvalid
	default:
		return engine.ErrNotActive
	}
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/outfmt"
)

type transcriptView struct {
	ConversationID string         `json:"conversationId"`
	Status         chat.Status    `json:"status"`
	Messages       []chat.Message `json:"messages"`
}

// now is swapped by tests.
var now = time.Now

func newTranscriptCmd() *cobra.Command {
	var (
		since string
		limit int
	)
	cmd := &cobra.Command{
		Use:     "transcript",
		Aliases: []string{"history", "log"},
		Short:   "Print the conversation so far",
		Example: `  supportsync transcript
  supportsync transcript --since 2h -o json --jq '.messages[].text'`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			var lower time.Time
			if since != "" {
				t, err := parseSince(since, now())
				if err != nil {
					return err
				}
				lower = t
			}

			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			status, err := s.bootstrap(ctx)
			if err != nil {
				return err
			}
			if err := requireActive(status); err != nil {
				return err
			}

			messages := filterMessages(s.engine.Messages(), lower, limit)
			view := transcriptView{
				ConversationID: s.engine.Conversation().ID,
				Status:         status,
				Messages:       messages,
			}
			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(view); handled {
				return err
			}
			if len(messages) == 0 {
				f.Empty("No messages yet.")
				return nil
			}
			return writeMessages(cmd.OutOrStdout(), messages)
		}),
	}
	cmd.Flags().StringVar(&since, "since", "", "Only messages at or after this time (30m, 2h ago, yesterday, 2026-01-02, RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only the last N messages (0 = all)")
	return cmd
}

func filterMessages(messages []chat.Message, since time.Time, limit int) []chat.Message {
	out := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

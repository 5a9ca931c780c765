package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/outfmt"
)

var errSendFailed = errors.New("message was not delivered")

// deliveryCheckInterval backs up the update stream, which drops when full.
var deliveryCheckInterval = 200 * time.Millisecond

func newSendCmd() *cobra.Command {
	var (
		wait        bool
		waitTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message to the active conversation",
		Example: `  supportsync send "Hi, my order never arrived"
  supportsync send --wait=false "are you there?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				return engine.ErrEmptyMessage
			}
			if ok, err := maybeDryRun(cmd, previewSend(text)); ok {
				return err
			}

			s, err := openSession(ctx, sessionOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			status, err := s.bootstrap(ctx)
			if err != nil && status != chat.StatusActive {
				return err
			}
			if err := requireActive(status); err != nil {
				return err
			}

			tempID, err := s.engine.Send(ctx, text, chat.Sender{})
			if err != nil {
				return err
			}

			msg, ok := findByTempID(s.engine.Messages(), tempID)
			if wait {
				waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
				msg, err = waitForDelivery(waitCtx, s.engine, tempID)
				cancel()
				if err != nil {
					return err
				}
				ok = true
			}
			if !ok {
				return engine.ErrNotActive
			}

			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(msg); handled {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the server to confirm the message")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 30*time.Second, "How long --wait waits")
	return cmd
}

// waitForDelivery blocks until tempID is confirmed or fails. A failure
// returns the delivery error the engine reported.
func waitForDelivery(ctx context.Context, eng *engine.Engine, tempID string) (chat.Message, error) {
	ticker := time.NewTicker(deliveryCheckInterval)
	defer ticker.Stop()

	var notice error
	updates := eng.Updates()
	for {
		if m, ok := findByTempID(eng.Messages(), tempID); ok {
			switch m.State {
			case chat.StateConfirmed:
				return m, nil
			case chat.StateErrored:
				if notice != nil {
					return m, fmt.Errorf("%w: %w", errSendFailed, notice)
				}
				return m, errSendFailed
			}
		} else if err := requireActive(eng.Status()); err != nil {
			return chat.Message{}, err
		}

		select {
		case u, ok := <-updates:
			if !ok {
				return chat.Message{}, engine.ErrClosed
			}
			if u.Kind == engine.UpdateNotice && u.Notice != nil {
				notice = u.Notice
			}
		case <-ticker.C:
		case <-ctx.Done():
			return chat.Message{}, fmt.Errorf("waiting for confirmation: %w", ctx.Err())
		}
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/outfmt"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored conversation for this profile",
		Long: `Forget the stored conversation. The server keeps it; this profile just
stops following it. Safe to run when nothing is stored.`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ok, err := maybeDryRun(cmd, previewReset); ok {
				return err
			}
			s, err := openSession(ctx, sessionOptions{offline: true})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.engine.Reset(ctx); err != nil {
				return err
			}

			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(map[string]any{"profile": s.cfg.Profile, "status": s.engine.Status()}); handled {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Forgot the conversation for profile %s\n", s.cfg.Profile)
			return nil
		}),
	}
}

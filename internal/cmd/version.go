package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/outfmt"
	"github.com/chatwoot/supportsync/internal/update"
)

// version is set at build time via ldflags
var version = "dev"

type versionView struct {
	Version string         `json:"version"`
	Go      string         `json:"go"`
	Update  *update.Result `json:"update,omitempty"`
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			view := versionView{Version: version, Go: runtime.Version()}
			if check {
				res, err := update.Check(cmd.Context(), nil, version)
				if err != nil {
					return fmt.Errorf("update check: %w", err)
				}
				view.Update = &res
			}

			f := outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(view); handled {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "supportsync version %s\n", version)
			switch {
			case view.Update == nil:
			case view.Update.Available:
				_, _ = fmt.Fprintf(out, "Update available: %s -> %s\n", view.Update.Current, view.Update.Latest)
				_, _ = fmt.Fprintf(out, "Download: %s\n", view.Update.URL)
			default:
				_, _ = fmt.Fprintln(out, "This is the latest release.")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&check, "check", false, "Also look up the latest release")
	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/config"
	"github.com/chatwoot/supportsync/internal/debug"
	"github.com/chatwoot/supportsync/internal/dryrun"
	"github.com/chatwoot/supportsync/internal/iocontext"
	"github.com/chatwoot/supportsync/internal/outfmt"
	"github.com/chatwoot/supportsync/internal/validation"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Output       string
	BaseURL      string
	CableURL     string
	Profile      string
	Store        string
	StoreDir     string
	RedisURL     string
	PollInterval time.Duration
	Timeout      time.Duration
	Query        string
	Compact      bool
	Debug        bool
	Quiet        bool
	DryRun       bool
	AllowPrivate bool

	Max5xxRetries    int
	Max5xxRetriesSet bool
}

// flags holds the global command flags. It is reset at the start of every
// Execute call; tests rely on that for clean state.
var flags = defaultFlags()

func defaultFlags() rootFlags {
	return rootFlags{
		Output:       defaultOutput(),
		AllowPrivate: parseBoolEnv("SUPPORTSYNC_ALLOW_PRIVATE"),
		Debug:        debug.EnabledFromEnv(),
		Timeout:      api.DefaultTimeout,
	}
}

func defaultOutput() string {
	value := strings.TrimSpace(os.Getenv("SUPPORTSYNC_OUTPUT"))
	if value != "" {
		return value
	}
	return "text"
}

func parseBoolEnv(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

const rootLong = `supportsync keeps one visitor support conversation in sync with the
support server. Messages arrive by polling and, when the push endpoint is
reachable, over ActionCable; both paths are merged into one ordered,
de-duplicated transcript.

Configuration comes from SUPPORTSYNC_* environment variables, a .env file
(SUPPORTSYNC_ENV_FILE, ./.env or the user config dir) and the flags below.
Flags win over the environment.`

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	// Explicit exports always win over .env values.
	_ = config.LoadDotEnv(config.EnvFiles()...)

	flags = defaultFlags()

	root := &cobra.Command{
		Use:                "supportsync",
		Short:              "Visitor-side support chat that stays in sync",
		Long:               rootLong,
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableSuggestions: true, // enhanceUnknownError prints did-you-mean
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if flags.Query != "" && flags.Output == "text" {
				if flagOrAliasChanged(cmd, "output") {
					return fmt.Errorf("--jq requires --output json or jsonl")
				}
				flags.Output = "json"
			}
			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)
			ctx = outfmt.WithCompact(ctx, flags.Compact)
			if flags.Query != "" {
				ctx = outfmt.WithQuery(ctx, flags.Query)
			}

			streams := iocontext.GetIO(ctx)
			if flags.Quiet {
				streams = streams.Muted()
			}
			ctx = iocontext.WithIO(ctx, streams)
			cmd.SetOut(streams.Out)
			cmd.SetErr(streams.ErrOut)

			validation.SetAllowPrivate(flags.AllowPrivate)
			if flags.AllowPrivate && !flags.Quiet {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: allowing private/localhost URLs (use only with trusted targets).")
			}

			ctx = dryrun.WithDryRun(ctx, flags.DryRun)

			debug.SetupLogger(flags.Debug)
			ctx = debug.WithDebug(ctx, flags.Debug)

			flags.Max5xxRetriesSet = flagOrAliasChanged(cmd, "max-5xx-retries")
			if flags.Max5xxRetriesSet && flags.Max5xxRetries < 0 {
				return fmt.Errorf("--max-5xx-retries must be >= 0")
			}
			if flags.Timeout < 0 {
				return fmt.Errorf("--timeout must be >= 0")
			}

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	streams := iocontext.GetIO(ctx)
	root.SetOut(streams.Out)
	root.SetErr(streams.ErrOut)
	root.SetIn(streams.In)
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl|ndjson (env SUPPORTSYNC_OUTPUT)")
	pf.StringVar(&flags.BaseURL, "base-url", "", "Support API base URL (env SUPPORTSYNC_BASE_URL)")
	pf.StringVar(&flags.CableURL, "cable-url", "", "Push endpoint URL, derived from --base-url when empty (env SUPPORTSYNC_CABLE_URL)")
	pf.StringVar(&flags.Profile, "profile", "", "Identity profile name (env SUPPORTSYNC_PROFILE)")
	pf.StringVar(&flags.Store, "store", "", "Identity store: keyring|file|redis|memory (env SUPPORTSYNC_STORE)")
	pf.StringVar(&flags.StoreDir, "store-dir", "", "Directory for the file and keyring-file stores (env SUPPORTSYNC_STORE_DIR)")
	pf.StringVar(&flags.RedisURL, "redis-url", "", "Redis URL for the redis store (env SUPPORTSYNC_REDIS_URL)")
	pf.DurationVar(&flags.PollInterval, "poll-interval", 0, "Poll cadence, default 3s (env SUPPORTSYNC_POLL_INTERVAL)")
	pf.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "HTTP request timeout (e.g., 30s, 2m)")
	pf.IntVar(&flags.Max5xxRetries, "max-5xx-retries", 0, "Max retries for 5xx responses (overrides env)")
	pf.StringVar(&flags.Query, "jq", "", "JQ expression to filter JSON output")
	pf.BoolVar(&flags.Compact, "compact-json", false, "Compact JSON output (no indentation)")
	pf.BoolVar(&flags.Debug, "debug", flags.Debug, "Enable debug logging (env SUPPORTSYNC_DEBUG)")
	pf.BoolVarP(&flags.Quiet, "quiet", "Q", false, "Suppress non-essential output")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Preview start, send and reset without changing anything")
	pf.BoolVar(&flags.AllowPrivate, "allow-private", flags.AllowPrivate, "Allow private/localhost URLs (unsafe)")

	flagAlias(pf, "jq", "query")
	flagAlias(pf, "compact-json", "cj")
	flagAlias(pf, "output", "out")
	flagAlias(pf, "allow-private", "ap")
	flagAlias(pf, "dry-run", "dr")

	root.AddCommand(newStartCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newTranscriptCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newVersionCmd())

	targetCmd, err := root.ExecuteC()
	if err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), enhanceUnknownError(err, root, targetCmd))
		}
		return err
	}
	return nil
}

// enhanceUnknownError adds "did you mean?" suggestions to unknown command/flag errors.
func enhanceUnknownError(err error, root *cobra.Command, targetCmd *cobra.Command) string {
	msg := err.Error()

	if strings.Contains(msg, "unknown command") {
		if unknown := extractQuoted(msg); unknown != "" {
			var names []string
			for _, c := range root.Commands() {
				if c.IsAvailableCommand() || c.Name() == "help" {
					names = append(names, c.Name())
					names = append(names, c.Aliases...)
				}
			}
			if suggestion := suggestCommand(unknown, names); suggestion != "" {
				return fmt.Sprintf("%s\n\nDid you mean %q?", msg, suggestion)
			}
		}
	}

	if strings.Contains(msg, "unknown flag") || strings.Contains(msg, "unknown shorthand flag") {
		if unknown := extractFlag(msg); unknown != "" {
			seen := make(map[string]bool)
			var flagNames []string
			addFlags := func(fs *pflag.FlagSet) {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Hidden {
						return
					}
					name := "--" + f.Name
					if !seen[name] {
						seen[name] = true
						flagNames = append(flagNames, name)
					}
				})
			}
			cmd := targetCmd
			if cmd == nil {
				cmd = root
			}
			addFlags(cmd.Flags())
			addFlags(cmd.InheritedFlags())
			helpCmd := strings.TrimSpace(cmd.CommandPath()) + " --help"
			if suggestion := suggestFlag(unknown, flagNames); suggestion != "" {
				return fmt.Sprintf("%s\n\nDid you mean %q?\nRun %q to see supported flags.", msg, suggestion, helpCmd)
			}
			return fmt.Sprintf("%s\n\nRun %q to see supported flags.", msg, helpCmd)
		}
	}

	return msg
}

// extractQuoted extracts the first double-quoted substring from s.
func extractQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

// extractFlag extracts a flag name (e.g., "--foo") from an error message.
func extractFlag(s string) string {
	idx := strings.Index(s, "--")
	if idx < 0 {
		return ""
	}
	rest := s[idx:]
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(rest, ".,;:!?\"'")
}

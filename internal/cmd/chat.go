package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/iocontext"
	"github.com/chatwoot/supportsync/internal/outfmt"
)

// errQuit ends the chat loop without an error.
var errQuit = errors.New("quit")

var slashCommands = []string{"/help", "/status", "/retry", "/dismiss", "/reset", "/start", "/quit"}

const chatHelp = `Type a message and press Enter to send it.
  /retry [id]          resend a failed message (default: the latest)
  /dismiss [id]        drop a failed message
  /status              show conversation and connection state
  /reset               forget this conversation
  /start <name> [email] open a new conversation after a reset
  /quit                leave (Ctrl+D works too)
Start a line with // to send text that begins with a slash.`

type chatEvent struct {
	Type           string                  `json:"type"`
	ConversationID string                  `json:"conversationId,omitempty"`
	Message        *chat.Message           `json:"message,omitempty"`
	Status         chat.Status             `json:"status,omitempty"`
	Connection     engine.ConnectionStatus `json:"connection,omitempty"`
	Notice         string                  `json:"notice,omitempty"`
}

func newChatCmd() *cobra.Command {
	var (
		name         string
		email        string
		noPush       bool
		metricsAddr  string
		drainTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with support",
		Long: `Resume the stored conversation, or open one with --name, and stream it.

Messages you type appear at once and are confirmed in the background. Replies
arrive over the push connection when it is up and by polling regardless.
With -o json or jsonl every event is written as one JSON line.`,
		Example: `  supportsync chat
  supportsync chat --name "Ana" --email ana@example.com
  supportsync chat --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, sessionOptions{push: !noPush})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			status, err := s.bootstrap(ctx)
			if err != nil && status != chat.StatusActive {
				return err
			}
			c := newChatSession(ctx, cmd, s.engine)
			if err != nil {
				c.notice(err)
			}
			if status != chat.StatusActive {
				if name == "" {
					return requireActive(status)
				}
				if err := c.start(ctx, name, email); err != nil {
					return err
				}
			}

			if err := c.render(s.engine.Messages()); err != nil {
				return err
			}
			c.info(fmt.Sprintf("conversation %s, type /help for commands", s.engine.Conversation().ID))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return s.engine.Run(gctx) })
			g.Go(func() error { return c.pump(gctx) })
			g.Go(func() error {
				err := c.readInput(gctx, iocontext.GetIO(ctx).Lines(gctx))
				if errors.Is(err, errQuit) {
					c.drain(gctx, drainTimeout)
				}
				return err
			})
			if metricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, metricsAddr, s.engine.Metrics().Handler(), c.errOut)
				})
			}

			err = g.Wait()
			if errors.Is(err, errQuit) || (err != nil && ctx.Err() != nil) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Open a new conversation under this name when none is active")
	cmd.Flags().StringVar(&email, "email", "", "Email for a new conversation")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Poll only, do not open the push connection")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 10*time.Second, "On quit, how long to wait for messages still sending")
	return cmd
}

// chatSession renders engine updates and executes typed input.
type chatSession struct {
	eng    *engine.Engine
	f      *outfmt.Formatter
	r      *renderer
	json   bool
	errOut io.Writer
}

func newChatSession(ctx context.Context, cmd *cobra.Command, eng *engine.Engine) *chatSession {
	mu := new(sync.Mutex)
	out := lockedWriter{mu: mu, w: cmd.OutOrStdout()}
	errOut := lockedWriter{mu: mu, w: cmd.ErrOrStderr()}
	f := outfmt.NewFormatter(ctx, out, errOut)
	return &chatSession{
		eng:    eng,
		f:      f,
		r:      newRenderer(f),
		json:   outfmt.IsJSON(ctx),
		errOut: errOut,
	}
}

func (c *chatSession) render(messages []chat.Message) error { return c.r.render(messages) }

func (c *chatSession) info(line string) {
	if c.json {
		return
	}
	_, _ = fmt.Fprintf(c.errOut, "-- %s\n", line)
}

func (c *chatSession) notice(err error) {
	if c.json {
		_ = c.f.Event(chatEvent{Type: "notice", Notice: err.Error()}, "")
		return
	}
	_, _ = fmt.Fprintf(c.errOut, "!! %v\n", err)
}

// pump forwards engine updates until ctx ends or the engine closes.
func (c *chatSession) pump(ctx context.Context) error {
	updates := c.eng.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := c.apply(u); err != nil {
				return err
			}
		}
	}
}

func (c *chatSession) apply(u engine.Update) error {
	switch u.Kind {
	case engine.UpdateMessages:
		return c.render(u.Messages)
	case engine.UpdateStatus:
		if u.Status != chat.StatusActive {
			c.r.reset()
		}
		return c.f.Event(chatEvent{Type: "status", ConversationID: u.ConversationID, Status: u.Status}, statusLine(u.Status, u.ConversationID))
	case engine.UpdateConnection:
		if c.json {
			return c.f.Event(chatEvent{Type: "connection", Connection: u.Connection}, "")
		}
		c.info("push " + string(u.Connection))
	case engine.UpdateNotice:
		if u.Notice != nil {
			c.notice(u.Notice)
		}
	}
	return nil
}

func statusLine(status chat.Status, id string) string {
	switch status {
	case chat.StatusActive:
		return fmt.Sprintf("-- conversation %s is active", id)
	case chat.StatusNonexistent:
		return "-- the conversation no longer exists; /start <name> opens a new one"
	case chat.StatusInvalid:
		return "-- the conversation was closed; /start <name> opens a new one"
	default:
		return "-- no conversation; /start <name> opens one"
	}
}

// readInput handles lines until /quit, EOF or ctx ends. EOF and /quit
// both return errQuit.
func (c *chatSession) readInput(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := c.handleLine(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				c.notice(err)
			}
		}
	}
}

func (c *chatSession) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "//"):
		line = line[1:]
	case strings.HasPrefix(line, "/"):
		return c.command(ctx, line)
	}
	_, err := c.eng.Send(ctx, line, chat.Sender{})
	return err
}

func (c *chatSession) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help", "/?":
		if !c.json {
			_, _ = fmt.Fprintln(c.errOut, chatHelp)
		}
		return nil
	case "/status":
		conv := c.eng.Conversation()
		c.info(fmt.Sprintf("status %s, conversation %q, push %s, %d messages", conv.Status, conv.ID, c.eng.ConnectionStatus(), len(c.eng.Messages())))
		return nil
	case "/retry":
		m, err := c.failedMessage(args)
		if err != nil {
			return err
		}
		_, err = c.eng.Retry(ctx, m.TempID)
		return err
	case "/dismiss":
		m, err := c.failedMessage(args)
		if err != nil {
			return err
		}
		if !c.eng.Dismiss(m.TempID) {
			return engine.ErrUnknownMessage
		}
		c.r.forget(m)
		return nil
	case "/reset":
		return c.eng.Reset(ctx)
	case "/start":
		if len(args) == 0 {
			return fmt.Errorf("usage: /start <name> [email]")
		}
		var email string
		if n := len(args); n > 1 && strings.Contains(args[n-1], "@") {
			email = args[n-1]
			args = args[:n-1]
		}
		return c.start(ctx, strings.Join(args, " "), email)
	}
	if suggestion := suggestSlashCommand(name, slashCommands); suggestion != "" {
		return fmt.Errorf("unknown command %s, did you mean %s?", name, suggestion)
	}
	return fmt.Errorf("unknown command %s, type /help", name)
}

func (c *chatSession) start(ctx context.Context, name, email string) error {
	id, err := c.eng.Start(ctx, engine.UserInfo{Name: name, Email: email})
	if err != nil && (id == "" || !engine.IsTransient(err)) {
		return err
	}
	if err != nil {
		c.notice(err)
	}
	return nil
}

// failedMessage resolves an optional id argument to an errored message.
func (c *chatSession) failedMessage(args []string) (chat.Message, error) {
	messages := c.eng.Messages()
	var (
		m  chat.Message
		ok bool
	)
	if len(args) > 0 {
		m, ok = findByTempID(messages, args[0])
	} else {
		m, ok = lastErrored(messages)
	}
	if !ok || m.State != chat.StateErrored {
		return chat.Message{}, engine.ErrUnknownMessage
	}
	return m, nil
}

// drain waits for pending sends so piped input is delivered before exit.
func (c *chatSession) drain(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(deliveryCheckInterval)
	defer ticker.Stop()
	for {
		pending := 0
		for _, m := range c.eng.Messages() {
			if m.IsPending() {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			c.info(fmt.Sprintf("%d message(s) still sending", pending))
			return
		case <-ticker.C:
		}
	}
}

// serveMetrics exposes h on /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, h http.Handler, errOut io.Writer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	_, _ = fmt.Fprintf(errOut, "-- metrics on http://%s/metrics\n", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

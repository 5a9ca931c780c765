package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/chat"
	"github.com/chatwoot/supportsync/internal/config"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/store"
	"github.com/chatwoot/supportsync/internal/validation"
)

// session bundles the engine with the resources a command opened for it.
type session struct {
	cfg    config.Config
	client *api.Client
	store  store.Store
	engine *engine.Engine
}

type sessionOptions struct {
	// push enables the ActionCable adapter.
	push bool
	// offline skips the base URL requirement for commands that only touch
	// the identity store.
	offline bool
}

// newEngine is swapped by tests that need a fake backend or clock.
var newEngine = engine.New

func openSession(ctx context.Context, o sessionOptions) (*session, error) {
	cfg, err := config.Load(config.Overrides{
		BaseURL:      flags.BaseURL,
		CableURL:     flags.CableURL,
		Profile:      flags.Profile,
		StoreBackend: flags.Store,
		StoreDir:     flags.StoreDir,
		RedisURL:     flags.RedisURL,
		PollInterval: flags.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	if !o.offline {
		if err := cfg.RequireBaseURL(); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(ctx, store.Options{
		Backend:        cfg.StoreBackend,
		Profile:        cfg.Profile,
		Dir:            cfg.StoreDir,
		RedisURL:       cfg.RedisURL,
		KeyringBackend: cfg.KeyringBackend,
	})
	if err != nil {
		return nil, err
	}

	client := newClient(cfg.BaseURL)
	opts := engine.Options{
		Backend:      client.Support(),
		Store:        st,
		PollInterval: cfg.PollInterval,
		Logger:       slog.Default().With("profile", cfg.Profile),
	}
	if o.push {
		if err := validation.ValidateCableURL(cfg.CableURL); err != nil {
			closeStore(st)
			return nil, fmt.Errorf("cable URL: %w", err)
		}
		opts.CableURL = cfg.CableURL
	}

	eng, err := newEngine(opts)
	if err != nil {
		closeStore(st)
		return nil, err
	}
	return &session{cfg: cfg, client: client, store: st, engine: eng}, nil
}

func newClient(baseURL string) *api.Client {
	client := api.New(baseURL)
	if flags.Timeout > 0 {
		client.HTTP.Timeout = flags.Timeout
	}
	client.UserAgent = fmt.Sprintf("supportsync/%s", version)
	if flags.Max5xxRetriesSet {
		cfg := client.RetryConfig
		cfg.Max5xxRetries = flags.Max5xxRetries
		client.SetRetryConfig(cfg)
	}
	return client
}

// bootstrap resumes the stored conversation. Definitive server answers
// (gone, closed) are reported through the returned status, not as errors.
func (s *session) bootstrap(ctx context.Context) (chat.Status, error) {
	status, err := s.engine.Bootstrap(ctx)
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, engine.ErrInvalid) {
		return status, nil
	}
	return status, err
}

func (s *session) Close() error {
	err := s.engine.Close()
	closeStore(s.store)
	return err
}

func closeStore(st store.Store) {
	if c, ok := st.(io.Closer); ok {
		_ = c.Close()
	}
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendKeyring, BackendFile, BackendRedis, BackendMemory}

// Options selects and configures a backend.
type Options struct {
	Backend        string
	Profile        string
	Dir            string
	RedisURL       string
	KeyringBackend string
}

// UnknownBackendError is returned for a backend name Open does not know.
type UnknownBackendError struct {
	Name       string
	Suggestion string
}

func (e *UnknownBackendError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown store backend %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown store backend %q (valid: %s)", e.Name, strings.Join(Backends, ", "))
}

// Open returns the Store named by opts.Backend. An empty backend means keyring.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", BackendKeyring:
		return OpenKeyring(opts.Profile, opts.KeyringBackend, opts.Dir)
	case BackendFile:
		dir := opts.Dir
		if dir == "" {
			d, err := DefaultDir()
			if err != nil {
				return nil, fmt.Errorf("resolve store dir: %w", err)
			}
			dir = d
		}
		return NewFileStore(dir, opts.Profile), nil
	case BackendRedis:
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, fmt.Errorf("redis backend requires a redis URL")
		}
		return OpenRedis(ctx, opts.RedisURL, opts.Profile)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, &UnknownBackendError{Name: opts.Backend, Suggestion: suggestBackend(backend)}
	}
}

func suggestBackend(name string) string {
	if name == "" {
		return ""
	}
	matches := fuzzy.Find(name, Backends)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// Package config resolves runtime settings from the environment, an optional
// .env file, and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvBaseURL        = "SUPPORTSYNC_BASE_URL"
	EnvCableURL       = "SUPPORTSYNC_CABLE_URL"
	EnvProfile        = "SUPPORTSYNC_PROFILE"
	EnvStore          = "SUPPORTSYNC_STORE"
	EnvStoreDir       = "SUPPORTSYNC_STORE_DIR"
	EnvRedisURL       = "SUPPORTSYNC_REDIS_URL"
	EnvPollInterval   = "SUPPORTSYNC_POLL_INTERVAL"
	EnvKeyringBackend = "SUPPORTSYNC_KEYRING_BACKEND"
	EnvEnvFile        = "SUPPORTSYNC_ENV_FILE"

	DefaultPollInterval = 3 * time.Second
	DefaultProfile      = "default"

	minPollInterval = 100 * time.Millisecond
)

// ErrNotConfigured is returned when no base URL is set anywhere.
var ErrNotConfigured = errors.New("base URL not configured (set SUPPORTSYNC_BASE_URL or pass --base-url)")

// Config holds resolved settings.
type Config struct {
	BaseURL        string
	CableURL       string
	Profile        string
	StoreBackend   string
	StoreDir       string
	RedisURL       string
	KeyringBackend string
	PollInterval   time.Duration
}

// Overrides carries flag values. Empty fields leave the env value in place.
type Overrides struct {
	BaseURL      string
	CableURL     string
	Profile      string
	StoreBackend string
	StoreDir     string
	RedisURL     string
	PollInterval time.Duration
}

var userConfigDir = os.UserConfigDir

// EnvFiles returns the .env files that exist, most specific first.
// SUPPORTSYNC_ENV_FILE wins over ./.env, which wins over the user config dir.
func EnvFiles() []string {
	var candidates []string
	if p := strings.TrimSpace(os.Getenv(EnvEnvFile)); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, ".env")
	if dir, err := userConfigDir(); err == nil && dir != "" {
		candidates = append(candidates, filepath.Join(dir, "supportsync", ".env"))
	}

	var found []string
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			found = append(found, p)
		}
	}
	return found
}

// LoadDotEnv loads the given files into the process environment. Variables
// already set are never overwritten, and earlier files win over later ones.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load resolves settings from the environment and applies overrides.
func Load(o Overrides) (Config, error) {
	cfg := Config{
		BaseURL:        env(EnvBaseURL),
		CableURL:       env(EnvCableURL),
		Profile:        env(EnvProfile),
		StoreBackend:   env(EnvStore),
		StoreDir:       env(EnvStoreDir),
		RedisURL:       env(EnvRedisURL),
		KeyringBackend: env(EnvKeyringBackend),
		PollInterval:   DefaultPollInterval,
	}

	if raw := env(EnvPollInterval); raw != "" {
		d, err := parseInterval(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		cfg.PollInterval = d
	}

	override(&cfg.BaseURL, o.BaseURL)
	override(&cfg.CableURL, o.CableURL)
	override(&cfg.Profile, o.Profile)
	override(&cfg.StoreBackend, o.StoreBackend)
	override(&cfg.StoreDir, o.StoreDir)
	override(&cfg.RedisURL, o.RedisURL)
	if o.PollInterval > 0 {
		cfg.PollInterval = o.PollInterval
	}

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.PollInterval < minPollInterval {
		return Config{}, fmt.Errorf("poll interval %s is below the %s minimum", cfg.PollInterval, minPollInterval)
	}
	return cfg, nil
}

// RequireBaseURL checks the remote endpoints are known and fills CableURL
// from BaseURL when unset.
func (c *Config) RequireBaseURL() error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}
	if c.CableURL == "" {
		derived, err := DeriveCableURL(c.BaseURL)
		if err != nil {
			return err
		}
		c.CableURL = derived
	}
	return nil
}

// DeriveCableURL maps http(s)://host/... to ws(s)://host/cable.
func DeriveCableURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid base URL scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base URL: missing host")
	}
	u.Path = "/cable"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%g", &secs); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

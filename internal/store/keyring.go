package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "supportsync"

	envKeyringPassword = "SUPPORTSYNC_KEYRING_PASSWORD"

	KeyringBackendAuto   = "auto"
	KeyringBackendFile   = "file"
	KeyringBackendSystem = "system"
)

// openKeyring can be replaced in tests with an in-memory keyring.
var openKeyring = func(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

var userConfigDir = os.UserConfigDir

var stdinHasTTY = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// SetOpenKeyring replaces the keyring opener and returns a restore func.
func SetOpenKeyring(fn func(keyring.Config) (keyring.Keyring, error)) func() {
	original := openKeyring
	openKeyring = fn
	return func() { openKeyring = original }
}

// KeyringStore keeps the identity in the OS keychain or an encrypted file.
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyring opens the keyring for profile. backend is auto, file or system;
// dir overrides the encrypted-file directory.
func OpenKeyring(profile, backend, dir string) (*KeyringStore, error) {
	ring, err := openKeyring(keyringConfig(backend, dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStore(ring, profile), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring, profile string) *KeyringStore {
	return &KeyringStore{ring: ring, key: identityKey(profile)}
}

func (s *KeyringStore) Load(_ context.Context) (Identity, error) {
	item, err := s.ring.Get(s.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Identity{}, ErrNoIdentity
		}
		return Identity{}, fmt.Errorf("failed to get identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(item.Data, &id); err != nil {
		return Identity{}, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	if id.ConversationID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func (s *KeyringStore) Save(_ context.Context, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := s.ring.Set(keyring.Item{
		Key:   s.key,
		Data:  data,
		Label: serviceName + " conversation",
	}); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	if err := s.ring.Remove(s.key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove identity: %w", err)
	}
	return nil
}

func keyringConfig(backend, dir string) keyring.Config {
	cfg := keyring.Config{
		ServiceName: serviceName,
	}

	mode := keyringBackendMode(backend)
	if mode == KeyringBackendSystem {
		return cfg
	}

	// Auto mode still needs file details so keyring.Open can fall through
	// to encrypted file storage when no native backend exists.
	cfg.FileDir = keyringFileDir(dir)
	cfg.FilePasswordFunc = keyringFilePassword

	if shouldForceFileBackend(runtime.GOOS, mode, os.Getenv("DBUS_SESSION_BUS_ADDRESS")) {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}
	return cfg
}

func keyringBackendMode(backend string) string {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case KeyringBackendFile:
		return KeyringBackendFile
	case KeyringBackendSystem, "os", "native":
		return KeyringBackendSystem
	default:
		return KeyringBackendAuto
	}
}

// shouldForceFileBackend routes headless Linux straight to the file backend.
func shouldForceFileBackend(goos, mode, dbusAddr string) bool {
	if mode == KeyringBackendFile {
		return true
	}
	if mode != KeyringBackendAuto {
		return false
	}
	return goos == "linux" && strings.TrimSpace(dbusAddr) == ""
}

func keyringFileDir(dir string) string {
	base := strings.TrimSpace(dir)
	if base == "" {
		if d, err := userConfigDir(); err == nil && strings.TrimSpace(d) != "" {
			base = filepath.Join(d, serviceName)
		}
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), serviceName)
	}
	return filepath.Join(base, "keyring")
}

func keyringFilePassword(prompt string) (string, error) {
	if password, ok := os.LookupEnv(envKeyringPassword); ok && strings.TrimSpace(password) != "" {
		return password, nil
	}
	if !stdinHasTTY() {
		return "", fmt.Errorf("set %s when using file keyring in non-interactive environments", envKeyringPassword)
	}
	return keyring.TerminalPrompt(prompt)
}

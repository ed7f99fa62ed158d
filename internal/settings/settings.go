// Package settings persists the wallet's non-sensitive configuration in a
// plaintext JSON file readable while the wallet is locked.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/walletd/internal/fsutil"
)

// FileName is the plaintext settings document inside the data directory.
const FileName = "settings.json"

// DefaultAutoLockMinutes is the idle window before the wallet relocks.
const DefaultAutoLockMinutes = 15

// Otel configures trace export. No secrets: the auth header value is an
// operator-supplied opaque string for their collector, not wallet material.
type Otel struct {
	Enabled      bool   `json:"enabled"`
	Endpoint     string `json:"endpoint,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	AuthHeader   string `json:"auth_header,omitempty"`
	ExportTraces bool   `json:"export_traces"`
}

// Settings is the persisted document.
type Settings struct {
	Version         int  `json:"version"`
	AutoLockMinutes int  `json:"auto_lock_minutes"`
	Otel            Otel `json:"otel"`
}

// Default returns the settings written on first run.
func Default() Settings {
	return Settings{
		Version:         1,
		AutoLockMinutes: DefaultAutoLockMinutes,
		Otel: Otel{
			ServiceName:  "walletd",
			ExportTraces: true,
		},
	}
}

// AutoLockTimeout converts the configured minutes into a duration; zero
// disables auto-lock.
func (s Settings) AutoLockTimeout() time.Duration {
	if s.AutoLockMinutes <= 0 {
		return 0
	}
	return time.Duration(s.AutoLockMinutes) * time.Minute
}

// Manager reads and writes the settings file for one data directory.
type Manager struct {
	dir string
}

// NewManager binds a manager to the data directory.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) path() string {
	return filepath.Join(m.dir, FileName)
}

// Load returns the persisted settings, or defaults when no file exists yet.
func (m *Manager) Load() (Settings, error) {
	raw, err := os.ReadFile(m.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	return s, nil
}

// Save rewrites the settings document atomically.
func (m *Manager) Save(s Settings) error {
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return fsutil.WriteFileAtomic(m.path(), payload, 0o600)
}

// Reset removes the settings file so the next Load returns defaults.
func (m *Manager) Reset() error {
	if err := os.Remove(m.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove settings: %w", err)
	}
	return nil
}

// Package walletd holds the defaults and path resolution shared by the CLI
// and the MCP server: where the wallet lives, how the session token travels,
// and the listen defaults for the HTTP transport.
package walletd

import (
	"os"
	"path/filepath"
	"strings"
)

// Version is the build version reported in serverInfo and `walletd version`.
const Version = "0.1.0"

const (
	// EnvSessionToken supplies the session token to the headless server.
	EnvSessionToken = "WALLET_SESSION_TOKEN"
	// DefaultHTTPPort is the HTTP/SSE transport's default port.
	DefaultHTTPPort = 3000
	// DefaultHTTPHost keeps the HTTP transport loopback-only by default.
	DefaultHTTPHost = "127.0.0.1"
	// DefaultConfigFileName names a viper config file in the data directory.
	// No command reads this file.
	DefaultConfigFileName = "walletd.yaml"
)

// DefaultDataDir is the well-known per-user data directory holding
// wallet.json, session.json, and settings.json.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".walletd"), nil
}

// ResolveDataDir expands environment variables and a leading ~ in dir, or
// returns the default data directory when dir is empty.
func ResolveDataDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return DefaultDataDir()
	}
	dir = os.ExpandEnv(dir)
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(dir) == 1 {
			return home, nil
		}
		if dir[1] == '/' || dir[1] == '\\' {
			return filepath.Join(home, dir[2:]), nil
		}
	}
	return dir, nil
}

// Package session shares the master key between the desktop shell and the
// headless MCP server without either holding the passphrase.
//
// The shell creates a session: 32 random bytes become both the bearer token
// (hex-encoded, handed back exactly once) and the AEAD key sealing the master
// key on disk. The file stores only a hash of the token, so possession of the
// file alone recovers nothing; revocation is deleting the file.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/cryptoutil"
	"pkt.systems/walletd/internal/fsutil"
	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/svcfields"
)

// FileName is the session record inside the data directory.
const FileName = "session.json"

// DefaultTTL is how long a session authorises the server by default.
const DefaultTTL = 24 * time.Hour

// tokenSize is the raw token length; the hex transport form is twice that.
const tokenSize = 32

var (
	// ErrNoSession reports a missing session file.
	ErrNoSession = errors.New("session: no session")
	// ErrExpired reports a session past its expiry instant.
	ErrExpired = errors.New("session: expired")
	// ErrBadToken reports a token that does not match the stored hash.
	ErrBadToken = errors.New("session: bad token")
	// ErrCorrupted reports an unreadable session record.
	ErrCorrupted = errors.New("session: record corrupted")
)

// Manager owns the single session record for one data directory.
type Manager struct {
	dir    string
	logger pslog.Logger
	now    func() time.Time
}

// record is the persisted session.json shape.
type record struct {
	TokenHash       string    `json:"token_hash"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	SealedMasterKey []byte    `json:"sealed_master_key"`
}

// NewManager binds a manager to the data directory holding session.json.
func NewManager(dir string, logger pslog.Logger) *Manager {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Manager{
		dir:    dir,
		logger: svcfields.WithSubsystem(logger, "session"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) path() string {
	return filepath.Join(m.dir, FileName)
}

// Create seals masterKey under a fresh random token and replaces any prior
// session on disk. The hex token is returned exactly once; the record keeps
// only its hash. A non-positive ttl selects DefaultTTL.
func (m *Manager) Create(masterKey []byte, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw := make([]byte, tokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	defer secret.Zero(raw)

	// The raw token bytes are the 256-bit seal key; the hex form travels.
	sealed, err := cryptoutil.Seal(raw, masterKey)
	if err != nil {
		return "", fmt.Errorf("seal master key: %w", err)
	}
	hash := sha256.Sum256(raw)
	now := m.now()
	rec := record{
		TokenHash:       hex.EncodeToString(hash[:]),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		SealedMasterKey: sealed,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode session record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.path(), payload, 0o600); err != nil {
		return "", err
	}
	m.logger.Info("session created", "expires_at", rec.ExpiresAt)
	return hex.EncodeToString(raw), nil
}

// Resume validates the hex token against the stored record and recovers the
// master key into a sealed buffer the caller owns.
func (m *Manager) Resume(token string) (*secret.Buffer, error) {
	raw, err := hex.DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return nil, ErrBadToken
	}
	defer secret.Zero(raw)

	rec, err := m.read()
	if err != nil {
		return nil, err
	}
	storedHash, err := hex.DecodeString(rec.TokenHash)
	if err != nil {
		return nil, ErrCorrupted
	}
	hash := sha256.Sum256(raw)
	if !secret.ConstantTimeEqual(hash[:], storedHash) {
		return nil, ErrBadToken
	}
	if !m.now().Before(rec.ExpiresAt) {
		return nil, ErrExpired
	}

	masterKey, err := cryptoutil.Open(raw, rec.SealedMasterKey)
	switch {
	case errors.Is(err, cryptoutil.ErrAuthentication):
		return nil, ErrBadToken
	case errors.Is(err, cryptoutil.ErrMalformed):
		return nil, ErrCorrupted
	case err != nil:
		return nil, err
	}
	return secret.New(masterKey), nil
}

// Clear deletes the session record. Missing records are not an error; clear
// is called on every lock.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session record: %w", err)
	}
	return nil
}

// Status reports whether a session record exists and its validity window.
func (m *Manager) Status() (createdAt, expiresAt time.Time, exists bool, err error) {
	rec, err := m.read()
	if errors.Is(err, ErrNoSession) {
		return time.Time{}, time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return rec.CreatedAt, rec.ExpiresAt, true, nil
}

func (m *Manager) read() (*record, error) {
	raw, err := os.ReadFile(m.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if rec.TokenHash == "" || len(rec.SealedMasterKey) == 0 {
		return nil, fmt.Errorf("%w: missing fields", ErrCorrupted)
	}
	return &rec, nil
}

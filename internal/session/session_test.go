package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestCreateAndResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir, nil)

	token, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}

	key, err := m.Resume(token)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer key.Destroy()
	var got []byte
	key.Borrow(func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	})
	if !bytes.Equal(got, testMasterKey()) {
		t.Fatal("expected master key round-trip")
	}
}

func TestFileStoresOnlyHashAndMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir, nil)
	token, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("expected 0600, got %o", got)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte(token)) {
		t.Fatal("session file must not contain the plaintext token")
	}
	for _, field := range []string{"token_hash", "created_at", "expires_at", "sealed_master_key"} {
		if !bytes.Contains(raw, []byte(field)) {
			t.Fatalf("expected field %s in session record", field)
		}
	}
}

func TestResumeWrongToken(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	if _, err := m.Create(testMasterKey(), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	otherHex := strings.Repeat("a", 64)
	if _, err := m.Resume(otherHex); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken, got %v", err)
	}
	if _, err := m.Resume("not-hex"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for malformed token, got %v", err)
	}
}

func TestResumeNoSession(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	token := make([]byte, 64)
	for i := range token {
		token[i] = 'b'
	}
	if _, err := m.Resume(string(token)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestResumeExpired(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	m := NewManager(t.TempDir(), nil).WithNow(func() time.Time { return current })

	token, err := m.Create(testMasterKey(), time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	current = current.Add(2 * time.Hour)
	if _, err := m.Resume(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestCreateReplacesPriorSession(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	first, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := m.Resume(first); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected first token revoked, got %v", err)
	}
	if _, err := m.Resume(second); err != nil {
		t.Fatalf("expected second token valid, got %v", err)
	}
}

func TestClearRevokesEveryToken(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	token, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := m.Resume(token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
	// Clearing twice is fine.
	if err := m.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestCorruptedRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir, nil)
	token, err := m.Create(testMasterKey(), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{broken"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := m.Resume(token); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), nil)
	if _, _, exists, err := m.Status(); err != nil || exists {
		t.Fatalf("expected no session, got exists=%v err=%v", exists, err)
	}
	if _, err := m.Create(testMasterKey(), time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	created, expires, exists, err := m.Status()
	if err != nil || !exists {
		t.Fatalf("expected session, got exists=%v err=%v", exists, err)
	}
	if !expires.After(created) {
		t.Fatalf("expected expiry after creation, got %v / %v", created, expires)
	}
}

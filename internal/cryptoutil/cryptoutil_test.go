package cryptoutil

import (
	"bytes"
	"errors"
	"testing"
)

// Cheap parameters keep the KDF tests fast; production costs are exercised by
// DefaultKDFParams itself.
func testKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}
}

func testKey(t *testing.T, passphrase string) []byte {
	t.Helper()
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	key := DeriveKey([]byte(passphrase), salt, testKDFParams())
	var raw []byte
	if err := key.Borrow(func(b []byte) error {
		raw = append([]byte(nil), b...)
		return nil
	}); err != nil {
		t.Fatalf("borrow key: %v", err)
	}
	return raw
}

func TestDefaultKDFParams(t *testing.T) {
	t.Parallel()

	p := DefaultKDFParams()
	if p.Time != 3 || p.MemoryKiB != 64*1024 || p.Threads != 4 {
		t.Fatalf("unexpected default params: %+v", p)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	t.Parallel()

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	k1 := DeriveKey([]byte("hunter2aaa"), salt, testKDFParams())
	k2 := DeriveKey([]byte("hunter2aaa"), salt, testKDFParams())
	if !k1.Equal(k2) {
		t.Fatal("expected identical keys for identical passphrase and salt")
	}
	k3 := DeriveKey([]byte("wrong"), salt, testKDFParams())
	if k1.Equal(k3) {
		t.Fatal("expected different key for different passphrase")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	key := testKey(t, "hunter2aaa")
	plaintext := []byte("sk-proj-abc123xyz789")

	blob, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(blob) != NonceSize+TagSize+len(plaintext) {
		t.Fatalf("expected blob length %d, got %d", NonceSize+TagSize+len(plaintext), len(blob))
	}

	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	t.Parallel()

	blob, err := Seal(testKey(t, "correct"), []byte("secret data"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(testKey(t, "wrong"), blob); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestOpenTamperedBlobFails(t *testing.T) {
	t.Parallel()

	key := testKey(t, "hunter2aaa")
	blob, err := Seal(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	for _, offset := range []int{0, NonceSize, NonceSize + TagSize} {
		tampered := append([]byte(nil), blob...)
		tampered[offset] ^= 0xff
		if _, err := Open(key, tampered); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("offset %d: expected ErrAuthentication, got %v", offset, err)
		}
	}
}

func TestOpenShortBlobIsMalformed(t *testing.T) {
	t.Parallel()

	key := testKey(t, "hunter2aaa")
	for _, n := range []int{0, 1, NonceSize, NonceSize + TagSize - 1} {
		if _, err := Open(key, make([]byte, n)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("length %d: expected ErrMalformed, got %v", n, err)
		}
	}
	// Exactly nonce+tag is a valid encoding of an empty plaintext only when
	// the tag authenticates; a zero blob must fail authentication instead.
	if _, err := Open(key, make([]byte, NonceSize+TagSize)); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for zeroed minimum blob, got %v", err)
	}
}

func TestSealFreshNoncePerCall(t *testing.T) {
	t.Parallel()

	key := testKey(t, "hunter2aaa")
	b1, err := Seal(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b2, err := Seal(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(b1[:NonceSize], b2[:NonceSize]) {
		t.Fatal("expected distinct nonces")
	}
	if bytes.Equal(b1, b2) {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestBadKeySizeRejected(t *testing.T) {
	t.Parallel()

	if _, err := Seal(make([]byte, 16), []byte("x")); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
	if _, err := Open(make([]byte, 31), make([]byte, 64)); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
}

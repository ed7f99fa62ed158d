// Package secret holds sensitive byte material in sealed buffers that are
// wiped on destruction and cannot be accidentally logged or copied.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"sync"
)

// ErrDestroyed is returned when a buffer is borrowed after Destroy.
var ErrDestroyed = errors.New("secret: buffer destroyed")

// Buffer owns a region of sensitive bytes. The region is overwritten before
// release and the type deliberately has no accessor that leaks the backing
// slice: callers read through Borrow, which scopes the exposure to a single
// call frame.
type Buffer struct {
	mu        sync.Mutex
	b         []byte
	destroyed bool
}

// New copies b into a fresh sealed buffer and zeroes the source slice so the
// caller is not left holding a stray plaintext copy.
func New(b []byte) *Buffer {
	cp := make([]byte, len(b))
	copy(cp, b)
	Zero(b)
	return &Buffer{b: cp}
}

// FromString seals the bytes of s. The source string cannot be wiped; callers
// should pass ephemeral strings only.
func FromString(s string) *Buffer {
	return &Buffer{b: []byte(s)}
}

// Random returns a sealed buffer holding n cryptographically random bytes.
func Random(n int) (*Buffer, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		Zero(b)
		return nil, err
	}
	return &Buffer{b: b}, nil
}

// Borrow exposes the sealed bytes to fn for the duration of the call. The
// slice must not be retained or mutated past fn's return.
func (s *Buffer) Borrow(fn func(b []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	return fn(s.b)
}

// Len reports the length of the sealed region, 0 after Destroy.
func (s *Buffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0
	}
	return len(s.b)
}

// Destroy overwrites the region and marks the buffer unusable. Safe to call
// more than once.
func (s *Buffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.b)
	s.destroyed = true
}

// Destroyed reports whether the buffer has been wiped.
func (s *Buffer) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Equal compares two buffers in constant time.
func (s *Buffer) Equal(other *Buffer) bool {
	if s == nil || other == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	if s.destroyed || other.destroyed {
		return false
	}
	return subtle.ConstantTimeCompare(s.b, other.b) == 1
}

// String implements fmt.Stringer without revealing content.
func (s *Buffer) String() string { return "secret.Buffer(REDACTED)" }

// GoString implements fmt.GoStringer without revealing content.
func (s *Buffer) GoString() string { return s.String() }

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEqual compares a and b without early exit.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

package secret

import (
	"fmt"
	"testing"
)

func TestNewZeroesSource(t *testing.T) {
	t.Parallel()

	src := []byte("tok-ABC")
	buf := New(src)
	for i, b := range src {
		if b != 0 {
			t.Fatalf("expected source byte %d zeroed, got %x", i, b)
		}
	}
	if got := buf.Len(); got != 7 {
		t.Fatalf("expected len 7, got %d", got)
	}
}

func TestBorrowExposesBytes(t *testing.T) {
	t.Parallel()

	buf := FromString("hunter2aaa")
	var seen string
	err := buf.Borrow(func(b []byte) error {
		seen = string(b)
		return nil
	})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if seen != "hunter2aaa" {
		t.Fatalf("expected hunter2aaa, got %q", seen)
	}
}

func TestDestroyWipesRegion(t *testing.T) {
	t.Parallel()

	buf := FromString("sk-test-12345678")
	region := buf.b
	buf.Destroy()

	for i, b := range region {
		if b != 0 {
			t.Fatalf("expected byte %d wiped, got %x", i, b)
		}
	}
	if !buf.Destroyed() {
		t.Fatal("expected destroyed")
	}
	if err := buf.Borrow(func([]byte) error { return nil }); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
	if got := buf.Len(); got != 0 {
		t.Fatalf("expected len 0 after destroy, got %d", got)
	}
	// Double destroy must not panic.
	buf.Destroy()
}

func TestEqualConstantTime(t *testing.T) {
	t.Parallel()

	a := FromString("same")
	b := FromString("same")
	c := FromString("other")

	if !a.Equal(b) {
		t.Fatal("expected equal buffers")
	}
	if a.Equal(c) {
		t.Fatal("expected unequal buffers")
	}
	b.Destroy()
	if a.Equal(b) {
		t.Fatal("expected destroyed buffer to compare unequal")
	}
	if a.Equal(nil) {
		t.Fatal("expected nil comparison to be false")
	}
}

func TestStringRedacts(t *testing.T) {
	t.Parallel()

	buf := FromString("sk_live_abc123")
	for _, rendered := range []string{
		fmt.Sprintf("%s", buf),
		fmt.Sprintf("%v", buf),
		fmt.Sprintf("%#v", buf),
	} {
		if rendered != "secret.Buffer(REDACTED)" {
			t.Fatalf("expected redacted rendering, got %q", rendered)
		}
	}
}

func TestRandomLength(t *testing.T) {
	t.Parallel()

	buf, err := Random(32)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if got := buf.Len(); got != 32 {
		t.Fatalf("expected 32 bytes, got %d", got)
	}
}

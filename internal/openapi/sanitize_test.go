package openapi

import (
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"ping", "ping"},
		{"createCustomer", "createcustomer"},
		{"Customers.Create[v2]", "customers_create_v2_"},
		{"get_/users/{id}/posts", "get_users_id_posts"},
		{"__weird--name__", "weird_name_"},
		{"UPPER", "upper"},
		{"", "param"},
		{"!!!", "param"},
		{strings.Repeat("a", 100), strings.Repeat("a", 64)},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"Customers.Create[v2]", "get_/users/{id}", "a.b-c_d", strings.Repeat("x-", 50)}
	for _, in := range inputs {
		once := SanitizeName(in)
		twice := SanitizeName(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestSanitizeNameMatchesGrammar(t *testing.T) {
	t.Parallel()

	grammar := regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)
	inputs := []string{"ping", "Customers.Create[v2]", "_lead", "x", "ümlaut-Ops", strings.Repeat("b!", 60)}
	for _, in := range inputs {
		got := SanitizeName(in)
		if !grammar.MatchString(got) {
			t.Fatalf("SanitizeName(%q) = %q does not match grammar", in, got)
		}
	}
}

func TestNameTableCollisionSuffix(t *testing.T) {
	t.Parallel()

	table := newNameTable()
	first := table.claim("same", "originalA")
	second := table.claim("same", "originalB")

	if first != "same" {
		t.Fatalf("expected first claim unchanged, got %q", first)
	}
	if second == first {
		t.Fatal("expected collision to produce a distinct name")
	}
	if !strings.HasPrefix(second, "same_") || len(second) != len("same_")+4 {
		t.Fatalf("expected 4-hex suffix, got %q", second)
	}
	// Stable: the same original always maps to the same suffix.
	if again := shortHash("originalB"); !strings.HasSuffix(second, again) {
		t.Fatalf("expected suffix %q in %q", again, second)
	}
}

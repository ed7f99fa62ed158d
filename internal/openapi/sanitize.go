package openapi

import (
	"fmt"
	"hash/fnv"
	"strings"
)

const maxNameLen = 64

// SanitizeName maps an arbitrary identifier onto the MCP identifier grammar:
// lowercase, every character outside [a-z0-9] (underscore, dot and hyphen
// included) treated as a separator, runs of separators collapsed to a single
// underscore, leading separators dropped and a trailing one kept as "_", an
// empty result replaced by "param", truncated to 64 characters. The mapping
// is deterministic and idempotent.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		// Everything else, underscores included, separates.
		pendingSep = true
	}
	out := b.String()
	// A trailing separator survives so names like create[v2] keep their
	// terminal underscore across runs.
	if pendingSep && out != "" {
		out += "_"
	}
	if out == "" {
		out = "param"
	}
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

// nameTable allocates sanitised names, appending a stable 4-hex-digit hash of
// the original when a name is already taken.
type nameTable struct {
	used map[string]bool
}

func newNameTable() *nameTable {
	return &nameTable{used: make(map[string]bool)}
}

func (t *nameTable) claim(sanitised, original string) string {
	if !t.used[sanitised] {
		t.used[sanitised] = true
		return sanitised
	}
	suffix := shortHash(original)
	base := sanitised
	if len(base)+1+len(suffix) > maxNameLen {
		base = base[:maxNameLen-1-len(suffix)]
	}
	out := base + "_" + suffix
	t.used[out] = true
	return out
}

func shortHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%04x", h.Sum32()&0xffff)
}

package openapi

import (
	"fmt"
	"strings"
)

// maxResolveDepth bounds $ref chasing and schema nesting; circular documents
// degrade to Any placeholders instead of failing.
const maxResolveDepth = 16

// resolver converts raw schema maps into SchemaNode trees, inlining local
// $ref pointers against components.schemas.
type resolver struct {
	schemas  map[string]any
	warnings []string
}

func newResolver(schemas map[string]any) *resolver {
	return &resolver{schemas: schemas}
}

func (r *resolver) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// convert shapes one raw schema value into a tagged node.
func (r *resolver) convert(raw any, depth int) *SchemaNode {
	if depth > maxResolveDepth {
		r.warnf("schema nesting exceeds depth %d, emitting any", maxResolveDepth)
		return AnyNode()
	}
	m, ok := asMap(raw)
	if !ok {
		return AnyNode()
	}

	if ref, ok := m["$ref"].(string); ok {
		resolved, ok := r.deref(ref)
		if !ok {
			return AnyNode()
		}
		return r.convert(resolved, depth+1)
	}

	node := &SchemaNode{Description: asString(m["description"])}

	if enum, ok := m["enum"].([]any); ok && len(enum) > 0 {
		node.Kind = KindEnum
		node.Enum = enum
		return node
	}

	typ := asString(m["type"])
	switch {
	case typ == "object" || m["properties"] != nil:
		node.Kind = KindObject
		if props, ok := asMap(m["properties"]); ok {
			node.Properties = make(map[string]*SchemaNode, len(props))
			for name, sub := range props {
				node.Properties[name] = r.convert(sub, depth+1)
			}
		}
		node.Required = asStringSlice(m["required"])
		return node
	case typ == "array" || m["items"] != nil:
		node.Kind = KindArray
		if m["items"] != nil {
			node.Items = r.convert(m["items"], depth+1)
		} else {
			node.Items = AnyNode()
		}
		return node
	case typ == "string", typ == "number", typ == "integer", typ == "boolean":
		node.Kind = KindScalar
		node.Scalar = typ
		return node
	}

	// Compositions: union the object members, anything else degrades.
	for _, key := range []string{"allOf", "oneOf", "anyOf"} {
		variants, ok := m[key].([]any)
		if !ok || len(variants) == 0 {
			continue
		}
		merged := &SchemaNode{Kind: KindObject, Description: node.Description}
		for _, variant := range variants {
			sub := r.convert(variant, depth+1)
			if sub.Kind != KindObject {
				r.warnf("non-object %s member degrades to any", key)
				return AnyNode()
			}
			if merged.Properties == nil {
				merged.Properties = make(map[string]*SchemaNode)
			}
			for name, prop := range sub.Properties {
				if _, exists := merged.Properties[name]; !exists {
					merged.Properties[name] = prop
				}
			}
			for _, req := range sub.Required {
				if !contains(merged.Required, req) {
					merged.Required = append(merged.Required, req)
				}
			}
		}
		return merged
	}

	node.Kind = KindAny
	return node
}

// deref follows a local component pointer. External references are not
// followed; the caller gets an Any placeholder and a warning.
func (r *resolver) deref(ref string) (any, bool) {
	const prefix = "#/components/schemas/"
	if !strings.HasPrefix(ref, "#") {
		r.warnf("external reference %q rejected", ref)
		return nil, false
	}
	if !strings.HasPrefix(ref, prefix) {
		r.warnf("unsupported reference %q, emitting any", ref)
		return nil, false
	}
	name := strings.TrimPrefix(ref, prefix)
	target, ok := r.schemas[name]
	if !ok {
		r.warnf("reference %q does not resolve, emitting any", ref)
		return nil, false
	}
	return target, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"

	"pkt.systems/walletd/internal/openapi"
)

// toJSONSchema re-serialises a stored schema node as the JSON Schema MCP
// clients consume. The tagged form is authoritative: nothing from the source
// document passes through unconverted.
func toJSONSchema(node *openapi.SchemaNode) *jsonschema.Schema {
	if node == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	out := &jsonschema.Schema{Description: node.Description}
	switch node.Kind {
	case openapi.KindObject:
		out.Type = "object"
		if len(node.Properties) > 0 {
			out.Properties = make(map[string]*jsonschema.Schema, len(node.Properties))
			for name, sub := range node.Properties {
				out.Properties[name] = toJSONSchema(sub)
			}
		} else {
			out.Properties = map[string]*jsonschema.Schema{}
		}
		if len(node.Required) > 0 {
			out.Required = append([]string(nil), node.Required...)
		}
	case openapi.KindArray:
		out.Type = "array"
		out.Items = toJSONSchema(node.Items)
	case openapi.KindScalar:
		out.Type = node.Scalar
	case openapi.KindEnum:
		out.Enum = append([]any(nil), node.Enum...)
	default:
		// Any: no constraints.
	}
	return out
}

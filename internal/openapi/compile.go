package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/svcfields"
)

// ErrBadSpec reports a document that cannot be parsed or is semantically
// unusable.
var ErrBadSpec = errors.New("openapi: bad spec")

// DefaultFetchTimeout bounds remote spec downloads.
const DefaultFetchTimeout = 30 * time.Second

// maxSpecBytes caps how much of a spec document is read.
const maxSpecBytes = 32 << 20

// Compiler turns OpenAPI 3.x documents into operation descriptors.
type Compiler struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     pslog.Logger
}

// CompileRequest names the document and the integration it compiles into.
type CompileRequest struct {
	IntegrationKey string
	// Source is a http(s) URL or a local file path. Ignored when Document is
	// set.
	Source string
	// Document supplies the raw spec bytes directly.
	Document []byte
	// ServerURL overrides the document's servers[0].url.
	ServerURL string
}

// Compile fetches, parses, and flattens one document.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (*CompiledSpec, error) {
	logger := svcfields.WithSubsystem(c.logger(), "openapi.compile")

	doc := req.Document
	if doc == nil {
		var err error
		doc, err = c.fetch(ctx, req.Source)
		if err != nil {
			return nil, err
		}
	}

	raw, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(raw.OpenAPI, "3.") {
		return nil, fmt.Errorf("%w: unsupported openapi version %q", ErrBadSpec, raw.OpenAPI)
	}

	serverURL := strings.TrimSpace(req.ServerURL)
	if serverURL == "" && len(raw.Servers) > 0 {
		serverURL = strings.TrimSpace(raw.Servers[0].URL)
	}

	var schemes map[string]rawSecurityScheme
	var componentSchemas map[string]any
	var componentParams map[string]rawParameter
	if raw.Components != nil {
		schemes = raw.Components.SecuritySchemes
		componentSchemas = raw.Components.Schemas
		componentParams = raw.Components.Parameters
	}
	auth := detectAuth(schemes, raw.Security)
	res := newResolver(componentSchemas)

	compiled := &CompiledSpec{
		Title:       raw.Info.Title,
		Description: raw.Info.Description,
		ServerURL:   serverURL,
		Auth:        auth,
	}

	paths := make([]string, 0, len(raw.Paths))
	for path := range raw.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	names := newNameTable()
	for _, path := range paths {
		item := raw.Paths[path]
		for _, entry := range []struct {
			method string
			op     *rawOperation
		}{
			{http.MethodGet, item.Get},
			{http.MethodPost, item.Post},
			{http.MethodPut, item.Put},
			{http.MethodDelete, item.Delete},
			{http.MethodPatch, item.Patch},
		} {
			if entry.op == nil {
				continue
			}
			op := compileOperation(req.IntegrationKey, path, entry.method, entry.op, item.Parameters, componentParams, res, names)
			op.BaseURL = serverURL
			op.Auth = auth
			compiled.Operations = append(compiled.Operations, op)
		}
	}
	compiled.Warnings = res.warnings

	logger.Debug("compiled spec",
		"title", compiled.Title,
		"operations", len(compiled.Operations),
		"warnings", len(compiled.Warnings),
		"auth", string(auth.Scheme),
	)
	return compiled, nil
}

func (c *Compiler) logger() pslog.Logger {
	if c.Logger == nil {
		return pslog.NoopLogger()
	}
	return c.Logger
}

func (c *Compiler) fetch(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrBadSpec)
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultFetchTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSpec, err)
		}
		req.Header.Set("Accept", "application/json, application/yaml, text/yaml")

		client := c.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrBadSpec, source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: fetch %s: HTTP %d", ErrBadSpec, source, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrBadSpec, source, err)
		}
		return body, nil
	}
	body, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrBadSpec, source, err)
	}
	return body, nil
}

func parseDocument(doc []byte) (*rawDocument, error) {
	var raw rawDocument
	if strings.HasPrefix(strings.TrimSpace(string(doc)), "{") {
		if err := json.Unmarshal(doc, &raw); err != nil {
			return nil, fmt.Errorf("%w: parse json: %v", ErrBadSpec, err)
		}
		return &raw, nil
	}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrBadSpec, err)
	}
	return &raw, nil
}

// headers the vault injects itself; never surfaced as tool inputs.
var injectedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

func compileOperation(
	key, path, method string,
	op *rawOperation,
	pathParams []rawParameter,
	componentParams map[string]rawParameter,
	res *resolver,
	names *nameTable,
) Operation {
	rawName := op.OperationID
	if strings.TrimSpace(rawName) == "" {
		rawName = strings.ToLower(method) + "_" + path
	}
	full := key + "_" + SanitizeName(rawName)
	if len(full) > maxNameLen {
		full = full[:maxNameLen]
	}
	toolName := names.claim(full, key+"_"+rawName)

	out := Operation{
		ToolName:     toolName,
		Method:       method,
		PathTemplate: path,
		Summary:      op.Summary,
		Description:  op.Description,
		Deprecated:   op.Deprecated,
	}

	// Operation-level parameters override path-level ones of the same name.
	merged := make([]rawParameter, 0, len(pathParams)+len(op.Parameters))
	merged = append(merged, pathParams...)
	for _, p := range op.Parameters {
		p = resolveParameter(p, componentParams)
		replaced := false
		for i := range merged {
			if merged[i].Name == p.Name && merged[i].In == p.In {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}

	argKeys := newNameTable()
	for _, p := range merged {
		p = resolveParameter(p, componentParams)
		var loc Location
		switch p.In {
		case "path":
			loc = InPath
		case "query":
			loc = InQuery
		case "header":
			if injectedHeaders[strings.ToLower(p.Name)] {
				continue
			}
			loc = InHeader
		default:
			continue
		}
		param := Parameter{
			Name:        p.Name,
			ArgKey:      argKeys.claim(SanitizeName(p.Name), p.Name),
			Location:    loc,
			Required:    p.Required || loc == InPath,
			Description: p.Description,
		}
		if p.Schema != nil {
			param.Schema = res.convert(p.Schema, 0)
		}
		out.Parameters = append(out.Parameters, param)
	}

	if body := op.RequestBody; body != nil {
		if media, ok := pickMedia(body.Content); ok {
			param := Parameter{
				Name:     "body",
				ArgKey:   argKeys.claim("body", "body"),
				Location: InBody,
				Required: body.Required,
				Schema:   res.convert(media.Schema, 0),
			}
			if param.Schema == nil {
				param.Schema = AnyNode()
			}
			out.Parameters = append(out.Parameters, param)
		}
	}

	out.InputSchema = buildInputSchema(out.Parameters)
	return out
}

func resolveParameter(p rawParameter, componentParams map[string]rawParameter) rawParameter {
	const prefix = "#/components/parameters/"
	if p.Ref == "" {
		return p
	}
	if strings.HasPrefix(p.Ref, prefix) {
		if resolved, ok := componentParams[strings.TrimPrefix(p.Ref, prefix)]; ok {
			return resolved
		}
	}
	return p
}

// pickMedia prefers application/json, then any json variant, then the first
// content type in name order.
func pickMedia(content map[string]rawMedia) (rawMedia, bool) {
	if len(content) == 0 {
		return rawMedia{}, false
	}
	if media, ok := content["application/json"]; ok {
		return media, true
	}
	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	for _, ct := range types {
		if strings.Contains(ct, "json") {
			return content[ct], true
		}
	}
	return content[types[0]], true
}

func buildInputSchema(params []Parameter) *SchemaNode {
	schema := &SchemaNode{
		Kind:       KindObject,
		Properties: map[string]*SchemaNode{},
	}
	for _, param := range params {
		node := param.Schema
		if node == nil {
			node = &SchemaNode{Kind: KindScalar, Scalar: "string"}
		} else {
			cp := *node
			node = &cp
		}
		if hint := locationHint(param.Location); hint != "" {
			node.Description = strings.TrimSpace(param.Description + " " + hint)
		}
		schema.Properties[param.ArgKey] = node
		if param.Required {
			schema.Required = append(schema.Required, param.ArgKey)
		}
	}
	sort.Strings(schema.Required)
	return schema
}

func locationHint(loc Location) string {
	switch loc {
	case InPath:
		return "(path parameter)"
	case InQuery:
		return "(query parameter)"
	case InHeader:
		return "(header)"
	case InBody:
		return "(request body)"
	}
	return ""
}

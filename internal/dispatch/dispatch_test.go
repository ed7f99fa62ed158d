package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/walletd/internal/openapi"
	"pkt.systems/walletd/internal/secret"
)

type captured struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

func capturingServer(t *testing.T, status int, respond string) (*httptest.Server, *captured) {
	t.Helper()
	cap := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.method = r.Method
		cap.path = r.URL.Path
		cap.query = r.URL.RawQuery
		cap.header = r.Header.Clone()
		body := make([]byte, 1<<16)
		n, _ := r.Body.Read(body)
		cap.body = body[:n]
		w.WriteHeader(status)
		w.Write([]byte(respond))
	}))
	t.Cleanup(srv.Close)
	return srv, cap
}

func pingOp(base string) openapi.Operation {
	return openapi.Operation{
		ToolName:     "demo_ping",
		Method:       http.MethodGet,
		BaseURL:      base,
		PathTemplate: "/ping",
		InputSchema:  &openapi.SchemaNode{Kind: openapi.KindObject},
		Auth:         openapi.AuthSpec{Scheme: openapi.AuthBearer},
	}
}

func TestExecuteBearerPing(t *testing.T) {
	t.Parallel()

	srv, cap := capturingServer(t, http.StatusOK, `{"pong":true}`)
	d := New(Options{})

	cred := secret.FromString("tok-ABC")
	result, err := d.Execute(context.Background(), pingOp(srv.URL+"/v1"), nil, cred)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.OK() || string(result.Body) != `{"pong":true}` {
		t.Fatalf("unexpected result: %+v", result)
	}
	if cap.method != http.MethodGet || cap.path != "/v1/ping" {
		t.Fatalf("expected GET /v1/ping, got %s %s", cap.method, cap.path)
	}
	if got := cap.header.Get("Authorization"); got != "Bearer tok-ABC" {
		t.Fatalf("expected bearer header, got %q", got)
	}
	if !cred.Destroyed() {
		t.Fatal("expected credential zeroed after dispatch")
	}
}

func TestExecutePathParams(t *testing.T) {
	t.Parallel()

	srv, cap := capturingServer(t, http.StatusOK, `{}`)
	d := New(Options{})

	op := openapi.Operation{
		ToolName:     "demo_getuser",
		Method:       http.MethodGet,
		BaseURL:      srv.URL,
		PathTemplate: "/users/{id}",
		Parameters: []openapi.Parameter{
			{Name: "id", ArgKey: "id", Location: openapi.InPath, Required: true},
		},
		Auth: openapi.AuthSpec{Scheme: openapi.AuthNone},
	}

	if _, err := d.Execute(context.Background(), op, map[string]any{"id": "42"}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cap.path != "/users/42" {
		t.Fatalf("expected /users/42, got %q", cap.path)
	}

	// Missing required path parameter.
	_, err := d.Execute(context.Background(), op, map[string]any{}, nil)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != FailBadArguments {
		t.Fatalf("expected bad_arguments, got %v", err)
	}

	// Numeric values render without a decimal point.
	if _, err := d.Execute(context.Background(), op, map[string]any{"id": float64(7)}, nil); err != nil {
		t.Fatalf("execute numeric: %v", err)
	}
	if cap.path != "/users/7" {
		t.Fatalf("expected /users/7, got %q", cap.path)
	}
}

func TestExecuteQueryHeaderAndBody(t *testing.T) {
	t.Parallel()

	srv, cap := capturingServer(t, http.StatusCreated, `{"id":"cus_1"}`)
	d := New(Options{})

	op := openapi.Operation{
		ToolName:     "stripe_customers_create",
		Method:       http.MethodPost,
		BaseURL:      srv.URL + "/v1",
		PathTemplate: "/customers",
		Parameters: []openapi.Parameter{
			{Name: "expand", ArgKey: "expand", Location: openapi.InQuery},
			{Name: "X-Trace", ArgKey: "x_trace", Location: openapi.InHeader},
			{Name: "body", ArgKey: "body", Location: openapi.InBody, Required: true},
		},
		Auth: openapi.AuthSpec{Scheme: openapi.AuthAPIKeyHeader, HeaderName: "X-API-Key"},
	}
	args := map[string]any{
		"expand":  "subscriptions",
		"x_trace": "trace-1",
		"body":    map[string]any{"email": "user@example.com", "count": float64(3)},
	}

	result, err := d.Execute(context.Background(), op, args, secret.FromString("sk_live_abc123"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", result.Status)
	}
	if cap.query != "expand=subscriptions" {
		t.Fatalf("unexpected query: %q", cap.query)
	}
	if got := cap.header.Get("X-Trace"); got != "trace-1" {
		t.Fatalf("expected trace header, got %q", got)
	}
	if got := cap.header.Get("X-API-Key"); got != "sk_live_abc123" {
		t.Fatalf("expected api key header, got %q", got)
	}
	if got := cap.header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(cap.body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["email"] != "user@example.com" || body["count"] != float64(3) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestExecuteAuthVariants(t *testing.T) {
	t.Parallel()

	srv, cap := capturingServer(t, http.StatusOK, `{}`)
	d := New(Options{})

	op := pingOp(srv.URL)
	op.Auth = openapi.AuthSpec{Scheme: openapi.AuthAPIKeyQuery, QueryName: "api_key"}
	if _, err := d.Execute(context.Background(), op, nil, secret.FromString("qk-1")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cap.query != "api_key=qk-1" {
		t.Fatalf("expected api key query, got %q", cap.query)
	}

	op.Auth = openapi.AuthSpec{Scheme: openapi.AuthBasic}
	if _, err := d.Execute(context.Background(), op, nil, secret.FromString("user:pass")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// base64("user:pass")
	if got := cap.header.Get("Authorization"); got != "Basic dXNlcjpwYXNz" {
		t.Fatalf("expected basic auth, got %q", got)
	}
}

func TestExecuteUpstreamErrorIsResultNotFailure(t *testing.T) {
	t.Parallel()

	srv, _ := capturingServer(t, http.StatusBadGateway, `{"error":"down"}`)
	d := New(Options{})

	op := pingOp(srv.URL)
	op.Auth = openapi.AuthSpec{Scheme: openapi.AuthNone}
	result, err := d.Execute(context.Background(), op, nil, nil)
	if err != nil {
		t.Fatalf("expected non-2xx to be a result, got error %v", err)
	}
	if result.OK() || result.Status != http.StatusBadGateway {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(result.Body) != `{"error":"down"}` {
		t.Fatalf("expected error body, got %q", result.Body)
	}
}

func TestExecuteBadIntegration(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	for _, base := range []string{"", "relative/path", "/just/a/path"} {
		op := pingOp(base)
		op.Auth = openapi.AuthSpec{Scheme: openapi.AuthNone}
		_, err := d.Execute(context.Background(), op, nil, nil)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Kind != FailBadIntegration {
			t.Fatalf("base %q: expected bad_integration, got %v", base, err)
		}
	}

	// Auth scheme requiring a credential with none supplied.
	op := pingOp("https://api.x.test")
	_, err := d.Execute(context.Background(), op, nil, nil)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != FailBadIntegration {
		t.Fatalf("expected bad_integration for missing credential, got %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	d := New(Options{Timeout: 50 * time.Millisecond})
	op := pingOp(srv.URL)
	op.Auth = openapi.AuthSpec{Scheme: openapi.AuthNone}

	_, err := d.Execute(context.Background(), op, nil, nil)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != FailTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestExecuteTruncatesOversizedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	d := New(Options{MaxResponseBytes: 1024})
	op := pingOp(srv.URL)
	op.Auth = openapi.AuthSpec{Scheme: openapi.AuthNone}

	result, err := d.Execute(context.Background(), op, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncation marker")
	}
	if len(result.Body) != 1024 {
		t.Fatalf("expected capped body, got %d bytes", len(result.Body))
	}
}

func TestStringify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{true, "true"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{nil, ""},
		{[]any{"a", "b"}, `["a","b"]`},
	}
	for _, tc := range cases {
		if got := stringify(tc.in); got != tc.want {
			t.Fatalf("stringify(%v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

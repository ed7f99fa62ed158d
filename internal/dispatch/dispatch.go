// Package dispatch builds and executes the outbound HTTP request for one
// tool call: argument placement, path templating, auth injection, and
// bounded response capture.
package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/openapi"
	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/svcfields"
)

// DefaultTimeout bounds one outbound call end to end.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes caps how much upstream body is captured.
const DefaultMaxResponseBytes = int64(10 << 20)

// FailureKind classifies dispatch failures.
type FailureKind string

// Failure kinds. Upstream non-2xx statuses are not failures at this layer;
// they come back in the Result for the protocol layer to wrap.
const (
	FailTimeout        FailureKind = "timeout"
	FailTransport      FailureKind = "transport"
	FailBadArguments   FailureKind = "bad_arguments"
	FailBadIntegration FailureKind = "bad_integration"
)

// Failure is a classified dispatch error.
type Failure struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("dispatch %s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("dispatch %s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

func failf(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Result is the captured upstream response.
type Result struct {
	Status    int
	Body      []byte
	Truncated bool
}

// OK reports whether the upstream answered 2xx.
func (r *Result) OK() bool { return r.Status >= 200 && r.Status <= 299 }

// Dispatcher executes compiled operations. The zero value is not usable;
// construct with New.
type Dispatcher struct {
	client           *http.Client
	timeout          time.Duration
	maxResponseBytes int64
	logger           pslog.Logger
}

// Options tunes a dispatcher.
type Options struct {
	// Client defaults to a plain http.Client. Callers wrap the transport
	// (e.g. otelhttp) before handing it in.
	Client *http.Client
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64
	Logger           pslog.Logger
}

// New constructs a dispatcher.
func New(opts Options) *Dispatcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Dispatcher{
		client:           client,
		timeout:          timeout,
		maxResponseBytes: maxBytes,
		logger:           svcfields.WithSubsystem(logger, "dispatch"),
	}
}

// Execute performs one tool call. The credential buffer, when non-nil, is
// destroyed before Execute returns regardless of outcome.
func (d *Dispatcher) Execute(ctx context.Context, op openapi.Operation, args map[string]any, credential *secret.Buffer) (*Result, error) {
	if credential != nil {
		defer credential.Destroy()
	}

	req, err := d.buildRequest(ctx, op, args, credential)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(req.Context(), d.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Kind: FailTimeout, Detail: fmt.Sprintf("%s %s", op.Method, op.PathTemplate), Err: err}
		}
		return nil, &Failure{Kind: FailTransport, Detail: fmt.Sprintf("%s %s", op.Method, op.PathTemplate), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Kind: FailTimeout, Detail: "reading response body", Err: err}
		}
		return nil, &Failure{Kind: FailTransport, Detail: "reading response body", Err: err}
	}
	truncated := false
	if int64(len(body)) == d.maxResponseBytes {
		// Peek one byte to tell an exact fit from an overrun.
		var one [1]byte
		if n, _ := resp.Body.Read(one[:]); n > 0 {
			truncated = true
		}
	}

	result := &Result{Status: resp.StatusCode, Body: body, Truncated: truncated}
	if truncated {
		d.logger.Warn("response truncated",
			"tool", op.ToolName,
			"limit", humanize.IBytes(uint64(d.maxResponseBytes)),
		)
	}
	d.logger.Debug("dispatched",
		"tool", op.ToolName,
		"method", op.Method,
		"status", resp.StatusCode,
		"response_bytes", len(body),
	)
	return result, nil
}

func (d *Dispatcher) buildRequest(ctx context.Context, op openapi.Operation, args map[string]any, credential *secret.Buffer) (*http.Request, error) {
	base := strings.TrimSpace(op.BaseURL)
	if base == "" {
		return nil, failf(FailBadIntegration, "operation has no base URL")
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() || baseURL.Host == "" {
		return nil, failf(FailBadIntegration, "base URL %q is not absolute", base)
	}

	path := op.PathTemplate
	query := url.Values{}
	header := http.Header{}
	var bodyValue any
	haveBody := false

	for _, param := range op.Parameters {
		value, present := args[param.ArgKey]
		if !present && param.Required {
			return nil, failf(FailBadArguments, "missing required parameter %q", param.ArgKey)
		}
		if !present {
			continue
		}
		switch param.Location {
		case openapi.InPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(stringify(value)))
		case openapi.InQuery:
			query.Set(param.Name, stringify(value))
		case openapi.InHeader:
			header.Set(param.Name, stringify(value))
		case openapi.InBody:
			bodyValue = value
			haveBody = true
		}
	}
	if strings.Contains(path, "{") {
		return nil, failf(FailBadArguments, "unresolved path template in %q", path)
	}

	target := *baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path

	var bodyReader io.Reader
	if haveBody {
		encoded, err := json.Marshal(bodyValue)
		if err != nil {
			return nil, failf(FailBadArguments, "body does not encode as JSON: %v", err)
		}
		bodyReader = bytes.NewReader(encoded)
		header.Set("Content-Type", "application/json")
	}

	if err := applyAuth(op.Auth, credential, &query, header); err != nil {
		return nil, err
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, target.String(), bodyReader)
	if err != nil {
		return nil, failf(FailBadIntegration, "build request: %v", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Set(name, v)
		}
	}
	return req, nil
}

// applyAuth injects the credential per the compiled auth placement. The
// secret is copied into the request only; callers zero the source buffer.
func applyAuth(auth openapi.AuthSpec, credential *secret.Buffer, query *url.Values, header http.Header) error {
	if auth.Scheme == openapi.AuthNone {
		return nil
	}
	if credential == nil {
		return failf(FailBadIntegration, "auth scheme %q requires a credential", auth.Scheme)
	}
	return credential.Borrow(func(plaintext []byte) error {
		switch auth.Scheme {
		case openapi.AuthBearer:
			header.Set("Authorization", "Bearer "+string(plaintext))
		case openapi.AuthAPIKeyHeader:
			name := auth.HeaderName
			if name == "" {
				name = "X-API-Key"
			}
			header.Set(name, string(plaintext))
		case openapi.AuthAPIKeyQuery:
			name := auth.QueryName
			if name == "" {
				name = "api_key"
			}
			query.Set(name, string(plaintext))
		case openapi.AuthBasic:
			header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(plaintext))
		default:
			return failf(FailBadIntegration, "unsupported auth scheme %q", auth.Scheme)
		}
		return nil
	})
}

// stringify renders an argument value for path, query, or header placement.
func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return fmt.Sprintf("%t", value)
	case float64:
		// JSON numbers arrive as float64; render integers without a point.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	case json.Number:
		return value.String()
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}

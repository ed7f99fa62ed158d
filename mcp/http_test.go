package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTransportRequiresBearerToken(t *testing.T) {
	t.Parallel()

	up := newUpstream(t, 0, http.StatusOK)
	s, _, token := newTestEnv(t, bearerSpec(up.srv.URL), true)
	s.cfg.HTTP = true

	s.mu.Lock()
	s.callsCtx, s.cancelCalls = context.WithCancel(context.Background())
	s.mu.Unlock()
	mcpSrv, err := s.buildMCPServer()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	web := httptest.NewServer(s.buildMux(mcpSrv))
	defer web.Close()

	for _, path := range []string{"/sse", "/messages", "/mcp"} {
		resp, err := http.Get(web.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, resp.StatusCode)
		}
	}

	// Wrong token is rejected too.
	req, _ := http.NewRequest(http.MethodGet, web.URL+"/sse", nil)
	req.Header.Set("Authorization", "Bearer "+strings.Repeat("0", len(token)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}

	// The real token opens the SSE stream.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, web.URL+"/sse", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open sse: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}
}

package mcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/dispatch"
	"pkt.systems/walletd/internal/svcfields"
	"pkt.systems/walletd/internal/vault"
)

// Config controls the walletd MCP server runtime behaviour.
type Config struct {
	// HTTP selects the HTTP/SSE transport; false means stdio.
	HTTP bool
	// Listen is the HTTP listen address, e.g. "127.0.0.1:3000".
	Listen string
	// SessionToken authorises HTTP callers; every request must carry it as a
	// bearer token. Required when HTTP is true.
	SessionToken string
	// SessionExpiresAt bounds the process's authority. Zero disables the
	// check.
	SessionExpiresAt time.Time
	// WatchDir, when set, is the data directory whose session file is watched
	// for deletion; removal revokes in-flight and future calls.
	WatchDir string
	// ServerName and ServerVersion fill the MCP serverInfo block.
	ServerName    string
	ServerVersion string
}

// NewServerRequest wraps constructor inputs.
type NewServerRequest struct {
	Config     Config
	Vault      *vault.Vault
	Dispatcher *dispatch.Dispatcher
	Logger     pslog.Logger
}

// Server runs the MCP protocol over one transport for one session.
type Server interface {
	Run(context.Context) error
}

type server struct {
	cfg          Config
	vault        *vault.Vault
	dispatcher   *dispatch.Dispatcher
	logger       pslog.Logger
	lifecycleLog pslog.Logger
	transportLog pslog.Logger
	toolLog      pslog.Logger

	mu          sync.Mutex
	callsCtx    context.Context
	cancelCalls context.CancelFunc
	now         func() time.Time
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:3000"
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "walletd"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "0.1.0"
	}
}

func validateConfig(cfg Config) error {
	if cfg.HTTP && strings.TrimSpace(cfg.SessionToken) == "" {
		return errors.New("mcp: HTTP transport requires a session token")
	}
	return nil
}

// NewServer constructs the walletd MCP server.
func NewServer(req NewServerRequest) (Server, error) {
	cfg := req.Config
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if req.Vault == nil {
		return nil, errors.New("mcp: vault is required")
	}
	if req.Dispatcher == nil {
		return nil, errors.New("mcp: dispatcher is required")
	}
	logger := req.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &server{
		cfg:          cfg,
		vault:        req.Vault,
		dispatcher:   req.Dispatcher,
		logger:       logger,
		lifecycleLog: svcfields.WithSubsystem(logger, "server.lifecycle.mcp"),
		transportLog: svcfields.WithSubsystem(logger, "mcp.transport"),
		toolLog:      svcfields.WithSubsystem(logger, "mcp.tools"),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run serves until ctx is cancelled, the stdio client disconnects, or the
// HTTP listener fails.
func (s *server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.callsCtx, s.cancelCalls = context.WithCancel(ctx)
	s.mu.Unlock()

	mcpSrv, err := s.buildMCPServer()
	if err != nil {
		return err
	}

	if s.cfg.WatchDir != "" {
		go s.watchSession(ctx)
	}

	if !s.cfg.HTTP {
		s.lifecycleLog.Info("starting MCP server", "transport", "stdio")
		return mcpSrv.Run(ctx, &mcpsdk.StdioTransport{})
	}

	mux := s.buildMux(mcpSrv)
	httpServer := &http.Server{Addr: s.cfg.Listen, Handler: mux}
	s.lifecycleLog.Info("starting MCP server", "transport", "http", "listen", s.cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) buildMCPServer() (*mcpsdk.Server, error) {
	mcpSrv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    s.cfg.ServerName,
		Version: s.cfg.ServerVersion,
	}, &mcpsdk.ServerOptions{
		Instructions: "Tools are compiled from the wallet's bound API integrations. Credentials stay inside the wallet; calls are dispatched server-side with auth injected.",
	})
	if err := s.registerTools(mcpSrv); err != nil {
		return nil, err
	}
	return mcpSrv, nil
}

// buildMux exposes GET /sse plus its POST /messages companion (the legacy
// HTTP+SSE transport) and the streamable endpoint at /mcp. Every route
// requires the session bearer token.
func (s *server) buildMux(mcpSrv *mcpsdk.Server) *http.ServeMux {
	getServer := func(*http.Request) *mcpsdk.Server { return mcpSrv }
	sse := mcpsdk.NewSSEHandler(getServer)
	streamable := mcpsdk.NewStreamableHTTPHandler(getServer, nil)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.requireBearer(sse))
	mux.Handle("/messages", s.requireBearer(sse))
	mux.Handle("/mcp", s.requireBearer(streamable))
	return mux
}

func (s *server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SessionToken)) != 1 {
			s.transportLog.Warn("rejected unauthorised request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// revoke aborts in-flight tool calls and locks the vault. Subsequent calls
// fail with no-session.
func (s *server) revoke(reason string) {
	s.mu.Lock()
	cancel := s.cancelCalls
	s.mu.Unlock()
	s.lifecycleLog.Warn("session revoked", "reason", reason)
	s.vault.Lock()
	if cancel != nil {
		cancel()
	}
}

func (s *server) callContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callsCtx
}

func (s *server) sessionExpired() bool {
	return !s.cfg.SessionExpiresAt.IsZero() && !s.now().Before(s.cfg.SessionExpiresAt)
}

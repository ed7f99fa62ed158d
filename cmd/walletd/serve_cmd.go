package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/walletd"
	"pkt.systems/walletd/internal/dispatch"
	"pkt.systems/walletd/internal/session"
	"pkt.systems/walletd/internal/settings"
	"pkt.systems/walletd/internal/svcfields"
	"pkt.systems/walletd/internal/telemetry"
	"pkt.systems/walletd/internal/vault"
	walletdmcp "pkt.systems/walletd/mcp"
)

const (
	serveStdioKey  = "serve.stdio"
	serveHTTPKey   = "serve.http"
	servePortKey   = "serve.port"
	serveListenKey = "serve.listen"
	serveTokenKey  = "serve.session_token"
)

func newServeCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the headless MCP server against the current session",
		Long: "Resumes the master key from the session token (--session-token or " +
			walletd.EnvSessionToken + "), opens the wallet read-only, " +
			"and serves MCP over stdio or HTTP/SSE.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, baseLogger)
		},
	}
	flags := cmd.Flags()
	flags.Bool("stdio", false, "serve MCP over stdio (default)")
	flags.Bool("http", false, "serve MCP over HTTP/SSE")
	flags.Int("port", walletd.DefaultHTTPPort, "HTTP port")
	flags.String("listen", "", "HTTP listen address (overrides --port)")
	flags.String("session-token", "", "session token (prefer "+walletd.EnvSessionToken+")")

	mustBindFlag(serveStdioKey, "", flags.Lookup("stdio"))
	mustBindFlag(serveHTTPKey, "", flags.Lookup("http"))
	mustBindFlag(servePortKey, "WALLETD_PORT", flags.Lookup("port"))
	mustBindFlag(serveListenKey, "WALLETD_LISTEN", flags.Lookup("listen"))
	mustBindFlag(serveTokenKey, walletd.EnvSessionToken, flags.Lookup("session-token"))
	return cmd
}

func runServe(cmd *cobra.Command, baseLogger pslog.Logger) error {
	logger := svcfields.WithSubsystem(baseLogger, "cli.serve")

	useStdio := viper.GetBool(serveStdioKey)
	useHTTP := viper.GetBool(serveHTTPKey)
	if useStdio && useHTTP {
		return exitErr(exitBadArgs, errors.New("--stdio and --http are mutually exclusive"))
	}
	if !useHTTP {
		// stdio is the default transport for MCP client compatibility.
		useStdio = true
	}

	dir, err := resolveDataDir()
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	token := strings.TrimSpace(viper.GetString(serveTokenKey))
	if token == "" {
		return exitErr(exitNoSession, errors.New(
			"no session token: unlock the wallet and export "+walletd.EnvSessionToken))
	}

	v, err := vault.Open(vault.Options{Dir: dir, Logger: baseLogger, ReadOnly: true})
	if err != nil {
		return exitErr(exitFatal, err)
	}
	if v.State() == vault.StateNotInitialised {
		return exitErr(exitNoVault, errors.New("wallet not found; initialise it first"))
	}

	sessions := session.NewManager(dir, baseLogger)
	masterKey, err := sessions.Resume(token)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession),
			errors.Is(err, session.ErrExpired),
			errors.Is(err, session.ErrBadToken):
			return exitErr(exitNoSession, err)
		default:
			return exitErr(exitFatal, err)
		}
	}
	if err := v.UnlockWithKey(masterKey); err != nil {
		if errors.Is(err, vault.ErrBadPassphrase) {
			return exitErr(exitNoSession, errors.New("session key does not open this wallet"))
		}
		return exitErr(exitFatal, err)
	}
	_, expiresAt, _, err := sessions.Status()
	if err != nil {
		return exitErr(exitFatal, err)
	}

	settingsMgr := settings.NewManager(dir)
	cfg, err := settingsMgr.Load()
	if err != nil {
		logger.Warn("settings unreadable, using defaults", "error", err)
		cfg = settings.Default()
	}
	ctx := cmd.Context()
	bundle, err := telemetry.Setup(ctx, cfg.Otel, baseLogger)
	if err != nil {
		logger.Warn("telemetry setup failed", "error", err)
	}
	defer func() {
		if bundle != nil {
			_ = bundle.Shutdown(ctx)
		}
	}()

	dispatcher := dispatch.New(dispatch.Options{
		Client: &http.Client{Transport: bundle.Transport(nil)},
		Logger: baseLogger,
	})

	listen := strings.TrimSpace(viper.GetString(serveListenKey))
	if listen == "" {
		listen = net.JoinHostPort(walletd.DefaultHTTPHost, strconv.Itoa(viper.GetInt(servePortKey)))
	}

	srv, err := walletdmcp.NewServer(walletdmcp.NewServerRequest{
		Config: walletdmcp.Config{
			HTTP:             useHTTP,
			Listen:           listen,
			SessionToken:     token,
			SessionExpiresAt: expiresAt,
			WatchDir:         dir,
			ServerName:       "walletd",
			ServerVersion:    walletd.Version,
		},
		Vault:      v,
		Dispatcher: dispatcher,
		Logger:     baseLogger,
	})
	if err != nil {
		return exitErr(exitBadArgs, err)
	}

	if !useStdio {
		fmt.Fprintf(os.Stderr, "walletd MCP server listening on %s\n", listen)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return exitErr(exitFatal, err)
	}
	return nil
}

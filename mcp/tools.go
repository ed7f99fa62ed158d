package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/dispatch"
	"pkt.systems/walletd/internal/openapi"
	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/svcfields"
	"pkt.systems/walletd/internal/vault"
)

var (
	// ErrNoSession reports a tool call after the wallet was locked or the
	// session expired.
	ErrNoSession = errors.New("no session: unlock the wallet and restart the server")
	// ErrUnauthenticated reports a call against an integration whose auth
	// scheme needs a credential that has not been bound.
	ErrUnauthenticated = errors.New("unauthenticated: integration has no bound credential")
)

// registerTools materialises the vault's stored operation descriptors as MCP
// tools. Descriptors are already sorted by tool name, so listings are stable.
func (s *server) registerTools(srv *mcpsdk.Server) error {
	ops, err := s.vault.ToolDescriptors()
	if err != nil {
		return fmt.Errorf("mcp: load tool descriptors: %w", err)
	}
	for _, op := range ops {
		srv.AddTool(&mcpsdk.Tool{
			Name:        op.ToolName,
			Description: toolDescription(op),
			InputSchema: toJSONSchema(op.InputSchema),
		}, s.toolHandler(op.ToolName))
	}
	s.toolLog.Info("tools registered", "count", len(ops))
	return nil
}

// toolDescription combines summary, description, and a method/path suffix so
// the model can see what it is about to call.
func toolDescription(op openapi.Operation) string {
	var parts []string
	if s := strings.TrimSpace(op.Summary); s != "" {
		parts = append(parts, s)
	}
	if d := strings.TrimSpace(op.Description); d != "" && d != op.Summary {
		parts = append(parts, d)
	}
	parts = append(parts, fmt.Sprintf("[%s %s]", op.Method, op.PathTemplate))
	if op.Deprecated {
		parts = append(parts, "(DEPRECATED)")
	}
	return strings.Join(parts, "\n\n")
}

func (s *server) toolHandler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		logger := s.toolLog.With(svcfields.CorrelationKey, xid.New().String()).With("tool", name)

		if s.sessionExpired() {
			logger.Warn("call rejected", "reason", "session expired")
			return nil, ErrNoSession
		}
		if s.vault.State() != vault.StateUnlocked {
			logger.Warn("call rejected", "reason", "wallet locked")
			return nil, ErrNoSession
		}

		resolved, err := s.vault.ResolveTool(name)
		if err != nil {
			if errors.Is(err, vault.ErrWalletLocked) {
				return nil, ErrNoSession
			}
			return nil, err
		}

		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}

		var credential *secret.Buffer
		if resolved.Operation.Auth.Scheme != openapi.AuthNone {
			if resolved.CredentialID == "" {
				logger.Warn("call rejected", "reason", "no bound credential", "integration", resolved.IntegrationKey)
				return nil, ErrUnauthenticated
			}
			credential, err = s.vault.DecryptCredential(resolved.CredentialID)
			if err != nil {
				if errors.Is(err, vault.ErrWalletLocked) {
					return nil, ErrNoSession
				}
				return nil, err
			}
		}

		// The vault lock is released; the outbound call runs against a
		// context that revocation cancels.
		callCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.callContext(), cancel)
		defer stop()

		result, err := s.dispatcher.Execute(callCtx, resolved.Operation, args, credential)
		if err != nil {
			return s.dispatchFailure(logger, err)
		}

		text := string(result.Body)
		if result.Truncated {
			text += "\n[response truncated]"
		}
		if !result.OK() {
			logger.Info("upstream error", "status", result.Status)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{
					Text: fmt.Sprintf("HTTP %d - %s", result.Status, text),
				}},
			}, nil
		}
		logger.Debug("call completed", "status", result.Status, "response_bytes", len(result.Body))
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

// dispatchFailure maps dispatcher failures onto the protocol: bad arguments
// and broken integrations are protocol-level errors, transport trouble is an
// isError result the model can reason about and retry semantically.
func (s *server) dispatchFailure(logger pslog.Logger, err error) (*mcpsdk.CallToolResult, error) {
	var failure *dispatch.Failure
	if !errors.As(err, &failure) {
		return nil, err
	}
	switch failure.Kind {
	case dispatch.FailBadArguments, dispatch.FailBadIntegration:
		logger.Warn("call failed", "kind", string(failure.Kind), "detail", failure.Detail)
		return nil, failure
	default:
		logger.Warn("upstream unreachable", "kind", string(failure.Kind), "detail", failure.Detail)
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{
				Text: fmt.Sprintf("%s: %s", failure.Kind, failure.Detail),
			}},
		}, nil
	}
}

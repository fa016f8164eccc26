// Package mcp exposes the request review workflow to MCP clients so an
// administrator can triage requests from an assistant.
package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Store     handlers.Store
	Lifecycle handlers.Lifecycle
	Version   string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Switchboard",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}

// NewHTTPHandler serves s over streamable HTTP. The principal set by the
// auth middleware is carried into every tool call.
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if p, err := auth.PrincipalFrom(r.Context()); err == nil {
				return auth.WithPrincipal(ctx, p)
			}
			return ctx
		}),
	)
}

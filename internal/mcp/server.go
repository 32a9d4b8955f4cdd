// Package mcp exposes lab-report extraction as Model Context Protocol tools
// served over stdio.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/version"
)

// Deps contains the dependencies needed by tool handlers.
type Deps struct {
	Extractor *extract.Client
	// MaxBytes bounds documents read from disk; non-positive disables the check.
	MaxBytes int64
	Logger   *slog.Logger
}

// Server wraps the MCP server with the labscan tools.
type Server struct {
	mcpServer *sdkmcp.Server
	deps      *Deps
}

// NewServer creates an MCP server with every labscan tool registered.
func NewServer(deps *Deps) (*Server, error) {
	if deps == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{deps: deps}
	s.mcpServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{
			Name:    "labscan",
			Version: version.GitRelease,
		},
		nil,
	)
	s.mcpServer.AddReceivingMiddleware(LoggingMiddleware(deps.Logger))
	Register(s.mcpServer, deps)
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server for testing.
func (s *Server) MCPServer() *sdkmcp.Server {
	return s.mcpServer
}

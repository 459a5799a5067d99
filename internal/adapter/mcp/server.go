// Package mcp exposes executions and the agent toolset over the Model Context Protocol.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/eventstore"
)

// ExecutionReader is the slice of the execution service the MCP tools need.
type ExecutionReader interface {
	List() []execution.Info
	Get(ctx context.Context, id string) (*execution.Info, error)
	Events(ctx context.Context, id string, after int64, limit int) (*eventstore.Page, error)
	Cancel(id string) error
}

// ServerConfig holds MCP server identity and auth.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the services the MCP tools delegate to.
type ServerDeps struct {
	Executions ExecutionReader
	Toolset    *Toolset
}

// Server wraps an mcp-go server with the StreamForge tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates an MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, true),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP transport guarded by the API key.
func (s *Server) Handler() http.Handler {
	transport := mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
	return RequireAPIKey(s.cfg.APIKey, transport)
}

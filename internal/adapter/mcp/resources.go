package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const executionsURI = "streamforge://executions"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			executionsURI,
			"Live Executions",
			mcplib.WithResourceDescription("Snapshots of all live executions"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleExecutionsResource,
	)
}

func (s *Server) handleExecutionsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `{"error":"execution service not configured"}`
	if s.deps.Executions != nil {
		data, err := json.Marshal(s.deps.Executions.List())
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}

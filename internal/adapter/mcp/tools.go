package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listExecutionsTool(),
		s.getExecutionTool(),
		s.readEventsTool(),
		s.cancelExecutionTool(),
	)
	if s.deps.Toolset != nil {
		s.mcpServer.AddTools(s.deps.Toolset.ServerTools()...)
	}
}

func (s *Server) listExecutionsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_executions",
		mcplib.WithDescription("List live executions, newest first"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListExecutions}
}

func (s *Server) getExecutionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_execution",
		mcplib.WithDescription("Get the status snapshot of an execution"),
		mcplib.WithString("execution_id",
			mcplib.Required(),
			mcplib.Description("The execution ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetExecution}
}

func (s *Server) readEventsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("read_events",
		mcplib.WithDescription("Read buffered or archived events of an execution after a sequence number"),
		mcplib.WithString("execution_id",
			mcplib.Required(),
			mcplib.Description("The execution ID"),
		),
		mcplib.WithNumber("after", mcplib.Description("Return events with a greater sequence; default 0")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of events; default 100")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReadEvents}
}

func (s *Server) cancelExecutionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_execution",
		mcplib.WithDescription("Request cancellation of a running execution"),
		mcplib.WithString("execution_id",
			mcplib.Required(),
			mcplib.Description("The execution ID to cancel"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelExecution}
}

func (s *Server) handleListExecutions(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Executions == nil {
		return mcplib.NewToolResultError("execution service not configured"), nil
	}
	return marshalResult("executions", s.deps.Executions.List())
}

func (s *Server) handleGetExecution(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Executions == nil {
		return mcplib.NewToolResultError("execution service not configured"), nil
	}
	id, err := req.RequireString("execution_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("execution_id is required"), nil
	}
	info, err := s.deps.Executions.Get(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get execution %s", id), err), nil
	}
	return marshalResult("execution", info)
}

func (s *Server) handleReadEvents(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Executions == nil {
		return mcplib.NewToolResultError("execution service not configured"), nil
	}
	id, err := req.RequireString("execution_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("execution_id is required"), nil
	}
	after := int64(req.GetFloat("after", 0))
	limit := int(req.GetFloat("limit", 0))
	page, err := s.deps.Executions.Events(ctx, id, after, limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to read events of %s", id), err), nil
	}
	return marshalResult("events", page)
}

func (s *Server) handleCancelExecution(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Executions == nil {
		return mcplib.NewToolResultError("execution service not configured"), nil
	}
	id, err := req.RequireString("execution_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("execution_id is required"), nil
	}
	if err := s.deps.Executions.Cancel(id); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to cancel execution %s", id), err), nil
	}
	return mcplib.NewToolResultText(fmt.Sprintf("cancellation requested for %s", id)), nil
}

func marshalResult(what string, v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

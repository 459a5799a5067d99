package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // current_time must resolve zones in minimal images

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/port/llm"
)

// Toolset is the registry of tools offered to the conversational agent.
// The same tools are also served by the MCP endpoint.
type Toolset struct {
	tools map[string]mcpserver.ServerTool
	now   func() time.Time
}

// NewToolset returns a toolset with the built-in tools registered.
func NewToolset() *Toolset {
	ts := &Toolset{tools: make(map[string]mcpserver.ServerTool), now: time.Now}
	ts.Add(addTool(), multiplyTool(), ts.currentTimeTool())
	return ts
}

// Add registers tools, replacing any with the same name.
func (ts *Toolset) Add(tools ...mcpserver.ServerTool) {
	for _, t := range tools {
		ts.tools[t.Tool.Name] = t
	}
}

// ServerTools returns the registered tools sorted by name.
func (ts *Toolset) ServerTools() []mcpserver.ServerTool {
	out := make([]mcpserver.ServerTool, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// Tools describes the registered tools in the llm port's terms.
func (ts *Toolset) Tools() []llm.Tool {
	st := ts.ServerTools()
	out := make([]llm.Tool, 0, len(st))
	for _, t := range st {
		out = append(out, llm.Tool{
			Name:        t.Tool.Name,
			Description: t.Tool.Description,
			Parameters:  inputSchema(t.Tool),
		})
	}
	return out
}

func inputSchema(t mcplib.Tool) map[string]any {
	props := t.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.InputSchema.Required) > 0 {
		schema["required"] = t.InputSchema.Required
	}
	return schema
}

// Call invokes tool name with JSON-encoded arguments and returns its text output.
// Tool-reported failures are returned as errors carrying the tool's message.
func (ts *Toolset) Call(ctx context.Context, name, arguments string) (string, error) {
	t, ok := ts.tools[name]
	if !ok {
		return "", fmt.Errorf("tool %q: %w", name, domain.ErrNotFound)
	}

	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("%w: tool %s arguments: %v", domain.ErrValidation, name, err)
		}
	}

	var req mcplib.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := t.Handler(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	text := resultText(res)
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

func resultText(res *mcplib.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := mcplib.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func addTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("add",
		mcplib.WithDescription("Add two numbers"),
		mcplib.WithNumber("a", mcplib.Required(), mcplib.Description("First operand")),
		mcplib.WithNumber("b", mcplib.Required(), mcplib.Description("Second operand")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: binaryMath(func(a, b float64) float64 { return a + b })}
}

func multiplyTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("multiply",
		mcplib.WithDescription("Multiply two numbers"),
		mcplib.WithNumber("a", mcplib.Required(), mcplib.Description("First factor")),
		mcplib.WithNumber("b", mcplib.Required(), mcplib.Description("Second factor")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: binaryMath(func(a, b float64) float64 { return a * b })}
}

func binaryMath(op func(a, b float64) float64) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		a, err := req.RequireFloat("a")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		b, err := req.RequireFloat("b")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		return mcplib.NewToolResultText(formatNumber(op(a, b))), nil
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func (ts *Toolset) currentTimeTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("current_time",
		mcplib.WithDescription("Current time in RFC 3339, optionally in an IANA time zone"),
		mcplib.WithString("timezone", mcplib.Description("IANA zone such as Europe/Berlin; defaults to UTC")),
	)
	return mcpserver.ServerTool{
		Tool: tool,
		Handler: func(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			loc := time.UTC
			if tz := req.GetString("timezone", ""); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return mcplib.NewToolResultErrorFromErr("unknown timezone", err), nil
				}
				loc = l
			}
			return mcplib.NewToolResultText(ts.now().In(loc).Format(time.RFC3339)), nil
		},
	}
}

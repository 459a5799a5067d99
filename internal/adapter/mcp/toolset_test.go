package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain"
)

func TestToolset_Call(t *testing.T) {
	ts := NewToolset()
	ts.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"add", "add", `{"a":2,"b":3}`, "5"},
		{"multiply fractional", "multiply", `{"a":1.5,"b":3}`, "4.5"},
		{"current time utc", "current_time", ``, "2026-01-02T03:04:05Z"},
		{"current time zone", "current_time", `{"timezone":"Europe/Berlin"}`, "2026-01-02T04:04:05+01:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ts.Call(ctx, tt.tool, tt.args)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolset_CallErrors(t *testing.T) {
	ts := NewToolset()
	ctx := context.Background()

	if _, err := ts.Call(ctx, "nope", "{}"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown tool: %v", err)
	}
	if _, err := ts.Call(ctx, "add", "{not json"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad json: %v", err)
	}
	if _, err := ts.Call(ctx, "add", `{"a":1}`); err == nil {
		t.Error("missing argument should surface the tool error")
	}
}

func TestToolset_ToolsDescribeSchemas(t *testing.T) {
	tools := NewToolset().Tools()
	if len(tools) != 3 {
		t.Fatalf("got %d tools", len(tools))
	}
	if tools[0].Name != "add" || tools[1].Name != "current_time" || tools[2].Name != "multiply" {
		t.Fatalf("tools not sorted: %+v", tools)
	}
	add := tools[0]
	props, ok := add.Parameters["properties"].(map[string]any)
	if !ok || props["a"] == nil || props["b"] == nil {
		t.Errorf("add schema = %v", add.Parameters)
	}
	if req, ok := add.Parameters["required"].([]string); !ok || len(req) != 2 {
		t.Errorf("add required = %v", add.Parameters["required"])
	}
}

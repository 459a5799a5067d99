// Package llm defines the port interface for chat-completion backends.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable wraps transport-level failures talking to the backend.
var ErrUnavailable = errors.New("llm unavailable")

// Role values for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a chat transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a completed function call requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is a streaming chat completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []Tool
}

// ChatResponse is the accumulated assistant turn.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// StructuredRequest asks for a reply conforming to a JSON schema.
type StructuredRequest struct {
	Model       string
	Messages    []Message
	SchemaName  string
	Description string
	Schema      map[string]any
}

// Client is the port for chat-completion backends.
type Client interface {
	// StreamChat streams one assistant turn. onDelta is called for every
	// non-empty text fragment; returning an error aborts the stream.
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(string) error) (*ChatResponse, error)

	// Structured returns the raw JSON document produced under req.Schema.
	Structured(ctx context.Context, req StructuredRequest) ([]byte, error)
}

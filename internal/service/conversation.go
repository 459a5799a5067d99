package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/llm"
)

//go:embed templates/conversation_system.tmpl
var conversationSystemTmpl string

// conversationTmpl is the parsed system prompt template for conversations.
var conversationTmpl = template.Must(template.New("conversation_system").Parse(conversationSystemTmpl))

// Toolset executes the tools offered to the conversational agent.
type Toolset interface {
	ToolCatalog
	Call(ctx context.Context, name, arguments string) (string, error)
}

// ConversationService runs the tool-using conversational agent.
type ConversationService struct {
	llm       llm.Client
	tools     Toolset
	model     string
	maxRounds int
	metrics   *cfotel.Metrics
}

// NewConversationService creates a new ConversationService. tools may be nil.
func NewConversationService(client llm.Client, tools Toolset, model string, maxRounds int) *ConversationService {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &ConversationService{llm: client, tools: tools, model: model, maxRounds: maxRounds}
}

// SetMetrics sets the OTEL metrics instruments.
func (s *ConversationService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Converse implements ConversationAgent.
func (s *ConversationService) Converse(req execution.ConversationRequest) Producer {
	return func(ctx context.Context, emit Emitter) (event.Payload, error) {
		if err := emit.Emit(ctx, event.Start{ExecutionID: emit.ExecutionID(), Type: string(execution.TypeConversation)}); err != nil {
			return nil, err
		}

		var tools []llm.Tool
		if s.tools != nil {
			tools = s.tools.Tools()
		}
		messages, err := s.transcript(req, tools)
		if err != nil {
			return nil, err
		}

		// Assistant text of each round, joined into the final output.
		var turns []string
		onDelta := func(d string) error {
			return emit.Emit(ctx, event.Delta{Content: d})
		}

		for round := 0; ; round++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resp, err := s.llm.StreamChat(ctx, llm.ChatRequest{Model: s.model, Messages: messages, Tools: tools}, onDelta)
			if err != nil {
				return nil, llmError(err)
			}
			if resp.Content != "" {
				turns = append(turns, resp.Content)
			}

			if len(resp.ToolCalls) == 0 {
				return event.Result{Output: strings.Join(turns, "\n")}, nil
			}
			if round == s.maxRounds {
				return nil, event.Errorf(event.CodeToolRounds, "agent exceeded %d tool rounds", s.maxRounds)
			}

			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			if err := emit.Emit(ctx, toolCallEvent(resp.ToolCalls)); err != nil {
				return nil, err
			}
			for _, tc := range resp.ToolCalls {
				out := s.runTool(ctx, tc)
				if err := emit.Emit(ctx, out); err != nil {
					return nil, err
				}
				messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: out.Content})
			}
		}
	}
}

func (s *ConversationService) transcript(req execution.ConversationRequest, tools []llm.Tool) ([]llm.Message, error) {
	var sys bytes.Buffer
	if err := conversationTmpl.Execute(&sys, struct {
		GraphID string
		Tools   []llm.Tool
	}{GraphID: req.GraphID, Tools: tools}); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sys.String()})
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

func toolCallEvent(calls []llm.ToolCall) event.ToolCall {
	items := make([]event.ToolCallItem, 0, len(calls))
	for _, tc := range calls {
		item := event.ToolCallItem{ToolCallID: tc.ID, ToolName: tc.Name}
		if tc.Arguments != "" {
			// Unparseable arguments are still forwarded to the tool, which reports the error.
			_ = json.Unmarshal([]byte(tc.Arguments), &item.Args)
		}
		items = append(items, item)
	}
	return event.ToolCall{ToolCalls: items}
}

// runTool executes one tool call. Tool failures are reported to the model
// and the client as an error output, never as a producer failure.
func (s *ConversationService) runTool(ctx context.Context, tc llm.ToolCall) event.ToolOutput {
	ctx, span := cfotel.StartToolCallSpan(ctx, tc.ID, tc.Name)
	defer span.End()

	status := event.ToolStatusSuccess
	var content string
	var err error
	if s.tools == nil {
		err = fmt.Errorf("tool %s is not available", tc.Name)
	} else {
		content, err = s.tools.Call(ctx, tc.Name, tc.Arguments)
	}
	if err != nil {
		status = event.ToolStatusError
		content = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.DebugContext(ctx, "tool call failed", "tool", tc.Name, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tc.Name),
			attribute.String("status", string(status)),
		))
	}
	return event.ToolOutput{ToolCallID: tc.ID, Content: content, Status: status}
}

package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/invopop/jsonschema"

	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/domain/graph"
	"github.com/Strob0t/StreamForge/internal/port/llm"
)

//go:embed templates/spec_architecture.tmpl
var specArchitectureTmplText string

//go:embed templates/spec_schemas.tmpl
var specSchemasTmplText string

var (
	specArchitectureTmpl = template.Must(template.New("spec_architecture").Parse(specArchitectureTmplText))
	specSchemasTmpl      = template.Must(template.New("spec_schemas").Parse(specSchemasTmplText))
)

const schemaExtractorSystemPrompt = "You are a JSON schema expert. Extract schemas accurately from agent instructions."

// ToolCatalog lists the tools agents may reference.
type ToolCatalog interface {
	Tools() []llm.Tool
}

// SpecResult is the data carried by the spec generator's result event.
type SpecResult struct {
	GraphSpec graph.Spec    `json:"graph_spec"`
	Messages  []llm.Message `json:"messages"`
}

// SpecService generates graph specifications in two structured LLM steps.
type SpecService struct {
	llm          llm.Client
	model        string
	tools        ToolCatalog
	archSchema   map[string]any
	schemaSchema map[string]any
}

// NewSpecService creates a SpecService. tools may be nil.
func NewSpecService(client llm.Client, model string, tools ToolCatalog) *SpecService {
	return &SpecService{
		llm:          client,
		model:        model,
		tools:        tools,
		archSchema:   reflectSchema(&graph.Architecture{}),
		schemaSchema: reflectSchema(&graph.SchemaExtraction{}),
	}
}

// reflectSchema derives an inline JSON schema for v.
func reflectSchema(v any) map[string]any {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflect schema %T: %v", v, err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("decode schema %T: %v", v, err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Generate implements SpecGenerator.
func (s *SpecService) Generate(req execution.SpecRequest) Producer {
	return func(ctx context.Context, emit Emitter) (event.Payload, error) {
		if err := emit.Emit(ctx, event.Start{ExecutionID: emit.ExecutionID(), Type: string(execution.TypeSpec)}); err != nil {
			return nil, err
		}

		if err := emit.Emit(ctx, event.Progress{Stage: event.StageArchitecture, Message: "designing graph architecture"}); err != nil {
			return nil, err
		}
		arch, messages, err := s.architecture(ctx, emit.ExecutionID(), req)
		if err != nil {
			return nil, err
		}

		msg := fmt.Sprintf("extracting output schemas for %d agents", len(arch.Agents))
		if err := emit.Emit(ctx, event.Progress{Stage: event.StageSchemas, Message: msg}); err != nil {
			return nil, err
		}
		schemas, err := s.extractSchemas(ctx, emit.ExecutionID(), arch)
		if err != nil {
			return nil, err
		}

		spec := mergeSpec(arch, schemas)
		data, err := json.Marshal(SpecResult{GraphSpec: spec, Messages: messages})
		if err != nil {
			return nil, fmt.Errorf("marshal spec result: %w", err)
		}
		slog.InfoContext(ctx, "graph spec generated", "graph", spec.Name, "agents", len(spec.Agents))
		return event.Result{Output: fmt.Sprintf("generated graph %q with %d nodes", spec.Name, len(spec.Nodes)), Data: data}, nil
	}
}

func (s *SpecService) architecture(ctx context.Context, executionID string, req execution.SpecRequest) (*graph.Architecture, []llm.Message, error) {
	ctx, span := cfotel.StartStageSpan(ctx, executionID, string(event.StageArchitecture))
	defer span.End()

	var tools []llm.Tool
	if s.tools != nil {
		tools = s.tools.Tools()
	}
	var sys bytes.Buffer
	if err := specArchitectureTmpl.Execute(&sys, struct {
		Model string
		Tools []llm.Tool
	}{Model: s.model, Tools: tools}); err != nil {
		return nil, nil, fmt.Errorf("render architecture prompt: %w", err)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Description})

	raw, err := s.llm.Structured(ctx, llm.StructuredRequest{
		Model:       s.model,
		Messages:    messages,
		SchemaName:  "graph_architecture",
		Description: "Agent graph architecture",
		Schema:      s.archSchema,
	})
	if err != nil {
		return nil, nil, llmError(err)
	}

	var arch graph.Architecture
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, nil, event.Errorf(event.CodeLLMUnavailable, "decode architecture: %v", err)
	}
	if err := arch.Validate(); err != nil {
		return nil, nil, event.WithCode(event.CodeProducerFailed, err)
	}

	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: string(raw)})
	return &arch, messages, nil
}

// extractSchemas resolves an output schema per agent. Router and orchestrator
// agents get fixed schemas; general agents are sent to the LLM in one call.
func (s *SpecService) extractSchemas(ctx context.Context, executionID string, arch *graph.Architecture) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(arch.Agents))
	var general []graph.AgentNode
	for _, a := range arch.Agents {
		if schema, ok := graph.PredefinedSchema(a.Category); ok {
			out[a.Name] = schema
			continue
		}
		general = append(general, a)
	}
	if len(general) == 0 {
		return out, nil
	}

	ctx, span := cfotel.StartStageSpan(ctx, executionID, string(event.StageSchemas))
	defer span.End()

	subset := *arch
	subset.Agents = general
	specJSON, err := json.MarshalIndent(subset, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal architecture: %w", err)
	}
	var user bytes.Buffer
	if err := specSchemasTmpl.Execute(&user, struct{ Spec string }{Spec: string(specJSON)}); err != nil {
		return nil, fmt.Errorf("render schema prompt: %w", err)
	}

	raw, err := s.llm.Structured(ctx, llm.StructuredRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: schemaExtractorSystemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
		SchemaName:  "schema_extraction",
		Description: "Output schema per agent",
		Schema:      s.schemaSchema,
	})
	if err != nil {
		return nil, llmError(err)
	}

	var extraction graph.SchemaExtraction
	if err := json.Unmarshal(raw, &extraction); err != nil {
		return nil, event.Errorf(event.CodeLLMUnavailable, "decode schema extraction: %v", err)
	}
	for _, as := range extraction.AgentSchemas {
		var schema map[string]any
		if err := json.Unmarshal([]byte(as.StructuredOutputSchema), &schema); err != nil {
			slog.Warn("discarding invalid agent schema", "agent", as.AgentName, "error", err)
			continue
		}
		out[as.AgentName] = schema
	}
	return out, nil
}

func mergeSpec(arch *graph.Architecture, schemas map[string]map[string]any) graph.Spec {
	agents := make([]graph.AgentNode, 0, len(arch.Agents))
	for _, a := range arch.Agents {
		if a.Category == "" {
			a.Category = graph.CategoryGeneral
		}
		a.StructuredOutputSchema = schemas[a.Name]
		agents = append(agents, a)
	}
	return graph.Spec{
		Name:        arch.Name,
		Description: arch.Description,
		Agents:      agents,
		Functions:   arch.Functions,
		Nodes:       arch.Nodes,
		Edges:       arch.Edges,
		EntryPoint:  arch.EntryPoint,
	}
}

// llmError tags backend failures with the llm_unavailable code.
func llmError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, llm.ErrUnavailable):
		return event.WithCode(event.CodeLLMUnavailable, err)
	case errors.Is(err, domain.ErrValidation):
		return event.WithCode(event.CodeInvalidRequest, err)
	}
	return err
}

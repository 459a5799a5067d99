// Package graph defines the agent graph specification produced by the spec generator.
package graph

import (
	"fmt"

	"github.com/Strob0t/StreamForge/internal/domain"
)

// Category classifies an agent node.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryRouter       Category = "router"
	CategoryOrchestrator Category = "orchestrator"
)

// AgentNode is an LLM-backed node of the graph.
type AgentNode struct {
	Name                   string         `json:"name" jsonschema:"description=Unique node name"`
	Model                  string         `json:"model" jsonschema:"description=LLM model used by the agent"`
	Instruction            string         `json:"instruction" jsonschema:"description=System instruction of the agent"`
	Category               Category       `json:"category" jsonschema:"enum=general,enum=router,enum=orchestrator"`
	Tools                  []string       `json:"tools" jsonschema:"description=Tool names available to the agent"`
	StructuredOutputSchema map[string]any `json:"structured_output_schema,omitempty" jsonschema:"-"`
}

// FunctionNode is a deterministic function node of the graph.
type FunctionNode struct {
	Name        string `json:"name" jsonschema:"description=Unique node name"`
	FunctionRef string `json:"function_ref" jsonschema:"description=Registered function name"`
}

// Edge connects two nodes.
type Edge struct {
	FromNode string `json:"from_node"`
	ToNode   string `json:"to_node"`
}

// Spec is the complete graph definition.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Agents      []AgentNode    `json:"agents"`
	Functions   []FunctionNode `json:"functions"`
	Nodes       []string       `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	EntryPoint  string         `json:"entry_point"`
}

// Architecture is the first-step LLM output: the graph without output schemas.
type Architecture struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Agents      []AgentNode    `json:"agents"`
	Functions   []FunctionNode `json:"functions"`
	Nodes       []string       `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	EntryPoint  string         `json:"entry_point"`
}

// AgentSchema binds a JSON schema to an agent name.
type AgentSchema struct {
	AgentName              string `json:"agent_name"`
	StructuredOutputSchema string `json:"structured_output_schema" jsonschema:"description=JSON schema of the agent output encoded as a JSON string"`
}

// SchemaExtraction is the second-step LLM output.
type SchemaExtraction struct {
	AgentSchemas []AgentSchema `json:"agent_schemas"`
}

// routerSchema is the fixed output schema of router agents.
var routerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"next_node": map[string]any{"type": "string"},
		"reasoning": map[string]any{"type": "string"},
	},
	"required": []any{"next_node"},
}

// orchestratorSchema is the fixed output schema of orchestrator agents.
var orchestratorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"next_nodes":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"reasoning":   map[string]any{"type": "string"},
		"is_complete": map[string]any{"type": "boolean"},
	},
	"required": []any{"next_nodes", "is_complete"},
}

// PredefinedSchema returns the fixed output schema for router and
// orchestrator agents. General agents have none.
func PredefinedSchema(c Category) (map[string]any, bool) {
	switch c {
	case CategoryRouter:
		return routerSchema, true
	case CategoryOrchestrator:
		return orchestratorSchema, true
	}
	return nil, false
}

// Validate checks that the graph is internally consistent.
func (a *Architecture) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: graph name is required", domain.ErrValidation)
	}
	known := make(map[string]bool, len(a.Nodes))
	for _, n := range a.Nodes {
		known[n] = true
	}
	if !known[a.EntryPoint] {
		return fmt.Errorf("%w: entry point %q is not a node", domain.ErrValidation, a.EntryPoint)
	}
	for _, e := range a.Edges {
		if !known[e.FromNode] || !known[e.ToNode] {
			return fmt.Errorf("%w: edge %s -> %s references an unknown node", domain.ErrValidation, e.FromNode, e.ToNode)
		}
	}
	return nil
}

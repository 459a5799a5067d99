package event

import (
	"encoding/json"
	"time"
)

// Start opens an execution's stream.
type Start struct {
	ExecutionID string `json:"execution_id"`
	Type        string `json:"type,omitempty"`
}

// Ping is the keepalive heartbeat. It is synthesized per connection and never buffered.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// NewPing returns a heartbeat stamped with t.
func NewPing(t time.Time) Ping { return Ping{Timestamp: t.Unix()} }

// Delta carries an incremental chunk of assistant output.
type Delta struct {
	Content string `json:"content"`
}

// Stage names a step of a multi-stage producer.
type Stage string

const (
	StageChecking     Stage = "checking"
	StageInstalling   Stage = "installing"
	StageBuilding     Stage = "building"
	StageDeploying    Stage = "deploying"
	StageArchitecture Stage = "architecture"
	StageSchemas      Stage = "schemas"
)

// Progress announces a stage transition.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Log carries one line of producer output.
type Log struct {
	Content string `json:"content"`
}

// ToolCallItem is one tool invocation requested by the model.
type ToolCallItem struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args,omitempty"`
}

// ToolCall lists the tool invocations of one model turn.
type ToolCall struct {
	ToolCalls []ToolCallItem `json:"tool_calls"`
}

// ToolStatus is the outcome of a tool invocation.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolOutput carries the result of one tool invocation.
type ToolOutput struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content,omitempty"`
	Status     ToolStatus `json:"status"`
}

// Result is the final payload of a successful LLM-driven execution.
type Result struct {
	Output string          `json:"output,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// DeployResult is the final payload of a successful deploy.
type DeployResult struct {
	PreviewURL string `json:"preview_url"`
	Message    string `json:"message"`
}

// Error reports a producer failure with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Type is the Go type of the underlying error, e.g. "*exec.ExitError".
	Type string `json:"type,omitempty"`
}

// Cancel reports that the execution stopped on request.
type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

// Done terminates the stream. Exactly one is appended per execution.
type Done struct {
	Status string `json:"status"`
}

func (Start) Kind() Kind        { return KindStart }
func (Ping) Kind() Kind         { return KindPing }
func (Delta) Kind() Kind        { return KindDelta }
func (Progress) Kind() Kind     { return KindProgress }
func (Log) Kind() Kind          { return KindLog }
func (ToolCall) Kind() Kind     { return KindToolCall }
func (ToolOutput) Kind() Kind   { return KindToolOutput }
func (Result) Kind() Kind       { return KindResult }
func (DeployResult) Kind() Kind { return KindDeployResult }
func (Error) Kind() Kind        { return KindError }
func (Cancel) Kind() Kind       { return KindCancel }
func (Done) Kind() Kind         { return KindDone }

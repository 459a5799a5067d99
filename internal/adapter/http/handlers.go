package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/llm"
	"github.com/Strob0t/StreamForge/internal/service"
)

// ToolLister lists the agent toolset.
type ToolLister interface {
	Tools() []llm.Tool
}

// Probe checks one dependency for /health.
type Probe func(ctx context.Context) error

// healthTimeout bounds the whole /health probe.
const healthTimeout = 2 * time.Second

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Executions *service.ExecutionService
	Tools      ToolLister
	Previews   *Previews
	Probes     map[string]Probe
	Version    string
}

type cancelResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

type toolResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Executions int               `json:"executions"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: h.Version, Executions: len(h.Executions.List())}
	status := http.StatusOK
	if len(h.Probes) > 0 {
		resp.Components = make(map[string]string, len(h.Probes))
		for name, check := range h.Probes {
			if err := check(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// SubmitConversation handles POST /api/v1/executions/conversation
func (h *Handlers) SubmitConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[execution.ConversationRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.Executions.SubmitConversation(req)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// SubmitSpec handles POST /api/v1/executions/spec
func (h *Handlers) SubmitSpec(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[execution.SpecRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.Executions.SubmitSpec(req)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// SubmitDeploy handles POST /api/v1/executions/deploy
func (h *Handlers) SubmitDeploy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[execution.DeployRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.Executions.SubmitDeploy(req)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// ListExecutions handles GET /api/v1/executions
func (h *Handlers) ListExecutions(w http.ResponseWriter, _ *http.Request) {
	infos := h.Executions.List()
	if infos == nil {
		infos = []execution.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	info, err := h.Executions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CancelExecution handles POST /api/v1/executions/{id}/cancel
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Executions.Cancel(id); err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{ExecutionID: id, Status: "cancelling"})
}

// ListEvents handles GET /api/v1/executions/{id}/events?after=N&limit=M
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	after, ok := queryInt(r, "after")
	if !ok {
		writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	page, err := h.Executions.Events(r.Context(), urlParam(r, "id"), after, int(limit))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListTools handles GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	out := []toolResponse{}
	if h.Tools != nil {
		for _, t := range h.Tools.Tools() {
			out = append(out, toolResponse{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

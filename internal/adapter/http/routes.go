package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the optional handlers and middleware mounted next to the API.
type RouteOptions struct {
	// Idempotency wraps execution submissions when set.
	Idempotency func(http.Handler) http.Handler
	// WS serves the lifecycle WebSocket at /ws when set.
	WS http.HandlerFunc
	// MCP serves the MCP endpoint at /mcp when set.
	MCP http.Handler
}

// MountRoutes registers all routes on the given chi router. Stream routes
// carry no timeout middleware; they live as long as the client stays attached.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.HealthCheck)
	if opts.WS != nil {
		r.Get("/ws", opts.WS)
	}
	r.Get("/stream/{executionId}", h.StreamExecution)
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}
	if h.Previews != nil {
		r.Get(h.Previews.Prefix()+"/{graphId}", h.Previews.RedirectPreview)
		r.Get(h.Previews.Prefix()+"/{graphId}/*", h.Previews.ServePreview)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecurityHeaders)

		r.Group(func(r chi.Router) {
			if opts.Idempotency != nil {
				r.Use(opts.Idempotency)
			}
			r.Post("/executions/conversation", h.SubmitConversation)
			r.Post("/executions/spec", h.SubmitSpec)
			r.Post("/executions/deploy", h.SubmitDeploy)
		})

		r.Get("/executions", h.ListExecutions)
		r.Get("/executions/{id}", h.GetExecution)
		r.Post("/executions/{id}/cancel", h.CancelExecution)
		r.Get("/executions/{id}/events", h.ListEvents)
		r.Get("/tools", h.ListTools)
	})
}

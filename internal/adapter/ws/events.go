package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// EventExecutionStatus is broadcast on every execution lifecycle transition.
const EventExecutionStatus = "execution.status"

// BroadcastEvent marshals payload and broadcasts it under eventType.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket event marshal failed", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: data})
}

// ExecutionStatusChanged implements service.StatusListener.
func (h *Hub) ExecutionStatusChanged(ctx context.Context, info execution.Info) {
	h.BroadcastEvent(ctx, EventExecutionStatus, info)
}

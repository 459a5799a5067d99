// Package broadcast defines the port for pushing execution lifecycle events
// to connected dashboard clients.
package broadcast

import "context"

// Broadcaster sends a typed event to every connected client. Delivery is
// best effort; slow or gone clients are dropped by the implementation.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

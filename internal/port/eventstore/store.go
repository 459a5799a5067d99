// Package eventstore defines the port interface for the durable execution archive.
package eventstore

import (
	"context"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// DefaultPageSize is used when LoadAfter is called with a non-positive limit.
const DefaultPageSize = 100

// MaxPageSize caps a single LoadAfter page.
const MaxPageSize = 1000

// Page is a sequence-ordered slice of archived events.
type Page struct {
	ExecutionID string        `json:"execution_id"`
	Events      []event.Event `json:"events"`
	// NextAfter is the cursor for the following page; equal to the last
	// returned sequence, or the request cursor when the page is empty.
	NextAfter int64 `json:"next_after"`
	HasMore   bool  `json:"has_more"`
}

// Store is the port interface for archiving and reading execution history.
type Store interface {
	// Append persists one event. Re-appending an existing (execution, sequence)
	// pair is a no-op.
	Append(ctx context.Context, executionID string, ev event.Event) error

	// UpsertExecution records the latest known snapshot of an execution.
	UpsertExecution(ctx context.Context, info execution.Info) error

	// GetExecution returns the archived snapshot or domain.ErrNotFound.
	GetExecution(ctx context.Context, executionID string) (*execution.Info, error)

	// LoadAfter returns up to limit events with sequence > after.
	LoadAfter(ctx context.Context, executionID string, after int64, limit int) (*Page, error)
}

// ClampLimit normalises a caller-supplied page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/eventstore"
)

// ArchiveSink copies every buffered event and status transition into the
// durable event store.
type ArchiveSink struct {
	store eventstore.Store
}

// NewArchiveSink creates an ArchiveSink writing to store.
func NewArchiveSink(store eventstore.Store) *ArchiveSink {
	return &ArchiveSink{store: store}
}

// Name implements Sink.
func (a *ArchiveSink) Name() string { return "archive" }

// Consume implements Sink.
func (a *ArchiveSink) Consume(ctx context.Context, executionID string, ev event.Event) error {
	return a.store.Append(ctx, executionID, ev)
}

// ExecutionStatusChanged implements StatusListener.
func (a *ArchiveSink) ExecutionStatusChanged(ctx context.Context, info execution.Info) {
	if err := a.store.UpsertExecution(ctx, info); err != nil {
		slog.Warn("archive execution status", "execution_id", info.ID, "status", info.Status, "error", err)
	}
}

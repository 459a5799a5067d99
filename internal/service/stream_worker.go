package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/event"
)

// FrameWriter is the transport a stream worker writes to.
type FrameWriter interface {
	WriteEvent(ev event.Event) error
	WritePing(p event.Ping) error
}

// WorkerPhase is the state of a stream worker.
type WorkerPhase string

const (
	PhaseReplay WorkerPhase = "replay"
	PhaseLive   WorkerPhase = "live"
	PhaseClosed WorkerPhase = "closed"
)

// StreamWorker serves one connection: it replays buffered events after the
// cursor, then tails live events, writing a ping whenever no event was
// written for the idle interval. It never owns the buffer.
type StreamWorker struct {
	handle *ExecutionHandle
	cursor int64
	idle   time.Duration
	now    func() time.Time

	phase WorkerPhase
}

// NewStreamWorker creates a worker reading handle's buffer after cursor.
func NewStreamWorker(handle *ExecutionHandle, cursor int64, idle time.Duration) *StreamWorker {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	if cursor < 0 {
		cursor = 0
	}
	return &StreamWorker{handle: handle, cursor: cursor, idle: idle, now: time.Now, phase: PhaseReplay}
}

// Phase returns the worker's current phase.
func (w *StreamWorker) Phase() WorkerPhase { return w.phase }

// Cursor returns the sequence of the last event written.
func (w *StreamWorker) Cursor() int64 { return w.cursor }

// Run streams until done has been written, the buffer closes, ctx ends, or a
// write fails. Write failures are returned; the caller decides whether they
// matter.
func (w *StreamWorker) Run(ctx context.Context, out FrameWriter) error {
	defer func() { w.phase = PhaseClosed }()

	sub := w.handle.Buffer().TailFrom(w.cursor)

	// REPLAY: everything already buffered past the cursor.
	w.phase = PhaseReplay
	batch, wait, closed := sub.Poll()
	finished, err := w.write(out, batch)
	if err != nil || finished {
		return err
	}
	if closed {
		return nil
	}

	// LIVE: the poll above and the wait channel share a lock, so no event
	// appended after replay can be missed.
	w.phase = PhaseLive
	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := out.WritePing(event.NewPing(w.now())); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
			timer.Reset(w.idle)
			continue
		case <-wait:
		}

		batch, wait, closed = sub.Poll()
		finished, err := w.write(out, batch)
		if err != nil || finished {
			return err
		}
		if closed {
			return nil
		}
		if len(batch) > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.idle)
		}
	}
}

// write sends batch in order and reports whether done was written.
func (w *StreamWorker) write(out FrameWriter, batch []event.Event) (bool, error) {
	for _, ev := range batch {
		if err := out.WriteEvent(ev); err != nil {
			return false, fmt.Errorf("write event %d: %w", ev.Sequence, err)
		}
		w.cursor = ev.Sequence
		if ev.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

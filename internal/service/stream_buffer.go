package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/event"
)

// ErrBufferClosed is returned when appending to a closed buffer.
var ErrBufferClosed = errors.New("event buffer closed")

// EventBuffer is the append-only, ordered event log of one execution.
// Sequence numbers are assigned on append, starting at 1 without gaps.
// Readers never block the writer; they wait on a notify channel that is
// closed and replaced on every append.
type EventBuffer struct {
	mu     sync.RWMutex
	events []event.Event
	closed bool
	notify chan struct{}
	now    func() time.Time
}

// NewEventBuffer creates an empty, open buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{notify: make(chan struct{}), now: time.Now}
}

// Append stores p as the next event and wakes all waiting readers.
func (b *EventBuffer) Append(p event.Payload) (event.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return event.Event{}, ErrBufferClosed
	}
	ev := event.Event{
		Sequence:  int64(len(b.events)) + 1,
		Payload:   p,
		CreatedAt: b.now().UTC(),
	}
	b.events = append(b.events, ev)
	b.broadcast()
	return ev, nil
}

// Close marks the buffer complete. Further appends fail. Idempotent.
func (b *EventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.broadcast()
}

// broadcast must be called with mu held for writing.
func (b *EventBuffer) broadcast() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Closed reports whether the buffer no longer accepts events.
func (b *EventBuffer) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// LastSequence returns the sequence of the newest event, or 0 when empty.
func (b *EventBuffer) LastSequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.events))
}

// ReadFrom returns the events with sequence greater than cursor.
// A negative cursor reads from the start; a cursor past the end yields nothing.
func (b *EventBuffer) ReadFrom(cursor int64) []event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sliceLocked(cursor)
}

func (b *EventBuffer) sliceLocked(cursor int64) []event.Event {
	n := int64(len(b.events))
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= n {
		return nil
	}
	// Full slice expression so callers cannot append into the shared array.
	return b.events[cursor:n:n]
}

// TailFrom returns a subscription that yields events after cursor.
func (b *EventBuffer) TailFrom(cursor int64) *Subscription {
	if cursor < 0 {
		cursor = 0
	}
	return &Subscription{buf: b, cursor: cursor}
}

// Subscription is a single reader's position in an EventBuffer.
// It is not safe for concurrent use.
type Subscription struct {
	buf    *EventBuffer
	cursor int64
}

// Cursor returns the sequence of the last event handed out.
func (s *Subscription) Cursor() int64 { return s.cursor }

// Poll returns the events appended since the last call, a channel that is
// closed on the next append or close, and whether the buffer is closed.
// All three are read under one lock, so no append can fall between the
// returned batch and the wait channel.
func (s *Subscription) Poll() ([]event.Event, <-chan struct{}, bool) {
	b := s.buf
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.sliceLocked(s.cursor)
	if len(batch) > 0 {
		s.cursor = batch[len(batch)-1].Sequence
	}
	return batch, b.notify, b.closed
}

// Next blocks until events are available and returns them. It returns
// io.EOF once the buffer is closed and fully drained.
func (s *Subscription) Next(ctx context.Context) ([]event.Event, error) {
	for {
		batch, wait, closed := s.Poll()
		if len(batch) > 0 {
			return batch, nil
		}
		if closed {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

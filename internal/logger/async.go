package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// warnEnqueueTimeout bounds how long a warn or error record waits for queue space.
const warnEnqueueTimeout = 50 * time.Millisecond

// asyncQueue is shared by an AsyncHandler and every handler derived from it.
type asyncQueue struct {
	ch      chan asyncRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to background workers so hot paths (stream
// workers, per-line build output) never wait on stdout. When the queue is
// full, debug and info records are dropped; warn and above wait briefly
// before being dropped. Context values are read by the wrapping handler
// before the record is queued.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers draining a queue of chanSize records.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	q := &asyncQueue{ch: make(chan asyncRecord, chanSize)}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for r := range q.ch {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle queues the record.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	r := asyncRecord{h: h.inner, rec: rec.Clone()}
	select {
	case h.q.ch <- r:
		return nil
	default:
	}
	if rec.Level < slog.LevelWarn {
		h.q.dropped.Add(1)
		return nil
	}

	t := time.NewTimer(warnEnqueueTimeout)
	defer t.Stop()
	select {
	case h.q.ch <- r:
	case <-t.C:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler sharing the queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains queued records and stops the workers. The dropped count, if
// any, is written synchronously as a final warning.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		close(h.q.ch)
		h.q.wg.Wait()
		if n := h.q.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}

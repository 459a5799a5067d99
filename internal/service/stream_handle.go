package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/logger"
)

// Producer is the task bound to an execution. It emits intermediate events
// through emit and returns an optional final payload (result or
// deploy_result). Returning an error ends the execution as failed, or as
// cancelled when the execution context was cancelled.
type Producer func(ctx context.Context, emit Emitter) (event.Payload, error)

// Emitter is the only channel through which a producer reaches its buffer.
type Emitter interface {
	ExecutionID() string
	Emit(ctx context.Context, p event.Payload) error
}

// errProducerFinished is returned by Emit after the producer has returned.
var errProducerFinished = errors.New("producer already finished")

// ExecutionHandle binds one producer run to one event buffer.
type ExecutionHandle struct {
	id        string
	typ       execution.Type
	buf       *EventBuffer
	createdAt time.Time
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	emitCh   chan event.Payload
	emitMu   sync.RWMutex
	finished bool
	terminal []event.Payload
	onStatus func(execution.Info)

	mu              sync.Mutex
	status          execution.Status
	lastActivity    time.Time
	lastDetach      time.Time
	subscribers     int
	finishedAt      *time.Time
	finalStatus     execution.Status
	cancelRequested bool
	started         bool

	pumpDone chan struct{}
}

func newExecutionHandle(parent context.Context, id string, typ execution.Type, emitBuffer int, now func() time.Time, onStatus func(execution.Info)) *ExecutionHandle {
	if emitBuffer <= 0 {
		emitBuffer = 1
	}
	ctx, cancel := context.WithCancel(parent)
	created := now()
	buf := NewEventBuffer()
	buf.now = now
	return &ExecutionHandle{
		id:           id,
		typ:          typ,
		buf:          buf,
		createdAt:    created,
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
		emitCh:       make(chan event.Payload, emitBuffer),
		onStatus:     onStatus,
		status:       execution.StatusPending,
		lastActivity: created,
		pumpDone:     make(chan struct{}),
	}
}

// ID returns the execution id.
func (h *ExecutionHandle) ID() string { return h.id }

// ExecutionID implements Emitter.
func (h *ExecutionHandle) ExecutionID() string { return h.id }

// Buffer returns the handle's event buffer.
func (h *ExecutionHandle) Buffer() *EventBuffer { return h.buf }

// Status returns the current lifecycle status.
func (h *ExecutionHandle) Status() execution.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed once the terminal done event has been appended.
func (h *ExecutionHandle) Done() <-chan struct{} { return h.pumpDone }

// Start spawns the producer. A handle can be started once.
func (h *ExecutionHandle) Start(p Producer) error {
	h.mu.Lock()
	if h.status != execution.StatusPending {
		st := h.status
		h.mu.Unlock()
		return fmt.Errorf("%w: execution %s is %s", domain.ErrConflict, h.id, st)
	}
	h.status = execution.StatusRunning
	h.started = true
	h.mu.Unlock()
	h.publishStatus()

	go h.pump()
	go h.run(p)
	return nil
}

func (h *ExecutionHandle) wasStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Cancel requests cooperative cancellation of the producer. A handle that
// was never started finishes as cancelled right away.
func (h *ExecutionHandle) Cancel() error {
	h.mu.Lock()
	if h.status.Terminal() {
		st := h.status
		h.mu.Unlock()
		return fmt.Errorf("%w: execution %s is already %s", domain.ErrConflict, h.id, st)
	}
	h.cancelRequested = true
	if h.status == execution.StatusPending {
		t := h.now()
		h.status = execution.StatusCancelled
		h.finishedAt = &t
		h.mu.Unlock()
		h.cancel()
		h.cancelPending()
		return nil
	}
	h.mu.Unlock()
	h.cancel()
	return nil
}

// cancelPending writes the terminal pair for a handle whose producer never
// ran. Start is refused once the status left pending, so nothing else
// appends concurrently.
func (h *ExecutionHandle) cancelPending() {
	h.append(event.Cancel{Reason: "cancelled before start"})
	h.append(event.Done{Status: string(execution.StatusCancelled)})
	h.buf.Close()
	close(h.pumpDone)
	h.publishStatus()
}

// Emit queues p for appending. Done and ping are reserved: done is appended
// by the handle itself and pings are never buffered.
func (h *ExecutionHandle) Emit(ctx context.Context, p event.Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", domain.ErrValidation)
	}
	switch p.Kind() {
	case event.KindDone, event.KindPing:
		return fmt.Errorf("%w: producers may not emit %s events", domain.ErrValidation, p.Kind())
	}

	h.emitMu.RLock()
	defer h.emitMu.RUnlock()
	if h.finished {
		return errProducerFinished
	}
	select {
	case h.emitCh <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ExecutionHandle) run(p Producer) {
	ctx, span := cfotel.StartExecutionSpan(logger.WithExecutionID(h.ctx, h.id), h.id, string(h.typ))
	defer span.End()

	final, err := h.invoke(ctx, p)

	var terminal []event.Payload
	switch {
	case err == nil:
		if final != nil {
			terminal = append(terminal, final)
		}
		terminal = append(terminal, event.Done{Status: string(execution.StatusCompleted)})
	case h.ctx.Err() != nil:
		terminal = append(terminal,
			event.Cancel{Reason: h.cancelReason()},
			event.Done{Status: string(execution.StatusCancelled)},
		)
		span.SetAttributes(attribute.Bool("execution.cancelled", true))
	default:
		terminal = append(terminal,
			event.ErrorPayload(err),
			event.Done{Status: string(execution.StatusFailed)},
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "producer failed", "type", h.typ, "error", err)
	}

	// Late Emit calls observe finished and fail; queued payloads drain first.
	h.emitMu.Lock()
	h.finished = true
	h.terminal = terminal
	close(h.emitCh)
	h.emitMu.Unlock()

	<-h.pumpDone
	h.cancel()
}

func (h *ExecutionHandle) cancelReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelRequested {
		return "cancelled by request"
	}
	return "server shutting down"
}

func (h *ExecutionHandle) invoke(ctx context.Context, p Producer) (final event.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("producer panic", "execution_id", h.id, "panic", r, "stack", string(debug.Stack()))
			final = nil
			err = event.Errorf(event.CodeProducerPanic, "producer panic: %v", r)
		}
	}()
	return p(ctx, h)
}

// pump is the single writer of the buffer.
func (h *ExecutionHandle) pump() {
	defer close(h.pumpDone)

	sawCancel := false
	for p := range h.emitCh {
		if p.Kind() == event.KindCancel {
			sawCancel = true
		}
		h.append(p)
	}

	for _, p := range h.terminal {
		switch v := p.(type) {
		case event.Cancel:
			if sawCancel {
				continue
			}
		case event.Done:
			h.finish(execution.Status(v.Status))
		}
		h.append(p)
	}
	h.buf.Close()
	h.publishStatus()
}

func (h *ExecutionHandle) append(p event.Payload) {
	if _, err := h.buf.Append(p); err != nil {
		slog.Error("append event", "execution_id", h.id, "kind", p.Kind(), "error", err)
		return
	}
	h.touch()
}

func (h *ExecutionHandle) finish(st execution.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.now()
	h.status = st
	h.finishedAt = &t
}

func (h *ExecutionHandle) touch() {
	h.mu.Lock()
	h.lastActivity = h.now()
	h.mu.Unlock()
}

// attach registers a subscriber and returns its release func.
func (h *ExecutionHandle) attach() func() {
	h.mu.Lock()
	h.subscribers++
	h.lastActivity = h.now()
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.subscribers--
			h.lastDetach = h.now()
			h.mu.Unlock()
		})
	}
}

// evictable reports whether the handle may be removed from the registry.
func (h *ExecutionHandle) evictable(now time.Time, retention, grace time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.status.Terminal() || h.subscribers > 0 {
		return false
	}
	if now.Sub(h.lastActivity) < retention {
		return false
	}
	return h.lastDetach.IsZero() || now.Sub(h.lastDetach) >= grace
}

// expire marks the handle evicted and releases its context.
func (h *ExecutionHandle) expire() {
	h.mu.Lock()
	if h.status != execution.StatusExpired {
		h.finalStatus = h.status
	}
	h.status = execution.StatusExpired
	h.mu.Unlock()
	h.cancel()
	h.buf.Close()
}

// Snapshot returns a point-in-time view of the handle.
func (h *ExecutionHandle) Snapshot() execution.Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := execution.Info{
		ID:             h.id,
		Type:           h.typ,
		Status:         h.status,
		LastSequence:   h.buf.LastSequence(),
		Subscribers:    h.subscribers,
		CreatedAt:      h.createdAt,
		LastActivityAt: h.lastActivity,
		FinalStatus:    h.finalStatus,
	}
	if h.finishedAt != nil {
		t := *h.finishedAt
		info.FinishedAt = &t
	}
	return info
}

func (h *ExecutionHandle) publishStatus() {
	if h.onStatus != nil {
		h.onStatus(h.Snapshot())
	}
}

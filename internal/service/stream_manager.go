package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// Sink observes every event of every execution after it has been buffered.
type Sink interface {
	Name() string
	Consume(ctx context.Context, executionID string, ev event.Event) error
}

// StatusListener is notified on every execution status transition. Each
// listener receives transitions in order on its own goroutine; ctx carries
// the per-call delivery timeout.
type StatusListener interface {
	ExecutionStatusChanged(ctx context.Context, info execution.Info)
}

// StreamManager is the registry of live execution handles.
type StreamManager struct {
	cfg config.Stream

	mu      sync.RWMutex
	handles map[string]*ExecutionHandle

	sinks      []Sink
	listeners  []*statusQueue
	expired    expiredSet
	closeQueue sync.Once
	metrics    *cfotel.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewStreamManager creates an empty registry.
func NewStreamManager(cfg config.Stream) *StreamManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamManager{
		cfg:     cfg,
		handles: make(map[string]*ExecutionHandle),
		ctx:     ctx,
		cancel:  cancel,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// AddSink registers a fan-out observer. Call before creating executions.
func (m *StreamManager) AddSink(s Sink) { m.sinks = append(m.sinks, s) }

// AddStatusListener registers a lifecycle observer. Call before creating executions.
func (m *StreamManager) AddStatusListener(l StatusListener) {
	m.listeners = append(m.listeners, newStatusQueue(l, m.cfg.ListenerTimeout))
}

// SetMetrics sets the OTEL metrics instruments.
func (m *StreamManager) SetMetrics(metrics *cfotel.Metrics) { m.metrics = metrics }

// Config returns the stream settings the manager was created with.
func (m *StreamManager) Config() config.Stream { return m.cfg }

// Create registers a new pending execution with a fresh id.
func (m *StreamManager) Create(typ execution.Type) (*ExecutionHandle, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("stream manager closed: %w", err)
	}

	h := newExecutionHandle(m.ctx, m.newID(), typ, m.cfg.EmitBuffer, m.now, m.statusChanged)

	m.mu.Lock()
	if _, exists := m.handles[h.id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: execution id %s already registered", domain.ErrConflict, h.id)
	}
	m.handles[h.id] = h
	m.mu.Unlock()

	if len(m.sinks) > 0 || m.metrics != nil {
		m.wg.Add(1)
		go m.fanOut(h)
	}
	m.statusChanged(h.Snapshot())
	return h, nil
}

// Submit creates an execution and starts p on it.
func (m *StreamManager) Submit(typ execution.Type, p Producer) (*ExecutionHandle, error) {
	h, err := m.Create(typ)
	if err != nil {
		return nil, err
	}
	if err := h.Start(p); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ExecutionsStarted.Add(m.ctx, 1, metric.WithAttributes(attribute.String("type", string(typ))))
	}
	return h, nil
}

// Get returns the live handle for id, or domain.ErrNotFound.
func (m *StreamManager) Get(id string) (*ExecutionHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return h, nil
}

// Attach resolves id and registers a subscriber in one step, so the sweeper
// cannot evict the handle between lookup and attach.
func (m *StreamManager) Attach(id string) (*ExecutionHandle, func(), error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return h, h.attach(), nil
}

// OpenStream attaches a new stream worker to execution id starting after
// cursor. The returned release func must be called when the connection ends.
func (m *StreamManager) OpenStream(id string, cursor int64) (*StreamWorker, func(), error) {
	h, detach, err := m.Attach(id)
	if err != nil {
		return nil, nil, err
	}
	if m.metrics != nil {
		m.metrics.ActiveStreams.Add(m.ctx, 1)
	}
	w := NewStreamWorker(h, cursor, m.cfg.IdleInterval)
	w.now = m.now
	var once sync.Once
	release := func() {
		once.Do(func() {
			detach()
			if m.metrics != nil {
				m.metrics.ActiveStreams.Add(context.Background(), -1)
			}
		})
	}
	return w, release, nil
}

// Cancel requests cancellation of a running execution.
func (m *StreamManager) Cancel(id string) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}
	return h.Cancel()
}

// List returns snapshots of all live handles, newest first.
func (m *StreamManager) List() []execution.Info {
	m.mu.RLock()
	out := make([]execution.Info, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Sweep evicts terminal handles with no subscribers whose last activity is
// older than the retention window. It returns the number evicted.
func (m *StreamManager) Sweep() int {
	now := m.now()
	var evicted []*ExecutionHandle

	m.mu.Lock()
	for id, h := range m.handles {
		if h.evictable(now, m.cfg.Retention, m.cfg.DetachGrace) {
			delete(m.handles, id)
			evicted = append(evicted, h)
		}
	}
	m.mu.Unlock()

	for _, h := range evicted {
		h.expire()
		info := h.Snapshot()
		if n := int32(len(m.listeners)); n > 0 {
			m.expired.put(info)
			remaining := &atomic.Int32{}
			remaining.Store(n)
			id := info.ID
			m.notify(info, func() {
				if remaining.Add(-1) == 0 {
					m.expired.remove(id)
				}
			})
		} else {
			m.notify(info, nil)
		}
		slog.Debug("execution evicted", "execution_id", h.id)
	}
	if len(evicted) > 0 && m.metrics != nil {
		m.metrics.ExecutionsExpired.Add(m.ctx, int64(len(evicted)))
	}
	return len(evicted)
}

// Expired returns the snapshot of an execution evicted by the last sweeps
// whose expiry has not yet reached every status listener.
func (m *StreamManager) Expired(id string) (execution.Info, bool) {
	return m.expired.get(id)
}

// StartSweeper runs Sweep every sweep interval. The returned func stops it.
func (m *StreamManager) StartSweeper() context.CancelFunc {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(m.ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Info("swept executions", "evicted", n)
				}
			}
		}
	}()
	return cancel
}

// Close cancels every producer, closes all buffers so attached workers end,
// and waits for sinks to drain or ctx to expire.
func (m *StreamManager) Close(ctx context.Context) error {
	m.cancel()

	m.mu.RLock()
	handles := make([]*ExecutionHandle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	var started []*ExecutionHandle
	for _, h := range handles {
		if h.wasStarted() {
			started = append(started, h)
		} else {
			// Never started: nothing else will close its buffer.
			h.buf.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, h := range started {
			<-h.Done()
		}
		m.wg.Wait()
		m.closeQueue.Do(func() {
			for _, q := range m.listeners {
				q.close()
			}
		})
		for _, q := range m.listeners {
			<-q.done
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream manager close: %w", ctx.Err())
	}
}

func (m *StreamManager) statusChanged(info execution.Info) {
	if m.metrics != nil && info.Status.Terminal() && info.Status != execution.StatusExpired {
		m.metrics.ExecutionsFinished.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("type", string(info.Type)),
			attribute.String("status", string(info.Status)),
		))
	}
	m.notify(info, nil)
}

// notify queues info for every listener. ack runs once per listener after
// delivery.
func (m *StreamManager) notify(info execution.Info, ack func()) {
	for _, q := range m.listeners {
		q.push(statusItem{info: info, ack: ack})
	}
}

// flushStatus waits until every status change queued so far has been
// delivered.
func (m *StreamManager) flushStatus(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, q := range m.listeners {
		wg.Add(1)
		q.push(statusItem{barrier: true, ack: wg.Done})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanOut tails the handle's buffer from the start and hands every event to
// each sink. Sink failures are logged and never reach the producer.
func (m *StreamManager) fanOut(h *ExecutionHandle) {
	defer m.wg.Done()

	sub := h.buf.TailFrom(0)
	for {
		// Sinks drain the buffer even during shutdown.
		batch, err := sub.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Error("sink tail", "execution_id", h.id, "error", err)
			return
		}
		for _, ev := range batch {
			if m.metrics != nil {
				m.metrics.EventsAppended.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind()))))
			}
			for _, s := range m.sinks {
				if err := s.Consume(context.Background(), h.id, ev); err != nil {
					slog.Warn("sink consume failed", "sink", s.Name(), "execution_id", h.id, "sequence", ev.Sequence, "error", err)
				}
			}
		}
	}
}

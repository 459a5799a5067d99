package service

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

const defaultListenerTimeout = 5 * time.Second

type statusItem struct {
	info    execution.Info
	barrier bool
	ack     func()
}

// statusQueue delivers status changes to one listener in order on its own
// goroutine. The queue is unbounded so a slow listener never stalls the
// goroutine reporting the transition.
type statusQueue struct {
	l       StatusListener
	timeout time.Duration

	mu     sync.Mutex
	items  []statusItem
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newStatusQueue(l StatusListener, timeout time.Duration) *statusQueue {
	if timeout <= 0 {
		timeout = defaultListenerTimeout
	}
	q := &statusQueue{
		l:       l,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *statusQueue) push(it statusItem) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if it.ack != nil {
			it.ack()
		}
		return
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.signal()
}

func (q *statusQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting items. Queued items are still delivered.
func (q *statusQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *statusQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, it := range items {
			q.deliver(it)
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *statusQueue) deliver(it statusItem) {
	if it.ack != nil {
		defer it.ack()
	}
	if it.barrier {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("status listener panic", "execution_id", it.info.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	q.l.ExecutionStatusChanged(ctx, it.info)
}

// expiredSet holds snapshots of evicted executions until every listener has
// seen the expiry, so lookups never fall into the gap before a tombstone or
// archive row is written.
type expiredSet struct {
	mu    sync.Mutex
	infos map[string]execution.Info
}

func (s *expiredSet) put(info execution.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.infos == nil {
		s.infos = make(map[string]execution.Info)
	}
	s.infos[info.ID] = info
}

func (s *expiredSet) get(id string) (execution.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[id]
	return info, ok
}

func (s *expiredSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, id)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// recordingWriter captures frames written by a stream worker.
type recordingWriter struct {
	mu      sync.Mutex
	events  []event.Event
	pings   int
	failOn  int64 // fail when writing this sequence; 0 disables
	written chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{written: make(chan struct{}, 1024)}
}

func (w *recordingWriter) WriteEvent(ev event.Event) error {
	if w.failOn != 0 && ev.Sequence == w.failOn {
		return errors.New("broken pipe")
	}
	w.mu.Lock()
	w.events = append(w.events, ev)
	w.mu.Unlock()
	w.written <- struct{}{}
	return nil
}

func (w *recordingWriter) WritePing(event.Ping) error {
	w.mu.Lock()
	w.pings++
	w.mu.Unlock()
	w.written <- struct{}{}
	return nil
}

func (w *recordingWriter) sequences() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, len(w.events))
	for i, ev := range w.events {
		out[i] = ev.Sequence
	}
	return out
}

func (w *recordingWriter) pingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pings
}

func runWorker(t *testing.T, m *StreamManager, id string, cursor int64, out FrameWriter) error {
	t.Helper()
	w, release, err := m.OpenStream(id, cursor)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = w.Run(ctx, out)
	if w.Phase() != PhaseClosed {
		t.Errorf("phase after Run = %s, want closed", w.Phase())
	}
	return err
}

func assertSequences(t *testing.T, got []int64, from, to int64) {
	t.Helper()
	if int64(len(got)) != to-from+1 {
		t.Fatalf("got sequences %v, want %d..%d", got, from, to)
	}
	for i, s := range got {
		if s != from+int64(i) {
			t.Fatalf("got sequences %v, want %d..%d", got, from, to)
		}
	}
}

func TestScenario_ReplayFromCursorThenClose(t *testing.T) {
	m := newTestManager(t, testStreamConfig())
	h, err := m.Submit(execution.TypeDeploy, emitAll(
		event.Start{ExecutionID: "E1"},
		event.Progress{Stage: event.StageChecking, Message: "checking project"},
	))
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	out := newRecordingWriter()
	if err := runWorker(t, m, h.ID(), 1, out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertSequences(t, out.sequences(), 2, 3)
	if k := out.events[0].Kind(); k != event.KindProgress {
		t.Errorf("first replayed kind = %s, want progress", k)
	}
	if !out.events[1].IsTerminal() {
		t.Error("worker must end on done")
	}
}

func TestWorker_ReconnectDoesNotRedeliver(t *testing.T) {
	m := newTestManager(t, testStreamConfig())
	h, err := m.Submit(execution.TypeConversation, emitAll(
		event.Delta{Content: "a"}, event.Delta{Content: "b"}, event.Delta{Content: "c"}, event.Delta{Content: "d"},
	))
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	first := newRecordingWriter()
	first.failOn = 3
	if err := runWorker(t, m, h.ID(), 0, first); err == nil {
		t.Fatal("expected write failure")
	}
	last := first.sequences()[len(first.sequences())-1]
	if last != 2 {
		t.Fatalf("first connection last sequence = %d, want 2", last)
	}

	second := newRecordingWriter()
	if err := runWorker(t, m, h.ID(), last, second); err != nil {
		t.Fatal(err)
	}
	assertSequences(t, second.sequences(), 3, 5)
}

func TestWorker_LiveTailGaplessForLateJoiners(t *testing.T) {
	const n = 200
	m := newTestManager(t, testStreamConfig())

	half := make(chan struct{})
	resume := make(chan struct{})
	h, err := m.Submit(execution.TypeConversation, func(ctx context.Context, emit Emitter) (event.Payload, error) {
		for i := range n {
			if i == n/2 {
				close(half)
				<-resume
			}
			if err := emit.Emit(ctx, event.Delta{Content: "t"}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	early := newRecordingWriter()
	late := newRecordingWriter()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runWorker(t, m, h.ID(), 0, early); err != nil {
			t.Errorf("early worker: %v", err)
		}
	}()

	<-half
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runWorker(t, m, h.ID(), 0, late); err != nil {
			t.Errorf("late worker: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(resume)
	wg.Wait()

	assertSequences(t, early.sequences(), 1, n+1)
	assertSequences(t, late.sequences(), 1, n+1)
}

func TestWorker_PingsOnIdleDoNotConsumeSequences(t *testing.T) {
	cfg := testStreamConfig()
	cfg.IdleInterval = 20 * time.Millisecond
	m := newTestManager(t, cfg)

	gate := make(chan struct{})
	h, err := m.Submit(execution.TypeDeploy, func(ctx context.Context, emit Emitter) (event.Payload, error) {
		if err := emit.Emit(ctx, event.Log{Content: "before"}); err != nil {
			return nil, err
		}
		<-gate
		return nil, emit.Emit(ctx, event.Log{Content: "after"})
	})
	if err != nil {
		t.Fatal(err)
	}

	idle := newRecordingWriter()
	done := make(chan error, 1)
	go func() { done <- runWorker(t, m, h.ID(), 0, idle) }()

	deadline := time.After(2 * time.Second)
	for idle.pingCount() < 2 {
		select {
		case <-idle.written:
		case <-deadline:
			t.Fatal("no pings on idle connection")
		}
	}
	if seq := h.Buffer().LastSequence(); seq != 1 {
		t.Fatalf("pings advanced the sequence counter to %d", seq)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	assertSequences(t, idle.sequences(), 1, 3)

	replay := newRecordingWriter()
	if err := runWorker(t, m, h.ID(), 0, replay); err != nil {
		t.Fatal(err)
	}
	assertSequences(t, replay.sequences(), 1, 3)
	if replay.pingCount() != 0 {
		t.Errorf("replay of a finished execution wrote %d pings", replay.pingCount())
	}
}

func TestWorker_ContextCancelDetaches(t *testing.T) {
	m := newTestManager(t, testStreamConfig())
	gate := make(chan struct{})
	h, err := m.Submit(execution.TypeConversation, func(ctx context.Context, _ Emitter) (event.Payload, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer close(gate)

	w, release, err := m.OpenStream(h.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Snapshot().Subscribers; got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, newRecordingWriter()) }()
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	release()
	release() // idempotent

	if got := h.Snapshot().Subscribers; got != 0 {
		t.Errorf("subscribers after release = %d, want 0", got)
	}
	if h.Status() != execution.StatusRunning {
		t.Errorf("client disconnect changed producer status to %s", h.Status())
	}
}

func TestWorker_EndsWhenExecutionEvicted(t *testing.T) {
	m := newTestManager(t, testStreamConfig())
	h, err := m.Create(execution.TypeDeploy)
	if err != nil {
		t.Fatal(err)
	}
	w, release, err := m.OpenStream(h.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	h.expire()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx, newRecordingWriter()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

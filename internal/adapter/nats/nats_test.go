package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Relay {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	cfg := config.Defaults().NATS
	cfg.URL = url
	r, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return r
}

func TestRelay_Subjects(t *testing.T) {
	r := &Relay{prefix: "streamforge.executions"}
	if got := r.EventSubject("abc"); got != "streamforge.executions.abc.events" {
		t.Errorf("EventSubject = %q", got)
	}
	if got := r.StatusSubject(); got != "streamforge.executions.status" {
		t.Errorf("StatusSubject = %q", got)
	}
	if r.Name() != "nats" {
		t.Errorf("Name = %q", r.Name())
	}
}

func TestRelay_ConsumePublishesEvents(t *testing.T) {
	r := testConnect(t)
	id := uuid.NewString()

	var (
		mu   sync.Mutex
		seqs []int64
		done = make(chan struct{})
		once sync.Once
	)
	stop, err := r.subscribe(context.Background(), r.EventSubject(id), jetstream.DeliverAllPolicy, func(_ context.Context, _ string, data []byte) error {
		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		mu.Lock()
		seqs = append(seqs, ev.Sequence)
		n := len(seqs)
		mu.Unlock()
		if n == 2 {
			once.Do(func() { close(done) })
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := context.Background()
	first := event.Event{Sequence: 1, Payload: event.Start{ExecutionID: id}, CreatedAt: time.Now()}
	for _, ev := range []event.Event{
		first,
		first, // duplicate, deduplicated by message id
		{Sequence: 2, Payload: event.Done{Status: "completed"}, CreatedAt: time.Now()},
	} {
		if err := r.Consume(ctx, id, ev); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed events")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("relayed sequences = %v, want [1 2]", seqs)
	}
}

func TestRelay_StatusChanged(t *testing.T) {
	r := testConnect(t)
	id := uuid.NewString()

	got := make(chan execution.Info, 8)
	stop, err := r.SubscribeStatus(context.Background(), func(_ context.Context, info execution.Info) {
		if info.ID == id {
			got <- info
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	r.ExecutionStatusChanged(context.Background(), execution.Info{ID: id, Type: execution.TypeDeploy, Status: execution.StatusRunning})

	select {
	case info := <-got:
		if info.Status != execution.StatusRunning {
			t.Errorf("status = %s", info.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
	}
}

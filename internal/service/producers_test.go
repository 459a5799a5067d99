package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/llm"
)

// fakeTurn scripts one StreamChat call.
type fakeTurn struct {
	deltas    []string
	toolCalls []llm.ToolCall
	err       error
	block     bool // wait for ctx cancellation
}

// fakeLLM replays scripted turns and structured responses in order.
type fakeLLM struct {
	mu             sync.Mutex
	turns          []fakeTurn
	structured     [][]byte
	structuredErr  error
	chatReqs       []llm.ChatRequest
	structuredReqs []llm.StructuredRequest
}

func (f *fakeLLM) StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(string) error) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	if len(f.turns) == 0 {
		f.mu.Unlock()
		return nil, errors.New("unexpected StreamChat call")
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	f.mu.Unlock()

	if turn.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if turn.err != nil {
		return nil, turn.err
	}
	resp := &llm.ChatResponse{ToolCalls: turn.toolCalls, FinishReason: "stop"}
	for _, d := range turn.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		resp.Content += d
	}
	if len(turn.toolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

func (f *fakeLLM) Structured(_ context.Context, req llm.StructuredRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structuredReqs = append(f.structuredReqs, req)
	if f.structuredErr != nil {
		return nil, f.structuredErr
	}
	if len(f.structured) == 0 {
		return nil, errors.New("unexpected Structured call")
	}
	out := f.structured[0]
	f.structured = f.structured[1:]
	return out, nil
}

// fakeTools is a Toolset backed by plain functions.
type fakeTools struct {
	fns   map[string]func(args string) (string, error)
	mu    sync.Mutex
	calls []string
}

func (f *fakeTools) Tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(f.fns))
	for name := range f.fns {
		out = append(out, llm.Tool{Name: name, Description: name + " tool"})
	}
	return out
}

func (f *fakeTools) Call(_ context.Context, name, args string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	fn, ok := f.fns[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %s", name)
	}
	return fn(args)
}

// runProducer submits p and returns the complete event log.
func runProducer(t *testing.T, typ execution.Type, p Producer) (*ExecutionHandle, []event.Event) {
	t.Helper()
	m := newTestManager(t, testStreamConfig())
	h, err := m.Submit(typ, p)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)
	return h, h.Buffer().ReadFrom(0)
}

func lastError(t *testing.T, events []event.Event) event.Error {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if e, ok := events[i].Payload.(event.Error); ok {
			return e
		}
	}
	t.Fatalf("no error event in %v", kinds(events))
	return event.Error{}
}

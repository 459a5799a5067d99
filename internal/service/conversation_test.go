package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/llm"
)

func convRequest() execution.ConversationRequest {
	return execution.ConversationRequest{
		GraphID:  "support-bot",
		Messages: []execution.Message{{Role: "user", Content: "what is 1 + 2?"}},
	}
}

func TestConversation_StreamsDeltasIntoResult(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{{deltas: []string{"Hel", "lo"}}}}
	svc := NewConversationService(client, nil, "gpt-test", 3)

	_, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	want := []event.Kind{event.KindStart, event.KindDelta, event.KindDelta, event.KindResult, event.KindDone}
	if got := kinds(events); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if res := events[3].Payload.(event.Result); res.Output != "Hello" {
		t.Errorf("result output = %q, want Hello", res.Output)
	}
	if start := events[0].Payload.(event.Start); start.Type != "conversation" {
		t.Errorf("start type = %q", start.Type)
	}

	req := client.chatReqs[0]
	if req.Model != "gpt-test" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "support-bot") {
		t.Errorf("system prompt does not name the graph: %q", req.Messages[0].Content)
	}
}

func TestConversation_ToolRound(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{{ID: "call_1", Name: "add", Arguments: `{"a":1,"b":2}`}}},
		{deltas: []string{"It is 3."}},
	}}
	tools := &fakeTools{fns: map[string]func(string) (string, error){
		"add": func(string) (string, error) { return "3", nil },
	}}
	svc := NewConversationService(client, tools, "gpt-test", 3)

	h, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	want := []event.Kind{
		event.KindStart, event.KindToolCall, event.KindToolOutput,
		event.KindDelta, event.KindResult, event.KindDone,
	}
	if got := kinds(events); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}

	tc := events[1].Payload.(event.ToolCall)
	if len(tc.ToolCalls) != 1 || tc.ToolCalls[0].ToolName != "add" || tc.ToolCalls[0].ToolCallID != "call_1" {
		t.Fatalf("tool call = %+v", tc)
	}
	if a, _ := tc.ToolCalls[0].Args["a"].(float64); a != 1 {
		t.Errorf("args = %v", tc.ToolCalls[0].Args)
	}

	out := events[2].Payload.(event.ToolOutput)
	if out.Status != event.ToolStatusSuccess || out.Content != "3" || out.ToolCallID != "call_1" {
		t.Errorf("tool output = %+v", out)
	}
	if res := events[4].Payload.(event.Result); res.Output != "It is 3." {
		t.Errorf("result = %q", res.Output)
	}
	if h.Status() != execution.StatusCompleted {
		t.Errorf("status = %s", h.Status())
	}

	second := client.chatReqs[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" || last.Content != "3" {
		t.Errorf("tool result message = %+v", last)
	}
	if prev := second[len(second)-2]; prev.Role != llm.RoleAssistant || len(prev.ToolCalls) != 1 {
		t.Errorf("assistant tool-call message = %+v", prev)
	}
}

func TestConversation_OutputJoinsRounds(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{
		{deltas: []string{"Let me add that."}, toolCalls: []llm.ToolCall{{ID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}}},
		{toolCalls: []llm.ToolCall{{ID: "c2", Name: "add", Arguments: `{"a":3,"b":0}`}}},
		{deltas: []string{"It is ", "3."}},
	}}
	tools := &fakeTools{fns: map[string]func(string) (string, error){
		"add": func(string) (string, error) { return "3", nil },
	}}
	svc := NewConversationService(client, tools, "m", 3)

	_, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	res, ok := events[len(events)-2].Payload.(event.Result)
	if !ok {
		t.Fatalf("kinds = %v", kinds(events))
	}
	if res.Output != "Let me add that.\nIt is 3." {
		t.Errorf("result output = %q", res.Output)
	}
}

func TestConversation_ToolFailureIsReportedNotFatal(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{{ID: "c1", Name: "explode", Arguments: `{}`}}},
		{deltas: []string{"sorry"}},
	}}
	tools := &fakeTools{fns: map[string]func(string) (string, error){
		"explode": func(string) (string, error) { return "", errors.New("tool crashed") },
	}}
	svc := NewConversationService(client, tools, "m", 3)

	h, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	out := events[2].Payload.(event.ToolOutput)
	if out.Status != event.ToolStatusError || out.Content != "tool crashed" {
		t.Errorf("tool output = %+v", out)
	}
	if h.Status() != execution.StatusCompleted {
		t.Errorf("status = %s, want completed", h.Status())
	}
}

func TestConversation_MaxToolRounds(t *testing.T) {
	loop := fakeTurn{toolCalls: []llm.ToolCall{{ID: "c", Name: "add", Arguments: `{}`}}}
	client := &fakeLLM{turns: []fakeTurn{loop, loop, loop}}
	tools := &fakeTools{fns: map[string]func(string) (string, error){
		"add": func(string) (string, error) { return "0", nil },
	}}
	svc := NewConversationService(client, tools, "m", 1)

	h, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	if h.Status() != execution.StatusFailed {
		t.Fatalf("status = %s, want failed", h.Status())
	}
	if e := lastError(t, events); e.Code != event.CodeToolRounds {
		t.Errorf("error code = %q, want %q", e.Code, event.CodeToolRounds)
	}
	if n := len(tools.calls); n != 1 {
		t.Errorf("tool executed %d times, want 1", n)
	}
}

func TestConversation_LLMUnavailable(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{{err: fmt.Errorf("%w: connection refused", llm.ErrUnavailable)}}}
	svc := NewConversationService(client, nil, "m", 3)

	_, events := runProducer(t, execution.TypeConversation, svc.Converse(convRequest()))

	if e := lastError(t, events); e.Code != event.CodeLLMUnavailable {
		t.Errorf("error code = %q", e.Code)
	}
	if countDone(events) != 1 {
		t.Errorf("expected exactly one done")
	}
}

func TestConversation_CancelStopsStream(t *testing.T) {
	client := &fakeLLM{turns: []fakeTurn{{block: true}}}
	svc := NewConversationService(client, nil, "m", 3)
	m := newTestManager(t, testStreamConfig())

	h, err := m.Submit(execution.TypeConversation, svc.Converse(convRequest()))
	if err != nil {
		t.Fatal(err)
	}
	// Wait for the start event so cancellation hits the blocked model call.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Buffer().TailFrom(0).Next(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(h.ID()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	events := h.Buffer().ReadFrom(0)
	want := []event.Kind{event.KindStart, event.KindCancel, event.KindDone}
	if got := kinds(events); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if h.Status() != execution.StatusCancelled {
		t.Errorf("status = %s", h.Status())
	}
}

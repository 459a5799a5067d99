package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/StreamForge/internal/adapter/openai"
	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/port/llm"
	"github.com/Strob0t/StreamForge/internal/resilience"
)

func newClient(t *testing.T, h http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return openai.NewClient(config.LLM{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func chunk(delta string, finish string) string {
	fr := "null"
	if finish != "" {
		fr = `"` + finish + `"`
	}
	return `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":` + delta + `,"finish_reason":` + fr + `}]}`
}

func TestStreamChat_Deltas(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth: %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" || body["stream"] != true {
			t.Errorf("unexpected body: %v", body)
		}
		writeChunks(w,
			chunk(`{"role":"assistant","content":"Hel"}`, ""),
			chunk(`{"content":"lo"}`, ""),
			chunk(`{}`, "stop"),
		)
	})

	var deltas []string
	resp, err := c.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, func(s string) error {
		deltas = append(deltas, s)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if strings.Join(deltas, "|") != "Hel|lo" {
		t.Errorf("deltas = %v", deltas)
	}
	if resp.Content != "Hello" || len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestStreamChat_ToolCallsAccumulate(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tools []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Tools) != 1 || body.Tools[0].Function.Name != "add" {
			t.Errorf("tools not forwarded: %+v", body.Tools)
		}
		writeChunks(w,
			chunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\":1,"}}]}`, ""),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"b\":2}"}}]}`, ""),
			chunk(`{}`, "tool_calls"),
		)
	})

	resp, err := c.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "1+2"}},
		Tools:    []llm.Tool{{Name: "add", Description: "Add two numbers", Parameters: map[string]any{"type": "object"}}},
	}, func(string) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "add" || tc.Arguments != `{"a":1,"b":2}` {
		t.Errorf("unexpected tool call %+v", tc)
	}
}

func TestStreamChat_CallbackErrorStops(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeChunks(w, chunk(`{"content":"a"}`, ""), chunk(`{"content":"b"}`, ""))
	})
	stop := errors.New("client gone")
	calls := 0
	_, err := c.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

func TestStructured(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResponseFormat struct {
				Type       string `json:"type"`
				JSONSchema struct {
					Name string `json:"name"`
				} `json:"json_schema"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ResponseFormat.Type != "json_schema" || body.ResponseFormat.JSONSchema.Name != "architecture" {
			t.Errorf("unexpected response_format: %+v", body.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c2","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"name\":\"demo\"}"}}]}`)
	})

	out, err := c.Structured(context.Background(), llm.StructuredRequest{
		Model:      "gpt-4o",
		Messages:   []llm.Message{{Role: llm.RoleSystem, Content: "design"}, {Role: llm.RoleUser, Content: "demo"}},
		SchemaName: "architecture",
		Schema:     map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"name":"demo"}` {
		t.Errorf("structured output = %s", out)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})
	c.SetBreaker(resilience.NewBreaker("llm", 1, time.Minute))

	req := llm.StructuredRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}, SchemaName: "s", Schema: map[string]any{}}
	if _, err := c.Structured(context.Background(), req); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("first call: expected ErrUnavailable, got %v", err)
	}
	_, err := c.Structured(context.Background(), req)
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("second call: expected open circuit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("backend called %d times, want 1", calls)
	}
}

// Package openai implements the llm port on top of the OpenAI chat completions API.
// Any OpenAI-compatible endpoint (LiteLLM, vLLM, Ollama) works via base_url.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/port/llm"
	"github.com/Strob0t/StreamForge/internal/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	client  openai.Client
	model   string
	breaker *resilience.Breaker
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a client from cfg.
func NewClient(cfg config.LLM) *Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Client{client: openai.NewClient(opts...), model: cfg.Model}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

func (c *Client) modelOr(name string) openai.ChatModel {
	if name == "" {
		name = c.model
	}
	return openai.ChatModel(name)
}

// execute runs call through the breaker. Cancellation by the caller is
// returned as is and never reported as the backend being unavailable.
func (c *Client) execute(ctx context.Context, call func(ctx context.Context) error) error {
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
}

// StreamChat implements llm.Client.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(string) error) (*llm.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.modelOr(req.Model),
		Messages: encodeMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	var (
		resp  *llm.ChatResponse
		cbErr error
	)
	err := c.execute(ctx, func(ctx context.Context) error {
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
				cbErr = err
				return nil
			}
		}
		if err := stream.Err(); err != nil {
			return err
		}
		resp = decodeCompletion(&acc.ChatCompletion)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cbErr != nil {
		return nil, cbErr
	}
	return resp, nil
}

// Structured implements llm.Client.
func (c *Client) Structured(ctx context.Context, req llm.StructuredRequest) ([]byte, error) {
	schema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   req.SchemaName,
		Schema: req.Schema,
	}
	if req.Description != "" {
		schema.Description = openai.String(req.Description)
	}
	params := openai.ChatCompletionNewParams{
		Model:    c.modelOr(req.Model),
		Messages: encodeMessages(req.Messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		},
	}

	var content string
	err := c.execute(ctx, func(ctx context.Context) error {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return errors.New("completion has no choices")
		}
		content = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty structured reply", llm.ErrUnavailable)
	}
	return []byte(content), nil
}

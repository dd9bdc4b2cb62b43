// Package llmclient is the opaque text-generation interface used by the
// summarization service. It is deliberately thin: one request/response
// shape, no provider-specific state, no streaming, no tool calling — the
// summarizer is the only caller and it needs nothing more.
package llmclient

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/goclaw/internal/ierrors"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
)

// Request is the opaque analysis request the summarizer builds.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the opaque analysis result.
type Response struct {
	Text      string
	ModelUsed string
}

// Client is implemented by every backend.
type Client interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// New builds a Client for provider ("anthropic", "openai", or "none").
// "none" returns a Client whose Analyze always fails with ErrExternalFailure,
// letting callers wire a client unconditionally and fail at call time only
// if summarization is actually invoked without a configured backend.
func New(provider, model, apiKey string) (Client, error) {
	switch provider {
	case "anthropic":
		return &anthropicClient{model: model, client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
	case "openai":
		return &openAIClient{model: model, client: openai.NewClient(apiKey)}, nil
	case "none", "":
		return unconfiguredClient{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

type anthropicClient struct {
	model  string
	client *anthropic.Client
}

func (c *anthropicClient) Analyze(ctx context.Context, req Request) (Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		L_warn("llmclient: anthropic request failed", "error", err)
		return Response{}, fmt.Errorf("anthropic analyze: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{Text: text, ModelUsed: c.model}, nil
}

type openAIClient struct {
	model  string
	client *openai.Client
}

func (c *openAIClient) Analyze(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		L_warn("llmclient: openai request failed", "error", err)
		return Response{}, fmt.Errorf("openai analyze: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai analyze: empty response")
	}
	return Response{Text: resp.Choices[0].Message.Content, ModelUsed: c.model}, nil
}

type unconfiguredClient struct{}

func (unconfiguredClient) Analyze(context.Context, Request) (Response, error) {
	return Response{}, fmt.Errorf("%w: no llm backend configured", ierrors.ErrExternalFailure)
}

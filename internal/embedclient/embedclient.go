// Package embedclient is the opaque embedding interface used by the CLI's
// search path to vectorize query text.
package embedclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/goclaw/internal/logging"
)

// Client embeds text into fixed-dimension vectors.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// New builds a Client for provider ("openai" or "none"). Anthropic has no
// embedding endpoint in this SDK generation, so it is not offered here;
// SPEC_FULL's domain stack table names openai for this concern.
func New(provider, model string, dimensions int, apiKey string) (Client, error) {
	switch provider {
	case "openai":
		return &openAIEmbedder{model: model, dims: dimensions, client: openai.NewClient(apiKey)}, nil
	case "none", "":
		return unconfiguredEmbedder{dims: dimensions}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

type openAIEmbedder struct {
	model  string
	dims   int
	client *openai.Client
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		L_warn("embedclient: openai embedding request failed", "error", err)
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *openAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return vecs[0], nil
}

func (e *openAIEmbedder) Dimensions() int { return e.dims }

type unconfiguredEmbedder struct{ dims int }

func (unconfiguredEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("no embedding backend configured")
}

func (unconfiguredEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding backend configured")
}

func (u unconfiguredEmbedder) Dimensions() int { return u.dims }

package embedding_service

import (
	"context"
	"errors"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/studora/ragpipe/provider"
)

const openAIBatchLimit = 2048

// OpenAIAdapter embeds text through the OpenAI embeddings endpoint.
type OpenAIAdapter struct {
	client    *openai.Client
	name      string
	model     string
	dimension int
}

func NewOpenAIAdapter(desc provider.Descriptor) *OpenAIAdapter {
	cfg := openai.DefaultConfig(desc.APIKey)
	if desc.APIURL != "" {
		cfg.BaseURL = desc.APIURL
	}
	return &OpenAIAdapter{
		client:    openai.NewClientWithConfig(cfg),
		name:      desc.Name,
		model:     desc.Model,
		dimension: desc.Dimension,
	}
}

func (a *OpenAIAdapter) Name() string    { return a.name }
func (a *OpenAIAdapter) Dimension() int  { return a.dimension }
func (a *OpenAIAdapter) BatchLimit() int { return openAIBatchLimit }

func (a *OpenAIAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(a.model),
		Input: texts,
	})
	if err != nil {
		return nil, classifyOpenAIError(a.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, provider.NewError(a.name, provider.KindUnavailable, 0, "incomplete embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		l2normalize(v)
		vectors[i] = v
	}
	return vectors, nil
}

func classifyOpenAIError(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &provider.Error{Provider: name, Kind: provider.KindRateLimited, StatusCode: 429, Err: err}
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &provider.Error{Provider: name, Kind: provider.KindAuth, StatusCode: apiErr.HTTPStatusCode, Err: err}
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 413:
			return &provider.Error{Provider: name, Kind: provider.KindInvalidInput, StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return &provider.Error{Provider: name, Kind: provider.KindUnavailable, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	// Network failures, timeouts and cancellations land here.
	return provider.WrapError(name, provider.KindUnavailable, err)
}

// l2normalize scales the vector to unit length so cosine similarity reduces
// to a dot product.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

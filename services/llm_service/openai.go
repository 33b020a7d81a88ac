package llm_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/studora/ragpipe/provider"
)

type OpenAIService struct {
	client *openai.Client
	name   string
	model  string
	logger *slog.Logger
}

func NewOpenAIService(desc provider.Descriptor, logger *slog.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(desc.APIKey)
	if desc.APIURL != "" {
		cfg.BaseURL = desc.APIURL
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		name:   desc.Name,
		model:  desc.Model,
		logger: logger,
	}
}

func (s *OpenAIService) Name() string { return s.name }

func (s *OpenAIService) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.HTTPStatusCode == 429:
				return "", &provider.Error{Provider: s.name, Kind: provider.KindRateLimited, StatusCode: 429, Err: err}
			case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
				return "", &provider.Error{Provider: s.name, Kind: provider.KindAuth, StatusCode: apiErr.HTTPStatusCode, Err: err}
			case apiErr.HTTPStatusCode == 400:
				return "", &provider.Error{Provider: s.name, Kind: provider.KindInvalidInput, StatusCode: apiErr.HTTPStatusCode, Err: err}
			}
			return "", &provider.Error{Provider: s.name, Kind: provider.KindUnavailable, StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return "", provider.WrapError(s.name, provider.KindUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return "", provider.NewError(s.name, provider.KindUnavailable, 0, "no choices in completion response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty completion from %s", s.name)
	}
	return content, nil
}

package llm_service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/studora/ragpipe/provider"
)

const anthropicMaxTokens = 2048

type AnthropicService struct {
	httpClient *http.Client
	name       string
	apiURL     string
	apiKey     string
	model      string
	logger     *slog.Logger
}

func NewAnthropicService(desc provider.Descriptor, timeout time.Duration, logger *slog.Logger) *AnthropicService {
	apiURL := desc.APIURL
	if apiURL == "" {
		apiURL = "https://api.anthropic.com/v1/messages"
	}
	return &AnthropicService{
		httpClient: &http.Client{Timeout: timeout},
		name:       desc.Name,
		apiURL:     apiURL,
		apiKey:     desc.APIKey,
		model:      desc.Model,
		logger:     logger,
	}
}

func (s *AnthropicService) Name() string { return s.name }

func (s *AnthropicService) Complete(ctx context.Context, prompt string) (string, error) {
	requestBody, err := json.Marshal(map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens": anthropicMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", provider.WrapError(s.name, provider.KindUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPResponse(s.name, resp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if len(result.Content) == 0 || result.Content[0].Text == "" {
		return "", provider.NewError(s.name, provider.KindUnavailable, 0, "unexpected response format from Anthropic API")
	}
	return result.Content[0].Text, nil
}

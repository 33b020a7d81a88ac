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

type GeminiService struct {
	httpClient *http.Client
	name       string
	apiURL     string
	apiKey     string
	model      string
	logger     *slog.Logger
}

func NewGeminiService(desc provider.Descriptor, timeout time.Duration, logger *slog.Logger) *GeminiService {
	apiURL := desc.APIURL
	if apiURL == "" {
		apiURL = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", desc.Model)
	}
	return &GeminiService{
		httpClient: &http.Client{Timeout: timeout},
		name:       desc.Name,
		apiURL:     apiURL,
		apiKey:     desc.APIKey,
		model:      desc.Model,
		logger:     logger,
	}
}

func (s *GeminiService) Name() string { return s.name }

func (s *GeminiService) Complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
	}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", s.apiURL, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
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
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", provider.NewError(s.name, provider.KindUnavailable, 0, "unexpected response format from Gemini API")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

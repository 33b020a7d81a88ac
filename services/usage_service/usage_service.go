package usage_service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Operation names the billable unit the gate meters.
type Operation string

const (
	OperationEmbedding  Operation = "embedding"
	OperationCompletion Operation = "completion"
)

// QuotaError is returned when the billing collaborator denies an operation.
// It surfaces before any provider cost is incurred.
type QuotaError struct {
	OwnerID string
	Reason  string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s", e.OwnerID, e.Reason)
}

// Gate is the pipeline's view of the external billing/limits module.
// CheckQuota runs before any embedding or completion work; RecordUsage runs
// only after a successful operation so failures never leave stale usage.
type Gate interface {
	CheckQuota(ctx context.Context, ownerID string, op Operation) error
	RecordUsage(ctx context.Context, ownerID string, op Operation, amount int) error
}

// HTTPGate talks to the billing collaborator over HTTP.
type HTTPGate struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPGate(endpoint string, logger *slog.Logger) *HTTPGate {
	return &HTTPGate{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type quotaCheckRequest struct {
	OwnerID   string `json:"owner_id"`
	Operation string `json:"operation"`
}

type quotaCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (g *HTTPGate) CheckQuota(ctx context.Context, ownerID string, op Operation) error {
	body, err := json.Marshal(quotaCheckRequest{OwnerID: ownerID, Operation: string(op)})
	if err != nil {
		return fmt.Errorf("failed to marshal quota check: %w", err)
	}

	url := fmt.Sprintf("%s/usage/check", g.endpoint)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create quota check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quota check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("quota check returned status %d: %s", resp.StatusCode, string(raw))
	}

	var check quotaCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return fmt.Errorf("failed to decode quota check response: %w", err)
	}
	if !check.Allowed {
		return &QuotaError{OwnerID: ownerID, Reason: check.Reason}
	}
	return nil
}

type usageRecordRequest struct {
	OwnerID   string `json:"owner_id"`
	Operation string `json:"operation"`
	Amount    int    `json:"amount"`
}

func (g *HTTPGate) RecordUsage(ctx context.Context, ownerID string, op Operation, amount int) error {
	body, err := json.Marshal(usageRecordRequest{OwnerID: ownerID, Operation: string(op), Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	url := fmt.Sprintf("%s/usage/record", g.endpoint)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create usage record request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("usage record request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("usage record returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// AllowAllGate is used when no billing endpoint is configured (development).
type AllowAllGate struct{}

func (AllowAllGate) CheckQuota(context.Context, string, Operation) error { return nil }

func (AllowAllGate) RecordUsage(context.Context, string, Operation, int) error { return nil }

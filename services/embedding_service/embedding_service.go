package embedding_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studora/ragpipe/chunker"
	"github.com/studora/ragpipe/provider"
)

// Adapter turns text into fixed-dimension vectors for one vendor. Swapping
// vendors means swapping the adapter; callers never change.
type Adapter interface {
	Name() string
	Dimension() int
	// BatchLimit is the maximum number of inputs one call may carry.
	BatchLimit() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultCallTimeout = 120 * time.Second
	// maxInputTokens rejects oversized inputs before any provider call.
	maxInputTokens = 8192
)

// Client batches embedding requests to the adapter's limit and retries
// retryable failures with exponential backoff. All other failures propagate
// immediately. Every provider call runs under callTimeout so a hung call
// can never stall an indexing run indefinitely.
type Client struct {
	adapter     Adapter
	limiter     *provider.RateLimiter
	maxRetries  int
	baseDelay   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

func NewClient(adapter Adapter, limiter *provider.RateLimiter, callTimeout time.Duration, logger *slog.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Client{
		adapter:     adapter,
		limiter:     limiter,
		maxRetries:  defaultMaxRetries,
		baseDelay:   defaultBaseDelay,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

func (c *Client) Dimension() int       { return c.adapter.Dimension() }
func (c *Client) ProviderName() string { return c.adapter.Name() }

// EmbedTexts embeds every text, preserving order. Inputs above the token
// limit fail with an invalid-input error before any call is made.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, false)
}

// EmbedQuery embeds a single query string. On the query path a timeout is a
// hard failure so queries never hang behind retries of a dead provider.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, true)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, queryPath bool) ([][]float32, error) {
	for i, text := range texts {
		if chunker.CountTokens(text) > maxInputTokens {
			return nil, provider.NewError(c.adapter.Name(), provider.KindInvalidInput, 0,
				fmt.Sprintf("input %d exceeds %d tokens", i, maxInputTokens))
		}
	}

	limit := c.adapter.BatchLimit()
	if limit <= 0 {
		limit = len(texts)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += limit {
		end := start + limit
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end], queryPath)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, queryPath bool) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, provider.WrapError(c.adapter.Name(), provider.KindUnavailable, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		vectors, err := c.adapter.Embed(callCtx, texts)
		cancel()
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("provider %s returned %d vectors for %d inputs",
					c.adapter.Name(), len(vectors), len(texts))
			}
			for i, v := range vectors {
				if len(v) != c.adapter.Dimension() {
					return nil, fmt.Errorf("provider %s returned dimension %d for input %d, expected %d",
						c.adapter.Name(), len(v), i, c.adapter.Dimension())
				}
			}
			return vectors, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, provider.WrapError(c.adapter.Name(), provider.KindUnavailable, ctx.Err())
		}
		// Query-path timeouts fail hard: a query must never wait out the
		// retry budget of a dead provider.
		if queryPath && errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.WrapError(c.adapter.Name(), provider.KindUnavailable, err)
		}
		if !provider.IsRetryable(err) {
			return nil, err
		}
		if pe, ok := provider.AsError(err); ok && pe.Kind == provider.KindRateLimited && c.limiter != nil {
			c.limiter.ObserveRateLimit(pe.RetryAfter)
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Warn("Embedding attempt failed, retrying",
			slog.String("provider", c.adapter.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if err := provider.SleepBackoff(ctx, c.baseDelay, attempt, err); err != nil {
			return nil, provider.WrapError(c.adapter.Name(), provider.KindUnavailable, err)
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.maxRetries, lastErr)
}

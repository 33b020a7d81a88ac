package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/studora/ragpipe/provider"
	"github.com/studora/ragpipe/registry"
	"github.com/studora/ragpipe/retriever"
	"github.com/studora/ragpipe/services/llm_service"
)

// ErrNoProviderAvailable is returned when every configured completion
// provider has been exhausted. Callers must surface it rather than
// substitute a canned response.
var ErrNoProviderAvailable = errors.New("no completion provider available")

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = time.Second
	defaultCallTimeout = 120 * time.Second
)

// citationMarker matches the [Sn] source labels the prompt asks the model
// to emit.
var citationMarker = regexp.MustCompile(`\[S(\d+)\]`)

// Answer is the grounded response for one query.
type Answer struct {
	Text          string
	CitedChunkIDs []string
	ProviderUsed  string
}

// Orchestrator walks the ordered provider list: each provider gets bounded
// retries with exponential backoff for retryable failures; non-retryable
// failures skip straight to the next provider.
type Orchestrator struct {
	registry    *registry.ProviderRegistry
	providers   []provider.Descriptor
	maxRetries  int
	baseDelay   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

func New(reg *registry.ProviderRegistry, providers []provider.Descriptor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		providers:   providers,
		maxRetries:  defaultMaxRetries,
		baseDelay:   defaultBaseDelay,
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
}

// Answer composes a grounded answer for the question from the retrieved
// context, failing over across providers in priority order.
func (o *Orchestrator) Answer(ctx context.Context, question string, bundle *retriever.ContextBundle) (*Answer, error) {
	prompt := BuildPrompt(question, bundle)

	for _, desc := range o.providers {
		service, err := o.registry.GetCompletionService(desc.Name)
		if err != nil {
			o.logger.Error("Skipping unregistered completion provider",
				slog.String("provider", desc.Name))
			continue
		}

		text, err := o.tryProvider(ctx, desc, service, prompt)
		if err == nil {
			return &Answer{
				Text:          text,
				CitedChunkIDs: extractCitations(text, bundle),
				ProviderUsed:  desc.Name,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		o.logger.Warn("Completion provider exhausted, failing over",
			slog.String("provider", desc.Name),
			slog.String("error", err.Error()))
	}

	return nil, ErrNoProviderAvailable
}

func (o *Orchestrator) tryProvider(ctx context.Context, desc provider.Descriptor, service llm_service.CompletionService, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		if desc.Limiter != nil {
			if err := desc.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		text, err := service.Complete(callCtx, prompt)
		cancel()
		if err == nil {
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !provider.IsRetryable(err) {
			return "", err
		}
		if pe, ok := provider.AsError(err); ok && pe.Kind == provider.KindRateLimited && desc.Limiter != nil {
			desc.Limiter.ObserveRateLimit(pe.RetryAfter)
		}
		if attempt == o.maxRetries {
			break
		}

		o.logger.Warn("Completion attempt failed, retrying",
			slog.String("provider", desc.Name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if err := provider.SleepBackoff(ctx, o.baseDelay, attempt, err); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("provider %s failed after %d attempts: %w", desc.Name, o.maxRetries, lastErr)
}

// BuildPrompt composes the grounded-answer prompt. Each context section is
// labeled [Sn]; the model is asked to cite those labels so citations can be
// recovered from the output.
func BuildPrompt(question string, bundle *retriever.ContextBundle) string {
	var b strings.Builder
	b.WriteString("You are a study assistant. Answer the question using only the sources below.\n")
	b.WriteString("Cite every source you draw on by its label, e.g. [S1]. ")
	b.WriteString("If the sources do not contain the answer, say so.\n\nSources:\n")
	b.WriteString(bundle.AssembledText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// extractCitations recovers cited chunk ids from the [Sn] markers in the
// model output. Citation extraction is best-effort: when the model emitted
// no markers, every chunk supplied in context is cited.
func extractCitations(text string, bundle *retriever.ContextBundle) []string {
	seen := make(map[int]bool)
	var cited []string
	for _, match := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(bundle.Chunks) || seen[n] {
			continue
		}
		seen[n] = true
		cited = append(cited, bundle.Chunks[n-1].ID())
	}

	if len(cited) == 0 {
		for _, c := range bundle.Chunks {
			cited = append(cited, c.ID())
		}
	}
	return cited
}

package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studora/ragpipe/chunker"
	"github.com/studora/ragpipe/vectorstore"
)

const (
	DefaultTopK        = 5
	DefaultMinScore    = 0.7
	DefaultTokenBudget = 3000
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers similarity searches; vectorstore.Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, scope vectorstore.OwnerScope, topK int, minScore float64) ([]vectorstore.ScoredChunk, error)
}

// ContextBundle is the ephemeral result of one retrieval: the ranked chunks
// and the assembled prompt context. Never persisted.
type ContextBundle struct {
	Query         string
	QueryVector   []float32
	Chunks        []vectorstore.ScoredChunk
	AssembledText string
}

// Retriever turns a question into a bounded context bundle.
type Retriever struct {
	embedder    QueryEmbedder
	store       Searcher
	minScore    float64
	tokenBudget int
	logger      *slog.Logger
}

func New(embedder QueryEmbedder, store Searcher, minScore float64, tokenBudget int, logger *slog.Logger) *Retriever {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Retriever{
		embedder:    embedder,
		store:       store,
		minScore:    minScore,
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// Retrieve embeds the query, searches the store within scope and assembles
// the context string. When the ranked set exceeds the token budget the
// lowest-scoring chunks are dropped whole; chunks are never truncated.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope vectorstore.OwnerScope, topK int) (*ContextBundle, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := r.store.Search(ctx, queryVector, scope, topK, r.minScore)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	chunks = r.fitBudget(chunks)

	return &ContextBundle{
		Query:         query,
		QueryVector:   queryVector,
		Chunks:        chunks,
		AssembledText: assembleContext(chunks),
	}, nil
}

// fitBudget drops the lowest-scoring chunks until the total token count fits
// the budget. Search results arrive ranked best-first, so trimming from the
// tail removes the weakest chunks.
func (r *Retriever) fitBudget(chunks []vectorstore.ScoredChunk) []vectorstore.ScoredChunk {
	total := 0
	for _, c := range chunks {
		total += chunker.CountTokens(c.Content)
	}
	dropped := 0
	for len(chunks) > 1 && total > r.tokenBudget {
		total -= chunker.CountTokens(chunks[len(chunks)-1].Content)
		chunks = chunks[:len(chunks)-1]
		dropped++
	}
	if dropped > 0 {
		r.logger.Debug("Dropped chunks to fit context budget",
			slog.Int("dropped", dropped),
			slog.Int("kept", len(chunks)))
	}
	return chunks
}

// assembleContext writes one numbered section per chunk. The [Sn] labels are
// the citation markers the completion prompt asks the model to emit.
func assembleContext(chunks []vectorstore.ScoredChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[S%d] (document %s, chars %d-%d)\n%s\n\n",
			i+1, c.DocumentID, c.StartOffset, c.EndOffset, c.Content)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studora/ragpipe/vectorstore"
)

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	s.calls++
	return s.vector, s.err
}

type stubSearcher struct {
	results   []vectorstore.ScoredChunk
	gotTopK   int
	gotScope  vectorstore.OwnerScope
	gotVector []float32
}

func (s *stubSearcher) Search(_ context.Context, vec []float32, scope vectorstore.OwnerScope, topK int, _ float64) ([]vectorstore.ScoredChunk, error) {
	s.gotVector = vec
	s.gotScope = scope
	s.gotTopK = topK
	return s.results, nil
}

func scoredChunk(score float64, tokens int) vectorstore.ScoredChunk {
	words := make([]string, tokens)
	for i := range words {
		words[i] = "tok"
	}
	return vectorstore.ScoredChunk{
		Chunk: vectorstore.Chunk{
			DocumentID:  uuid.New(),
			Content:     strings.Join(words, " "),
			StartOffset: 0,
			EndOffset:   tokens * 4,
		},
		Score:             score,
		DocumentCreatedAt: time.Now(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRetrievePassesScopeAndTopK(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	searcher := &stubSearcher{results: []vectorstore.ScoredChunk{scoredChunk(0.9, 10)}}
	r := New(embedder, searcher, 0.7, 1000, discardLogger())

	scope := vectorstore.OwnerScope{OwnerID: "alice", SubjectID: "math"}
	bundle, err := r.Retrieve(context.Background(), "what is a derivative?", scope, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, scope, searcher.gotScope)
	assert.Equal(t, 3, searcher.gotTopK)
	assert.Equal(t, []float32{1, 0}, searcher.gotVector)
	assert.Len(t, bundle.Chunks, 1)
	assert.Equal(t, "what is a derivative?", bundle.Query)
}

func TestRetrieveDropsLowestScoringToFitBudget(t *testing.T) {
	results := []vectorstore.ScoredChunk{
		scoredChunk(0.95, 400),
		scoredChunk(0.85, 400),
		scoredChunk(0.75, 400),
	}
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSearcher{results: results}, 0.7, 900, discardLogger())

	bundle, err := r.Retrieve(context.Background(), "q", vectorstore.OwnerScope{OwnerID: "alice"}, 5)
	require.NoError(t, err)

	// Two 400-token chunks fit the 900-token budget; the lowest-scoring
	// third is dropped whole.
	require.Len(t, bundle.Chunks, 2)
	assert.Equal(t, 0.95, bundle.Chunks[0].Score)
	assert.Equal(t, 0.85, bundle.Chunks[1].Score)
}

func TestRetrieveNeverTruncatesAndKeepsAtLeastOneChunk(t *testing.T) {
	results := []vectorstore.ScoredChunk{scoredChunk(0.9, 5000)}
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSearcher{results: results}, 0.7, 100, discardLogger())

	bundle, err := r.Retrieve(context.Background(), "q", vectorstore.OwnerScope{OwnerID: "alice"}, 5)
	require.NoError(t, err)

	require.Len(t, bundle.Chunks, 1)
	assert.Equal(t, results[0].Content, bundle.Chunks[0].Content)
}

func TestAssembledTextCarriesCitationMarkers(t *testing.T) {
	results := []vectorstore.ScoredChunk{
		scoredChunk(0.9, 10),
		scoredChunk(0.8, 10),
	}
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSearcher{results: results}, 0.7, 1000, discardLogger())

	bundle, err := r.Retrieve(context.Background(), "q", vectorstore.OwnerScope{OwnerID: "alice"}, 5)
	require.NoError(t, err)

	assert.Contains(t, bundle.AssembledText, "[S1]")
	assert.Contains(t, bundle.AssembledText, "[S2]")
	assert.Contains(t, bundle.AssembledText, fmt.Sprintf("document %s", results[0].DocumentID))
	assert.Contains(t, bundle.AssembledText, "chars 0-40")
}

func TestRetrieveEmptyResults(t *testing.T) {
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSearcher{}, 0.7, 1000, discardLogger())

	bundle, err := r.Retrieve(context.Background(), "q", vectorstore.OwnerScope{OwnerID: "alice"}, 5)
	require.NoError(t, err)
	assert.Empty(t, bundle.Chunks)
	assert.Empty(t, bundle.AssembledText)
}

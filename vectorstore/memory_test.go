package vectorstore

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitVec builds a 3-dimensional unit vector whose cosine similarity with
// the query [1,0,0] equals score.
func unitVec(score float64) []float32 {
	y := math.Sqrt(1 - score*score)
	return []float32{float32(score), float32(y), 0}
}

var queryVec = []float32{1, 0, 0}

func newIndexedDoc(t *testing.T, store *MemoryStore, owner, subject string, createdAt time.Time, scores ...float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	doc := &Document{
		OwnerID:   owner,
		SubjectID: subject,
		Content:   "doc content",
		CreatedAt: createdAt,
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	chunks := make([]Chunk, len(scores))
	for i, score := range scores {
		chunks[i] = Chunk{
			DocumentID:  doc.ID,
			Ordinal:     i,
			Content:     "chunk",
			Embedding:   unitVec(score),
			StartOffset: i * 10,
			EndOffset:   i*10 + 5,
		}
	}
	require.NoError(t, store.UpsertChunks(ctx, doc.ID, chunks))
	require.NoError(t, store.SetIndexState(ctx, doc.ID, StateIndexed, ""))
	return doc.ID
}

func TestSearchThreshold(t *testing.T) {
	store := NewMemoryStore(3)
	newIndexedDoc(t, store, "alice", "", time.Now(), 0.95, 0.8, 0.6)

	scope := OwnerScope{OwnerID: "alice"}
	results, err := store.Search(context.Background(), queryVec, scope, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.7)
	}

	// Raising minScore can never increase the result count.
	higher, err := store.Search(context.Background(), queryVec, scope, 10, 0.9)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(higher), len(results))

	none, err := store.Search(context.Background(), queryVec, scope, 10, 0.99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchOwnerScoping(t *testing.T) {
	store := NewMemoryStore(3)
	// Bob's chunk would outrank Alice's if scoping were left to the caller.
	newIndexedDoc(t, store, "bob", "", time.Now(), 0.99)
	aliceDoc := newIndexedDoc(t, store, "alice", "math", time.Now(), 0.8)

	results, err := store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, aliceDoc, results[0].DocumentID)

	// Subject filter narrows further.
	results, err = store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice", SubjectID: "physics"}, 10, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// Committed chunks stay visible while a re-index is in flight and after a
// failed re-index; only UpsertChunks replaces what a query can see.
func TestSearchSeesCommittedChunksRegardlessOfIndexState(t *testing.T) {
	store := NewMemoryStore(3)
	docID := newIndexedDoc(t, store, "alice", "", time.Now(), 0.9, 0.8)

	require.NoError(t, store.SetIndexState(context.Background(), docID, StateIndexing, ""))
	results, err := store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, store.SetIndexState(context.Background(), docID, StateFailed, "embedding failed"))
	results, err = store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchTieBreakDeterministic(t *testing.T) {
	store := NewMemoryStore(3)
	older := newIndexedDoc(t, store, "alice", "", time.Now().Add(-time.Hour), 0.9, 0.9)
	newer := newIndexedDoc(t, store, "alice", "", time.Now(), 0.9)

	results, err := store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Equal scores: ordinal ascending first, document recency breaks the
	// remaining tie among ordinal-0 chunks.
	assert.Equal(t, 0, results[0].Ordinal)
	assert.Equal(t, newer, results[0].DocumentID)
	assert.Equal(t, 0, results[1].Ordinal)
	assert.Equal(t, older, results[1].DocumentID)
	assert.Equal(t, 1, results[2].Ordinal)
}

func TestSearchTopK(t *testing.T) {
	store := NewMemoryStore(3)
	newIndexedDoc(t, store, "alice", "", time.Now(), 0.95, 0.9, 0.85, 0.8)

	results, err := store.Search(context.Background(), queryVec, OwnerScope{OwnerID: "alice"}, 2, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestUpsertReplacesWholesale(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	docID := newIndexedDoc(t, store, "alice", "", time.Now(), 0.9, 0.9, 0.9)

	require.NoError(t, store.UpsertChunks(ctx, docID, []Chunk{
		{DocumentID: docID, Ordinal: 0, Content: "new", Embedding: unitVec(0.85)},
	}))

	results, err := store.Search(ctx, queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Content)
}

func TestUpsertDimensionMismatch(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	doc := &Document{OwnerID: "alice", Content: "text"}
	require.NoError(t, store.CreateDocument(ctx, doc))

	err := store.UpsertChunks(ctx, doc.ID, []Chunk{
		{DocumentID: doc.ID, Ordinal: 0, Embedding: []float32{1, 0}},
	})
	assert.Error(t, err)
}

// A query racing a re-index must observe either the complete old chunk set
// or the complete new one, never a mix.
func TestConcurrentSearchSeesConsistentChunkSet(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	docID := newIndexedDoc(t, store, "alice", "", time.Now(), 0.9, 0.9)

	oldSet := []Chunk{
		{DocumentID: docID, Ordinal: 0, Content: "old", Embedding: unitVec(0.9)},
		{DocumentID: docID, Ordinal: 1, Content: "old", Embedding: unitVec(0.9)},
	}
	newSet := []Chunk{
		{DocumentID: docID, Ordinal: 0, Content: "new", Embedding: unitVec(0.9)},
		{DocumentID: docID, Ordinal: 1, Content: "new", Embedding: unitVec(0.9)},
		{DocumentID: docID, Ordinal: 2, Content: "new", Embedding: unitVec(0.9)},
	}

	// Establish oldSet before the writer starts so every observation is one
	// of exactly two known sets.
	require.NoError(t, store.UpsertChunks(ctx, docID, oldSet))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		sets := [][]Chunk{oldSet, newSet}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = store.UpsertChunks(ctx, docID, sets[i%2])
		}
	}()

	for i := 0; i < 200; i++ {
		results, err := store.Search(ctx, queryVec, OwnerScope{OwnerID: "alice"}, 10, 0.7)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		content := results[0].Content
		for _, r := range results {
			assert.Equal(t, content, r.Content, "mixed old/new chunk set observed")
		}
		if content == "old" {
			assert.Len(t, results, 2)
		} else {
			assert.Len(t, results, 3)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDeleteDocumentCascades(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	docID := newIndexedDoc(t, store, "alice", "", time.Now(), 0.9)

	require.NoError(t, store.DeleteDocument(ctx, docID))

	_, err := store.GetDocument(ctx, docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	results, err := store.Search(ctx, queryVec, OwnerScope{OwnerID: "alice"}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, store.DeleteDocument(ctx, docID), ErrDocumentNotFound)
}

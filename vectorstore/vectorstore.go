package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IndexState tracks where a document sits in the ingestion lifecycle.
type IndexState string

const (
	StateNotIndexed IndexState = "not_indexed"
	StateIndexing   IndexState = "indexing"
	StateIndexed    IndexState = "indexed"
	StateFailed     IndexState = "failed"
)

var ErrDocumentNotFound = errors.New("document not found")

// Document holds the extracted text and indexing state for one ingested
// resource. Ownership checks belong to the external resource module; the
// pipeline only reads the text and flips the indexing state.
type Document struct {
	ID         uuid.UUID
	OwnerID    string
	SubjectID  string
	Filename   string
	Content    string
	IndexState IndexState
	IndexError string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is the unit of embedding and retrieval. Chunks are keyed by
// (DocumentID, Ordinal); ordinals are contiguous per document.
type Chunk struct {
	DocumentID  uuid.UUID
	Ordinal     int
	Content     string
	Embedding   []float32
	StartOffset int
	EndOffset   int
}

// ID returns the composite chunk identifier used in citations.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.DocumentID, c.Ordinal)
}

// ScoredChunk pairs a chunk with its similarity score for one query.
type ScoredChunk struct {
	Chunk
	Score             float64
	DocumentCreatedAt time.Time
}

// OwnerScope restricts search results to documents the caller may access.
// The filter is enforced inside the store, never left to the caller.
type OwnerScope struct {
	OwnerID   string
	SubjectID string // optional; empty matches all subjects of the owner
}

// Store persists chunk vectors and answers similarity searches.
type Store interface {
	// Dimension is the fixed embedding dimension of the index.
	Dimension() int
	// UpsertChunks atomically replaces every chunk of the document.
	// Concurrent readers see either the full old set or the full new set.
	UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error
	// Search returns at most topK chunks scoring >= minScore by cosine
	// similarity, restricted to scope. Ties break by ordinal ascending,
	// then document recency descending.
	Search(ctx context.Context, queryVector []float32, scope OwnerScope, topK int, minScore float64) ([]ScoredChunk, error)
	// DeleteDocument removes the document and all of its chunks.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

// DocumentStore manages document rows and their indexing state.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	SetIndexState(ctx context.Context, id uuid.UUID, state IndexState, detail string) error
}

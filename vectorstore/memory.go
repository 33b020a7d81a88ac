package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a brute-force in-memory implementation of Store and
// DocumentStore. It backs tests and keyless development runs; the RWMutex
// gives the same all-old-or-all-new visibility as the Postgres transaction.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	documents map[uuid.UUID]*Document
	chunks    map[uuid.UUID][]Chunk
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		documents: make(map[uuid.UUID]*Document),
		chunks:    make(map[uuid.UUID][]Chunk),
	}
}

func (s *MemoryStore) Dimension() int { return s.dimension }

func (s *MemoryStore) UpsertChunks(_ context.Context, documentID uuid.UUID, chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index expects %d", c.ID(), len(c.Embedding), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return ErrDocumentNotFound
	}
	replacement := make([]Chunk, len(chunks))
	copy(replacement, chunks)
	s.chunks[documentID] = replacement
	return nil
}

func (s *MemoryStore) Search(_ context.Context, queryVector []float32, scope OwnerScope, topK int, minScore float64) ([]ScoredChunk, error) {
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(queryVector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ScoredChunk
	for docID, chunks := range s.chunks {
		doc := s.documents[docID]
		if doc == nil || doc.OwnerID != scope.OwnerID {
			continue
		}
		if scope.SubjectID != "" && doc.SubjectID != scope.SubjectID {
			continue
		}
		for _, c := range chunks {
			score := cosineSimilarity(queryVector, c.Embedding)
			if score < minScore {
				continue
			}
			results = append(results, ScoredChunk{
				Chunk:             c,
				Score:             score,
				DocumentCreatedAt: doc.CreatedAt,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Ordinal != results[j].Ordinal {
			return results[i].Ordinal < results[j].Ordinal
		}
		return results[i].DocumentCreatedAt.After(results[j].DocumentCreatedAt)
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.documents, documentID)
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.IndexState == "" {
		doc.IndexState = StateNotIndexed
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = doc.CreatedAt
	clone := *doc
	s.documents[doc.ID] = &clone
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *MemoryStore) SetIndexState(_ context.Context, id uuid.UUID, state IndexState, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.IndexState = state
	doc.IndexError = detail
	doc.UpdatedAt = time.Now()
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

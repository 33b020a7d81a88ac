package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore backs the vector index with Postgres and pgvector.
type PostgresStore struct {
	db        *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

func NewPostgresStore(db *pgxpool.Pool, dimension int, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, dimension: dimension, logger: logger}
}

func (s *PostgresStore) Dimension() int { return s.dimension }

// Migrate creates the pipeline's tables and validates that the stored
// embedding dimension matches the configured one. A mismatch means the
// embedding provider changed and the whole index must be rebuilt, so we
// fail fast instead of corrupting the index.
func (s *PostgresStore) Migrate(ctx context.Context, embeddingModel string) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			index_state TEXT NOT NULL DEFAULT 'not_indexed',
			index_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			ordinal INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			PRIMARY KEY (document_id, ordinal)
		)`, s.dimension),
		`CREATE TABLE IF NOT EXISTS rag_index_meta (
			embedding_dim INT NOT NULL,
			embedding_model TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	var storedDim int
	var storedModel string
	err := s.db.QueryRow(ctx, `SELECT embedding_dim, embedding_model FROM rag_index_meta LIMIT 1`).
		Scan(&storedDim, &storedModel)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = s.db.Exec(ctx,
			`INSERT INTO rag_index_meta (embedding_dim, embedding_model) VALUES ($1, $2)`,
			s.dimension, embeddingModel)
		if err != nil {
			return fmt.Errorf("failed to record index metadata: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read index metadata: %w", err)
	case storedDim != s.dimension:
		return fmt.Errorf("index was built with dimension %d (model %s) but provider produces %d: full re-indexing required",
			storedDim, storedModel, s.dimension)
	}
	return nil
}

func (s *PostgresStore) UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index expects %d", c.ID(), len(c.Embedding), s.dimension)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	for _, c := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (document_id, ordinal, content, embedding, start_offset, end_offset)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			documentID, c.Ordinal, c.Content, pgvector.NewVector(c.Embedding), c.StartOffset, c.EndOffset)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}

	s.logger.Debug("Replaced document chunks",
		slog.String("document_id", documentID.String()),
		slog.Int("chunk_count", len(chunks)))
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, scope OwnerScope, topK int, minScore float64) ([]ScoredChunk, error) {
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(queryVector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	// The CTE scores every chunk in scope so the threshold can be applied
	// to the similarity score itself. Owner scoping happens here, inside
	// the store, to prevent cross-tenant leakage. Chunks only ever exist
	// as complete committed sets (UpsertChunks replaces them in one
	// transaction), so a query racing a re-index sees the old set until
	// the new one commits, regardless of the document's index state.
	query := `
		WITH scored_chunks AS (
			SELECT
				c.document_id,
				c.ordinal,
				c.content,
				c.start_offset,
				c.end_offset,
				1 - (c.embedding <=> $1) AS similarity_score,
				d.created_at
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE d.owner_id = $2
			  AND ($3 = '' OR d.subject_id = $3)
		)
		SELECT document_id, ordinal, content, start_offset, end_offset, similarity_score, created_at
		FROM scored_chunks
		WHERE similarity_score >= $4
		ORDER BY similarity_score DESC, ordinal ASC, created_at DESC
		LIMIT $5`

	rows, err := s.db.Query(ctx, query,
		pgvector.NewVector(queryVector), scope.OwnerID, scope.SubjectID, minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, topK)
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.DocumentID, &sc.Ordinal, &sc.Content,
			&sc.StartOffset, &sc.EndOffset, &sc.Score, &sc.DocumentCreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	// Chunks go with the document via ON DELETE CASCADE.
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.IndexState == "" {
		doc.IndexState = StateNotIndexed
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (id, owner_id, subject_id, filename, content, index_state)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.OwnerID, doc.SubjectID, doc.Filename, doc.Content, doc.IndexState)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, subject_id, filename, content, index_state, index_error, created_at, updated_at
		 FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.OwnerID, &doc.SubjectID, &doc.Filename, &doc.Content,
			&doc.IndexState, &doc.IndexError, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) SetIndexState(ctx context.Context, id uuid.UUID, state IndexState, detail string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET index_state = $2, index_error = $3, updated_at = now() WHERE id = $1`,
		id, state, detail)
	if err != nil {
		return fmt.Errorf("failed to update index state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

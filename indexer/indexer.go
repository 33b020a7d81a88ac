package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/studora/ragpipe/chunker"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

// ErrAlreadyIndexing guards re-entrancy: exactly one indexing run per
// document may be in flight. Callers should poll the document state rather
// than retry the mutation.
var ErrAlreadyIndexing = errors.New("document is already being indexed")

// Embedder is the slice of the embedding client the coordinator needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Coordinator drives the ingest-time pipeline per document: chunk, embed,
// replace the chunk set, flip the indexing state. Runs are asynchronous;
// different documents index in parallel up to the worker limit, which also
// bounds simultaneous embedding-provider calls.
type Coordinator struct {
	docs     vectorstore.DocumentStore
	store    vectorstore.Store
	chunker  *chunker.Chunker
	embedder Embedder
	workers  *semaphore.Weighted
	inflight sync.Map
	wg       sync.WaitGroup
	gate     usage_service.Gate
	logger   *slog.Logger
}

func New(docs vectorstore.DocumentStore, store vectorstore.Store, ch *chunker.Chunker, embedder Embedder, workerLimit int, logger *slog.Logger) *Coordinator {
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Coordinator{
		docs:     docs,
		store:    store,
		chunker:  ch,
		embedder: embedder,
		workers:  semaphore.NewWeighted(int64(workerLimit)),
		logger:   logger,
	}
}

// SetUsageGate makes successful runs record embedding usage against the
// document's owner. Failed runs record nothing.
func (c *Coordinator) SetUsageGate(gate usage_service.Gate) {
	c.gate = gate
}

// Enqueue starts a background indexing run for the document. It returns
// ErrAlreadyIndexing when a run for the same document is in flight.
func (c *Coordinator) Enqueue(documentID uuid.UUID) error {
	if !c.acquireLease(documentID) {
		return ErrAlreadyIndexing
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.releaseLease(documentID)

		ctx := context.Background()
		if err := c.workers.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.workers.Release(1)

		if err := c.run(ctx, documentID); err != nil {
			c.logger.Error("Indexing run failed",
				slog.String("document_id", documentID.String()),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// IndexDocument runs one indexing pass synchronously, holding the same
// per-document lease Enqueue uses.
func (c *Coordinator) IndexDocument(ctx context.Context, documentID uuid.UUID) error {
	if !c.acquireLease(documentID) {
		return ErrAlreadyIndexing
	}
	defer c.releaseLease(documentID)
	return c.run(ctx, documentID)
}

// Wait blocks until every background run has finished. Used on shutdown and
// in tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) acquireLease(documentID uuid.UUID) bool {
	_, loaded := c.inflight.LoadOrStore(documentID, struct{}{})
	return !loaded
}

func (c *Coordinator) releaseLease(documentID uuid.UUID) {
	c.inflight.Delete(documentID)
}

// run executes the chunk → embed → upsert pipeline. Any step's failure
// aborts the whole run and marks the document failed with the error
// recorded; the old chunk set stays untouched.
func (c *Coordinator) run(ctx context.Context, documentID uuid.UUID) error {
	doc, err := c.docs.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := c.docs.SetIndexState(ctx, documentID, vectorstore.StateIndexing, ""); err != nil {
		return fmt.Errorf("failed to mark document indexing: %w", err)
	}

	pieces := c.chunker.Chunk(doc.Content)
	if len(pieces) == 0 {
		return c.fail(ctx, documentID, errors.New("document has no indexable text"))
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return c.fail(ctx, documentID, fmt.Errorf("embedding failed: %w", err))
	}

	chunks := make([]vectorstore.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = vectorstore.Chunk{
			DocumentID:  documentID,
			Ordinal:     p.Ordinal,
			Content:     p.Text,
			Embedding:   vectors[i],
			StartOffset: p.StartOffset,
			EndOffset:   p.EndOffset,
		}
	}

	if err := c.store.UpsertChunks(ctx, documentID, chunks); err != nil {
		return c.fail(ctx, documentID, fmt.Errorf("failed to store chunks: %w", err))
	}

	if err := c.docs.SetIndexState(ctx, documentID, vectorstore.StateIndexed, ""); err != nil {
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}

	if c.gate != nil {
		if err := c.gate.RecordUsage(ctx, doc.OwnerID, usage_service.OperationEmbedding, len(chunks)); err != nil {
			c.logger.Error("Failed to record embedding usage",
				slog.String("owner_id", doc.OwnerID),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Info("Document indexed",
		slog.String("document_id", documentID.String()),
		slog.Int("chunk_count", len(chunks)))
	return nil
}

func (c *Coordinator) fail(ctx context.Context, documentID uuid.UUID, cause error) error {
	if err := c.docs.SetIndexState(ctx, documentID, vectorstore.StateFailed, cause.Error()); err != nil {
		c.logger.Error("Failed to record indexing failure",
			slog.String("document_id", documentID.String()),
			slog.String("error", err.Error()))
	}
	return cause
}

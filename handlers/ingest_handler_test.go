package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studora/ragpipe/chunker"
	"github.com/studora/ragpipe/indexer"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

type ingestFixture struct {
	store       *vectorstore.MemoryStore
	embedder    *countingEmbedder
	coordinator *indexer.Coordinator
	gate        *stubGate
	handler     *IngestHandler
}

func newIngestFixture(t *testing.T, gate *stubGate) *ingestFixture {
	t.Helper()
	store := vectorstore.NewMemoryStore(3)
	ch, err := chunker.New(200, 50)
	require.NoError(t, err)

	embedder := &countingEmbedder{}
	coordinator := indexer.New(store, store, ch, embedder, 2, testLogger())

	return &ingestFixture{
		store:       store,
		embedder:    embedder,
		coordinator: coordinator,
		gate:        gate,
		handler:     NewIngestHandler(store, coordinator, gate, testLogger()),
	}
}

func (f *ingestFixture) createDocument(t *testing.T, content string) uuid.UUID {
	t.Helper()
	doc := &vectorstore.Document{OwnerID: "owner-1", Content: content}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc.ID
}

func postIngest(h *IngestHandler, resourceID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/rag/ingest/"+resourceID, nil)
	req = mux.SetURLVars(req, map[string]string{"resourceId": resourceID})
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	return rec
}

func TestIngestRejectsInvalidResourceID(t *testing.T) {
	f := newIngestFixture(t, &stubGate{})

	rec := postIngest(f.handler, "not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(0), f.embedder.calls.Load())
}

func TestIngestUnknownDocument(t *testing.T) {
	f := newIngestFixture(t, &stubGate{})

	rec := postIngest(f.handler, uuid.New().String())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestQuotaDeniedMakesNoEmbeddingCalls(t *testing.T) {
	gate := &stubGate{checkErr: &usage_service.QuotaError{OwnerID: "owner-1", Reason: "embedding quota exceeded"}}
	f := newIngestFixture(t, gate)
	docID := f.createDocument(t, "some study notes about mitochondria")

	rec := postIngest(f.handler, docID.String())
	f.coordinator.Wait()

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "embedding quota exceeded")
	assert.Equal(t, int64(0), f.embedder.calls.Load())

	doc, err := f.store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, vectorstore.StateNotIndexed, doc.IndexState)
}

func TestIngestAcceptsAndIndexes(t *testing.T) {
	gate := &stubGate{}
	f := newIngestFixture(t, gate)
	f.coordinator.SetUsageGate(gate)
	docID := f.createDocument(t, "chlorophyll absorbs light in the thylakoid membranes")

	rec := postIngest(f.handler, docID.String())

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"index_state":"indexing"`)

	require.Eventually(t, func() bool {
		doc, err := f.store.GetDocument(context.Background(), docID)
		return err == nil && doc.IndexState == vectorstore.StateIndexed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), f.embedder.calls.Load())
	assert.Equal(t, 1, gate.recordCalls)
	assert.Equal(t, usage_service.OperationEmbedding, gate.recordedOp)
}

func TestIngestConflictWhileIndexing(t *testing.T) {
	f := newIngestFixture(t, &stubGate{})
	f.embedder.release = make(chan struct{})
	docID := f.createDocument(t, "long enough text to index")

	first := postIngest(f.handler, docID.String())
	require.Equal(t, http.StatusAccepted, first.Code)

	require.Eventually(t, func() bool {
		return f.embedder.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := postIngest(f.handler, docID.String())
	assert.Equal(t, http.StatusConflict, second.Code)

	close(f.embedder.release)
	f.coordinator.Wait()
	assert.Equal(t, int64(1), f.embedder.calls.Load())
}

func TestIngestStatus(t *testing.T) {
	f := newIngestFixture(t, &stubGate{})
	docID := f.createDocument(t, "text")
	require.NoError(t, f.store.SetIndexState(context.Background(), docID, vectorstore.StateFailed, "embedding failed: boom"))

	req := httptest.NewRequest("GET", "/rag/ingest/"+docID.String()+"/status", nil)
	req = mux.SetURLVars(req, map[string]string{"resourceId": docID.String()})
	rec := httptest.NewRecorder()
	f.handler.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"index_state":"failed"`)
	assert.Contains(t, rec.Body.String(), "embedding failed: boom")
}

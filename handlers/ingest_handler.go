package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/studora/ragpipe/indexer"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

// IngestHandler accepts indexing requests for documents the external
// resource module already owns. Indexing itself runs asynchronously.
type IngestHandler struct {
	docs        vectorstore.DocumentStore
	coordinator *indexer.Coordinator
	gate        usage_service.Gate
	logger      *slog.Logger
}

func NewIngestHandler(docs vectorstore.DocumentStore, coordinator *indexer.Coordinator, gate usage_service.Gate, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		docs:        docs,
		coordinator: coordinator,
		gate:        gate,
		logger:      logger,
	}
}

type ingestResponse struct {
	DocumentID string `json:"document_id"`
	IndexState string `json:"index_state"`
	IndexError string `json:"index_error,omitempty"`
}

// Ingest handles POST /rag/ingest/{resourceId}.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(mux.Vars(r)["resourceId"])
	if err != nil {
		writeJSONError(w, "invalid resource id", http.StatusBadRequest)
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), documentID)
	if errors.Is(err, vectorstore.ErrDocumentNotFound) {
		writeJSONError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load document for ingest",
			slog.String("document_id", documentID.String()),
			slog.String("error", err.Error()))
		writeJSONError(w, "failed to load document", http.StatusInternalServerError)
		return
	}

	// Quota is checked before any embedding work begins.
	if err := h.gate.CheckQuota(r.Context(), doc.OwnerID, usage_service.OperationEmbedding); err != nil {
		var quotaErr *usage_service.QuotaError
		if errors.As(err, &quotaErr) {
			writeJSONError(w, quotaErr.Reason, http.StatusForbidden)
			return
		}
		h.logger.Error("Quota check failed",
			slog.String("owner_id", doc.OwnerID),
			slog.String("error", err.Error()))
		writeJSONError(w, "quota check unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := h.coordinator.Enqueue(documentID); err != nil {
		if errors.Is(err, indexer.ErrAlreadyIndexing) {
			writeJSON(w, http.StatusConflict, ingestResponse{
				DocumentID: documentID.String(),
				IndexState: string(vectorstore.StateIndexing),
			})
			return
		}
		writeJSONError(w, "failed to start indexing", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		DocumentID: documentID.String(),
		IndexState: string(vectorstore.StateIndexing),
	})
}

// Status handles GET /rag/ingest/{resourceId}/status.
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(mux.Vars(r)["resourceId"])
	if err != nil {
		writeJSONError(w, "invalid resource id", http.StatusBadRequest)
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), documentID)
	if errors.Is(err, vectorstore.ErrDocumentNotFound) {
		writeJSONError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, "failed to load document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		DocumentID: doc.ID.String(),
		IndexState: string(doc.IndexState),
		IndexError: doc.IndexError,
	})
}

package handlers

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/studora/ragpipe/indexer"
	"github.com/studora/ragpipe/services/rag_service"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

const maxUploadBytes = 10 << 20

// DocumentHandler accepts raw document uploads, extracts their text and
// hands them to the indexing coordinator. It also serves deletions, which
// cascade to the document's chunks.
type DocumentHandler struct {
	docs        vectorstore.DocumentStore
	store       vectorstore.Store
	coordinator *indexer.Coordinator
	gate        usage_service.Gate
	extractor   *rag_service.DocumentExtractor
	logger      *slog.Logger
}

func NewDocumentHandler(docs vectorstore.DocumentStore, store vectorstore.Store, coordinator *indexer.Coordinator, gate usage_service.Gate, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs:        docs,
		store:       store,
		coordinator: coordinator,
		gate:        gate,
		extractor:   rag_service.NewDocumentExtractor(logger),
		logger:      logger,
	}
}

// Upload handles POST /rag/documents (multipart form: file, subject_id).
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeJSONError(w, "missing owner identity", http.StatusBadRequest)
		return
	}

	// MaxBytesReader bounds the whole request body; ParseMultipartForm's
	// argument only caps what is held in memory.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "failed to get file from form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeJSONError(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	text, err := h.extractor.ExtractText(header.Filename, buf.Bytes())
	if err != nil {
		h.logger.Error("Text extraction failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := h.gate.CheckQuota(r.Context(), ownerID, usage_service.OperationEmbedding); err != nil {
		var quotaErr *usage_service.QuotaError
		if errors.As(err, &quotaErr) {
			writeJSONError(w, quotaErr.Reason, http.StatusForbidden)
			return
		}
		writeJSONError(w, "quota check unavailable", http.StatusServiceUnavailable)
		return
	}

	doc := &vectorstore.Document{
		OwnerID:   ownerID,
		SubjectID: r.FormValue("subject_id"),
		Filename:  header.Filename,
		Content:   text,
	}
	if err := h.docs.CreateDocument(r.Context(), doc); err != nil {
		h.logger.Error("Failed to create document",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		writeJSONError(w, "failed to create document", http.StatusInternalServerError)
		return
	}

	if err := h.coordinator.Enqueue(doc.ID); err != nil && !errors.Is(err, indexer.ErrAlreadyIndexing) {
		writeJSONError(w, "failed to start indexing", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		DocumentID: doc.ID.String(),
		IndexState: string(vectorstore.StateIndexing),
	})
}

// Delete handles DELETE /rag/documents/{documentId}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(mux.Vars(r)["documentId"])
	if err != nil {
		writeJSONError(w, "invalid document id", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteDocument(r.Context(), documentID); err != nil {
		if errors.Is(err, vectorstore.ErrDocumentNotFound) {
			writeJSONError(w, "document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to delete document",
			slog.String("document_id", documentID.String()),
			slog.String("error", err.Error()))
		writeJSONError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

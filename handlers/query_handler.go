package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/studora/ragpipe/orchestrator"
	"github.com/studora/ragpipe/provider"
	"github.com/studora/ragpipe/retriever"
	"github.com/studora/ragpipe/services/usage_service"
	"github.com/studora/ragpipe/vectorstore"
)

const maxQueryTopK = 20

// ContextRetriever assembles the grounded context for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, scope vectorstore.OwnerScope, topK int) (*retriever.ContextBundle, error)
}

// Answerer composes the final answer from a context bundle.
type Answerer interface {
	Answer(ctx context.Context, question string, bundle *retriever.ContextBundle) (*orchestrator.Answer, error)
}

// QueryHandler serves the synchronous question-answering path.
type QueryHandler struct {
	gate      usage_service.Gate
	retriever ContextRetriever
	answerer  Answerer
	logger    *slog.Logger
}

func NewQueryHandler(gate usage_service.Gate, ret ContextRetriever, answerer Answerer, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		gate:      gate,
		retriever: ret,
		answerer:  answerer,
		logger:    logger,
	}
}

type queryRequest struct {
	Query     string `json:"query"`
	SubjectID string `json:"subjectId,omitempty"`
	TopK      int    `json:"topK,omitempty"`
}

type citation struct {
	DocumentID  string `json:"documentId"`
	OffsetStart int    `json:"offsetStart"`
	OffsetEnd   int    `json:"offsetEnd"`
}

type queryResponse struct {
	Answer       string     `json:"answer"`
	Citations    []citation `json:"citations"`
	ProviderUsed string     `json:"providerUsed"`
}

// ServeHTTP handles POST /rag/query.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeJSONError(w, "missing owner identity", http.StatusBadRequest)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		writeJSONError(w, "query cannot be empty", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 || req.TopK > maxQueryTopK {
		writeJSONError(w, "topK out of range", http.StatusBadRequest)
		return
	}

	// Denial short-circuits before any provider call is made.
	if err := h.gate.CheckQuota(r.Context(), ownerID, usage_service.OperationCompletion); err != nil {
		var quotaErr *usage_service.QuotaError
		if errors.As(err, &quotaErr) {
			writeJSONError(w, quotaErr.Reason, http.StatusForbidden)
			return
		}
		h.logger.Error("Quota check failed",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
		writeJSONError(w, "quota check unavailable", http.StatusServiceUnavailable)
		return
	}

	scope := vectorstore.OwnerScope{OwnerID: ownerID, SubjectID: req.SubjectID}
	bundle, err := h.retriever.Retrieve(r.Context(), req.Query, scope, req.TopK)
	if err != nil {
		if provider.IsInvalidInput(err) {
			writeJSONError(w, "query is too large", http.StatusBadRequest)
			return
		}
		h.logger.Error("Retrieval failed",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
		writeJSONError(w, "retrieval unavailable", http.StatusBadGateway)
		return
	}
	if len(bundle.Chunks) == 0 {
		writeJSONError(w, "no relevant passages found", http.StatusNotFound)
		return
	}

	answer, err := h.answerer.Answer(r.Context(), req.Query, bundle)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoProviderAvailable) {
			writeJSONError(w, "no completion provider available", http.StatusBadGateway)
			return
		}
		if errors.Is(err, context.Canceled) {
			// Caller went away; no usage is recorded.
			return
		}
		h.logger.Error("Completion failed",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
		writeJSONError(w, "completion failed", http.StatusBadGateway)
		return
	}

	// Usage is recorded only after the whole operation succeeded.
	if err := h.gate.RecordUsage(r.Context(), ownerID, usage_service.OperationCompletion, 1); err != nil {
		h.logger.Error("Failed to record completion usage",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:       answer.Text,
		Citations:    buildCitations(answer, bundle),
		ProviderUsed: answer.ProviderUsed,
	})
}

func buildCitations(answer *orchestrator.Answer, bundle *retriever.ContextBundle) []citation {
	byID := make(map[string]vectorstore.ScoredChunk, len(bundle.Chunks))
	for _, c := range bundle.Chunks {
		byID[c.ID()] = c
	}

	citations := make([]citation, 0, len(answer.CitedChunkIDs))
	for _, id := range answer.CitedChunkIDs {
		c, ok := byID[id]
		if !ok {
			continue
		}
		citations = append(citations, citation{
			DocumentID:  c.DocumentID.String(),
			OffsetStart: c.StartOffset,
			OffsetEnd:   c.EndOffset,
		})
	}
	return citations
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/logger"
)

// maxBodyBytes leaves room for JSON escaping around a maximum-size text.
const maxBodyBytes = 4 << 20

// Documents is the document service behind the endpoints.
type Documents interface {
	Create(ctx context.Context, text string) (string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]document.Document, error)
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	docs   Documents
	logger *slog.Logger
}

func New(docs Documents) *Handler {
	return &Handler{
		docs:   docs,
		logger: slog.Default().With("component", "document-handler"),
	}
}

// Create serves POST /documents. Failures answer with an empty body.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("rejected document body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := validator.ValidateCreateRequest(&req); err != nil {
		log.Warn("rejected document", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := h.docs.Create(ctx, *req.Text)
	if err != nil {
		log.Error("document creation failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	log.Info("document created", "doc_id", id)
	h.writeJSON(w, http.StatusOK, ingestion.CreateResponse{Status: "success", DocumentID: id})
}

// Get serves GET /documents/{doc_id}. Any failure to produce the document,
// including a storage error, answers 404 with an empty object.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("doc_id")
	doc, err := h.docs.Get(ctx, id)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			logger.FromContext(ctx).Error("document lookup failed", "doc_id", id, "error", err)
		}
		h.writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.DocumentResponse{DocID: doc.ID, Text: doc.Text})
}

// Delete serves DELETE /documents/{doc_id}: 200 {"status":"true"} when a
// document was removed, else 404 {"status":"false"}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	id := r.PathValue("doc_id")

	removed, err := h.docs.Delete(ctx, id)
	if err != nil {
		log.Error("document deletion failed", "doc_id", id, "error", err)
	}
	if !removed {
		h.writeJSON(w, http.StatusNotFound, ingestion.DeleteResponse{Status: "false"})
		return
	}
	log.Info("document deleted", "doc_id", id)
	h.writeJSON(w, http.StatusOK, ingestion.DeleteResponse{Status: "true"})
}

// List serves GET /documents?limit=&offset=, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, offset, err := validator.ParsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := h.docs.List(ctx, limit, offset)
	if err != nil {
		logger.FromContext(ctx).Error("listing documents failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "listing documents failed")
		return
	}
	total, err := h.docs.Count(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("counting documents failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "listing documents failed")
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	h.writeJSON(w, http.StatusOK, ingestion.ListResponse{Documents: docs, Limit: limit, Offset: offset, Total: total})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

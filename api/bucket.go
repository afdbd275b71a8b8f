package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
)

// bucketHandler serves bucket CRUD, document management, and retrieval.
type bucketHandler struct {
	buckets *bucket.Gateway
	ingest  *ingest.Service
	logger  log.Logger
}

// CreateBucketRequest is the request body for creating a bucket.
type CreateBucketRequest struct {
	Name string `json:"name"`
}

// IngestDocumentRequest is the JSON request body for document ingestion.
// Plain-text bodies bypass this and are ingested directly.
type IngestDocumentRequest struct {
	Content string `json:"content"`
}

// QueryRequest is the request body for a retrieval query.
type QueryRequest struct {
	Query   string `json:"query"`
	Mode    string `json:"mode,omitempty"`
	Context string `json:"context,omitempty"`
}

func (h *bucketHandler) list(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.buckets.List(r.PathValue("project"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (h *bucketHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	name, err := h.buckets.Create(r.Context(), r.PathValue("project"), req.Name)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (h *bucketHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.buckets.Delete(r.Context(), r.PathValue("project"), r.PathValue("bucket")); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *bucketHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.buckets.ListDocuments(r.PathValue("project"), r.PathValue("bucket"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": len(docs)})
}

// ingestDocument accepts either a JSON body with a content field or a raw
// plain-text body. Raw bodies go through the size-limited text ingester.
func (h *bucketHandler) ingestDocument(w http.ResponseWriter, r *http.Request) {
	project, name := r.PathValue("project"), r.PathValue("bucket")

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		docID, err := h.ingest.TextDocument(r.Context(), project, name, r.Body)
		if err != nil {
			serviceError(w, err, h.logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
		return
	}

	var req IngestDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	docID, err := h.buckets.IngestDocument(r.Context(), project, name, req.Content)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
}

func (h *bucketHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	content, err := h.buckets.ReadDocument(r.PathValue("project"), r.PathValue("bucket"), r.PathValue("doc"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": r.PathValue("doc"),
		"content":     content,
	})
}

func (h *bucketHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.buckets.RemoveDocument(r.Context(), r.PathValue("project"), r.PathValue("bucket"), r.PathValue("doc")); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *bucketHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "query is required")
		return
	}

	answer, err := h.buckets.Query(r.Context(), r.PathValue("project"), r.PathValue("bucket"), req.Query, req.Mode, req.Context)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

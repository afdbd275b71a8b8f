package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

// errorBody is the error half of the response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a {"data": ...} envelope with the given status code.
// Encodes into a buffer first so headers are only sent after successful
// encoding, which allows a proper 500 when encoding fails.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(map[string]any{"data": data}); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an {"error": {"code", "message"}} envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(map[string]any{"error": errorBody{Code: code, Message: message}}); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// errorStatus maps service sentinel errors to HTTP status codes and
// machine-readable error codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, project.ErrTemplateNotFound),
		errors.Is(err, store.ErrTableNotFound),
		errors.Is(err, store.ErrRowNotFound),
		errors.Is(err, version.ErrNotFound),
		errors.Is(err, bucket.ErrBucketNotFound),
		errors.Is(err, bucket.ErrDocumentNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, project.ErrAlreadyExists),
		errors.Is(err, store.ErrTableExists),
		errors.Is(err, bucket.ErrBucketExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, project.ErrInvalidName),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, version.ErrInvalidType),
		errors.Is(err, ingest.ErrEmptyCSV),
		errors.Is(err, academic.ErrEmptyPlan):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ingest.ErrDocumentTooLong):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, bucket.ErrBucketUnavailable),
		errors.Is(err, generate.ErrBackendUnconfigured):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errorWithArtifacts writes the mapped error envelope with a "data" field
// carrying the partial artifacts a failed run still produced, so the
// assembled prompt and any generated text survive a persist failure.
func errorWithArtifacts(w http.ResponseWriter, err error, artifacts any, logger log.Logger) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "error", err, "status", status)
	}

	buf := new(bytes.Buffer)
	body := map[string]any{
		"error": errorBody{Code: code, Message: err.Error()},
		"data":  artifacts,
	}
	if encErr := json.NewEncoder(buf).Encode(body); encErr != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// serviceError logs err and writes the mapped error envelope.
func serviceError(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "error", err, "status", status)
	}
	writeError(w, status, code, err.Error())
}

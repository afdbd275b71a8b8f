package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/store"
)

// Pagination bounds for row listing.
const (
	DefaultRowLimit = 100
	MaxRowLimit     = 1000
	MaxRowOffset    = 1000000
)

// tableHandler serves table and row CRUD plus CSV ingestion.
type tableHandler struct {
	store  *store.Store
	ingest *ingest.Service
	logger log.Logger
}

// CreateTableRequest is the request body for creating a table.
type CreateTableRequest struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

func (h *tableHandler) list(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context(), r.PathValue("project"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *tableHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	columns, err := h.store.CreateTable(r.Context(), r.PathValue("project"), req.Name, req.Columns)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"table_name": req.Name, "columns": columns})
}

func (h *tableHandler) schema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.store.Schema(r.Context(), r.PathValue("project"), r.PathValue("table"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (h *tableHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTable(r.Context(), r.PathValue("project"), r.PathValue("table")); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *tableHandler) listRows(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultRowLimit, 1, MaxRowLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxRowOffset)

	page, err := h.store.ReadRows(r.Context(), r.PathValue("project"), r.PathValue("table"), limit, offset)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *tableHandler) addRow(w http.ResponseWriter, r *http.Request) {
	var values store.Row
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	id, err := h.store.AddRow(r.Context(), r.PathValue("project"), r.PathValue("table"), values)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, store.RowWithID{ID: id, Values: values})
}

func (h *tableHandler) getRow(w http.ResponseWriter, r *http.Request) {
	id, ok := rowID(w, r)
	if !ok {
		return
	}

	row, err := h.store.GetRow(r.Context(), r.PathValue("project"), r.PathValue("table"), id)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, store.RowWithID{ID: id, Values: row})
}

func (h *tableHandler) updateRow(w http.ResponseWriter, r *http.Request) {
	id, ok := rowID(w, r)
	if !ok {
		return
	}

	var values store.Row
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	if err := h.store.UpdateRow(r.Context(), r.PathValue("project"), r.PathValue("table"), id, values); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, store.RowWithID{ID: id, Values: values})
}

func (h *tableHandler) deleteRow(w http.ResponseWriter, r *http.Request) {
	id, ok := rowID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteRow(r.Context(), r.PathValue("project"), r.PathValue("table"), id); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// uploadCSV ingests a CSV request body into the table. The ?replace=true
// query parameter drops an existing table first.
func (h *tableHandler) uploadCSV(w http.ResponseWriter, r *http.Request) {
	replace := r.URL.Query().Get("replace") == "true"

	report, err := h.ingest.CSVTable(r.Context(), r.PathValue("project"), r.PathValue("table"), r.Body, replace)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// rowID parses the {id} path segment. Writes a 400 and returns false on
// malformed input.
func rowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid row id")
		return 0, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

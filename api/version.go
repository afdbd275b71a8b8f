package api

import (
	"encoding/json"
	"net/http"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/version"
)

// versionHandler serves the version ledger endpoints.
type versionHandler struct {
	ledger *version.Ledger
	logger log.Logger
}

// UpdateVersionRequest is a partial update; absent fields keep their
// current content.
type UpdateVersionRequest struct {
	Name     *string           `json:"name,omitempty"`
	Focus    *string           `json:"focus,omitempty"`
	Result   *string           `json:"result,omitempty"`
	Metadata *version.Metadata `json:"metadata,omitempty"`
}

func (h *versionHandler) list(w http.ResponseWriter, r *http.Request) {
	vtype := r.URL.Query().Get("type")

	versions, err := h.ledger.List(r.Context(), r.PathValue("project"), vtype)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "total": len(versions)})
}

func (h *versionHandler) types(w http.ResponseWriter, r *http.Request) {
	types, err := h.ledger.Types(r.Context(), r.PathValue("project"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

func (h *versionHandler) get(w http.ResponseWriter, r *http.Request) {
	v, err := h.ledger.Get(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *versionHandler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	project, id := r.PathValue("project"), r.PathValue("id")
	update := version.Update{
		Name:     req.Name,
		Focus:    req.Focus,
		Result:   req.Result,
		Metadata: req.Metadata,
	}
	if err := h.ledger.Update(r.Context(), project, id, update); err != nil {
		serviceError(w, err, h.logger)
		return
	}

	v, err := h.ledger.Get(r.Context(), project, id)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *versionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Delete(r.Context(), r.PathValue("project"), r.PathValue("id")); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

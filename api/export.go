package api

import (
	"fmt"
	"net/http"

	"github.com/quillworks/quill/internal/export"
	"github.com/quillworks/quill/internal/log"
)

// exportHandler serves whole-project snapshots and ZIP bundles.
type exportHandler struct {
	exporter *export.Exporter
	logger   log.Logger
}

func (h *exportHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.exporter.Snapshot(r.Context(), r.PathValue("project"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// bundle streams a ZIP archive. Errors after the first write cannot change
// the status code, so the archive is aborted mid-stream and logged.
func (h *exportHandler) bundle(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", project+"_export.zip"))

	if err := h.exporter.Bundle(r.Context(), project, w); err != nil {
		status, code := errorStatus(err)
		h.logger.Error("export bundle failed", "project", project, "error", err)
		// Headers may already be sent; this only works for early failures.
		if rw, ok := w.(*loggingWriter); !ok || rw.statusCode == 0 {
			w.Header().Del("Content-Disposition")
			writeError(w, status, code, err.Error())
		}
	}
}

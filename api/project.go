package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
)

// MaxDescriptionLength bounds the free-text project description.
const MaxDescriptionLength = 2000

// projectHandler serves project CRUD and the template catalog.
type projectHandler struct {
	registry *project.Registry
	store    *store.Store
	logger   log.Logger
}

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template,omitempty"`
}

func (h *projectHandler) list(w http.ResponseWriter, _ *http.Request) {
	projects, err := h.registry.List()
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *projectHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if len(req.Description) > MaxDescriptionLength {
		writeError(w, http.StatusBadRequest, "invalid_input", "description too long")
		return
	}

	if req.Template == "" {
		meta, err := h.registry.Create(req.Name, req.Description)
		if err != nil {
			serviceError(w, err, h.logger)
			return
		}
		writeJSON(w, http.StatusCreated, meta)
		return
	}

	tpl, err := project.LookupTemplate(req.Template)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	meta, err := h.registry.CreateFromTemplate(req.Name, req.Description, tpl)
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}

	// Provision the template's tables and sample rows. A provisioning
	// failure rolls the whole project back so a retry starts clean.
	if err := h.provision(r, meta.Name, tpl); err != nil {
		_ = h.registry.Delete(meta.Name)
		serviceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, meta)
}

// provision creates the template's tables and inserts its sample rows.
func (h *projectHandler) provision(r *http.Request, projectName string, tpl project.Template) error {
	ctx := r.Context()

	names := make([]string, 0, len(tpl.DefaultTables))
	for table := range tpl.DefaultTables {
		names = append(names, table)
	}
	sort.Strings(names)

	for _, table := range names {
		def := tpl.DefaultTables[table]
		if _, err := h.store.CreateTable(ctx, projectName, table, def.Columns); err != nil {
			return err
		}
		for _, row := range tpl.SampleData[table] {
			if _, err := h.store.AddRow(ctx, projectName, table, store.Row(row)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *projectHandler) get(w http.ResponseWriter, r *http.Request) {
	meta, err := h.registry.Get(r.PathValue("project"))
	if err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *projectHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.PathValue("project")); err != nil {
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *projectHandler) templates(w http.ResponseWriter, _ *http.Request) {
	catalog := project.Templates()
	list := make([]project.Template, 0, len(catalog))
	for _, tpl := range catalog {
		list = append(list, tpl)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

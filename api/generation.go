package api

import (
	"encoding/json"
	"net/http"

	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/brainstorm"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/log"
)

// generationHandler serves the pipeline, brainstorm, and academic
// chapter endpoints.
type generationHandler struct {
	pipeline   *generate.Pipeline
	brainstorm *brainstorm.Service
	academic   *academic.Generator
	logger     log.Logger
}

// GenerateRequest is the request body for a generation run.
type GenerateRequest struct {
	Type         string             `json:"type,omitempty"`
	Name         string             `json:"name"`
	Focus        string             `json:"focus,omitempty"`
	Tone         string             `json:"tone,omitempty"`
	Instructions string             `json:"instructions,omitempty"`
	Sources      assemble.Selection `json:"sources"`
}

// BrainstormRequest is the request body for a brainstorm run.
type BrainstormRequest struct {
	Name           string                  `json:"name"`
	Tables         []string                `json:"tables,omitempty"`
	Rows           brainstorm.RowSelection `json:"rows,omitempty"`
	PromptOverride string                  `json:"prompt_override,omitempty"`
	UserNote       string                  `json:"user_note,omitempty"`
	Bucket         string                  `json:"bucket,omitempty"`
}

func (h *generationHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	resp, err := h.pipeline.Run(r.Context(), generate.Request{
		Project:      r.PathValue("project"),
		Type:         req.Type,
		Name:         req.Name,
		Focus:        req.Focus,
		Tone:         req.Tone,
		Instructions: req.Instructions,
		Sources:      req.Sources,
	})
	if err != nil {
		if resp != nil {
			errorWithArtifacts(w, err, resp, h.logger)
			return
		}
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *generationHandler) runBrainstorm(w http.ResponseWriter, r *http.Request) {
	var req BrainstormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	resp, err := h.brainstorm.Run(r.Context(), brainstorm.Request{
		Project:        r.PathValue("project"),
		Name:           req.Name,
		Tables:         req.Tables,
		Rows:           req.Rows,
		PromptOverride: req.PromptOverride,
		UserNote:       req.UserNote,
		Bucket:         req.Bucket,
	})
	if err != nil {
		if resp != nil {
			errorWithArtifacts(w, err, resp, h.logger)
			return
		}
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *generationHandler) generateChapter(w http.ResponseWriter, r *http.Request) {
	var plan academic.ChapterPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	result, err := h.academic.GenerateChapter(r.Context(), r.PathValue("project"), plan)
	if err != nil {
		if result != nil {
			errorWithArtifacts(w, err, result, h.logger)
			return
		}
		serviceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

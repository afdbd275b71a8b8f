// Package brainstorm runs ideation requests: the user picks individual rows
// from structured tables, adds a note, and gets back free-form ideas. Unlike
// full drafts, brainstorms draw on row-scoped context (specific rowids, not
// whole tables) and optionally route through one research bucket so the
// ideas stay anchored in reference material.
package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

const (
	defaultPersona  = "You are a creative ideation assistant."
	closingSentence = "Brainstorm how this might be achieved."
)

// RowSelection maps table names to the rowids to include.
type RowSelection map[string][]int64

// Request is one brainstorm job. Bucket is optional; when set, the prompt
// is answered through that bucket's retrieval engine instead of the bare
// model, so retrieved reference content shapes the ideas.
type Request struct {
	Project        string
	Name           string
	Tables         []string
	Rows           RowSelection
	PromptOverride string
	UserNote       string
	Bucket         string
}

// Response mirrors the generation pipeline's response shape.
type Response struct {
	VersionID string `json:"version_id"`
	Result    string `json:"result"`
	Prompt    string `json:"prompt"`
	Status    string `json:"status"`
}

// RowReader is the slice of the structured store the service needs.
type RowReader interface {
	Schema(ctx context.Context, projectName, table string) (*store.Schema, error)
	GetRow(ctx context.Context, projectName, table string, rowID int64) (store.Row, error)
}

// Service assembles row-scoped context and records every brainstorm as a
// version of type "brainstorm".
type Service struct {
	rows    RowReader
	buckets assemble.BucketQuerier
	invoker *generate.Invoker
	ledger  generate.VersionAppender
	logger  log.Logger

	now func() time.Time
}

func New(rows RowReader, buckets assemble.BucketQuerier, invoker *generate.Invoker, ledger generate.VersionAppender, logger log.Logger) *Service {
	return &Service{
		rows:    rows,
		buckets: buckets,
		invoker: invoker,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}
}

// Run builds the brainstorm prompt, answers it, and appends the version.
// Missing tables and rowids are skipped with a log line, matching how the
// write pipeline treats missing sources.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	structured, err := s.rowContext(ctx, req)
	if err != nil {
		return nil, err
	}

	promptText := buildPrompt(req.PromptOverride, req.UserNote, structured)

	started := s.now()
	result, backend, status, invErr := s.answer(ctx, req, promptText)
	finished := s.now()

	meta := version.Metadata{
		SelectedSources: version.SelectedSources{
			Tables: req.Tables,
		},
		Customizations: version.Customizations{
			Instructions: req.UserNote,
		},
		DataSourcesCount: len(req.Tables),
		Generation: &version.GenerationStats{
			StartedAt:   started,
			FinishedAt:  finished,
			DurationMS:  finished.Sub(started).Milliseconds(),
			PromptChars: len(promptText),
			ResultChars: len(result),
			Backend:     backend,
			Status:      status,
		},
	}
	if req.Bucket != "" {
		meta.SelectedSources.Buckets = []string{req.Bucket}
		meta.DataSourcesCount++
	}

	if invErr != nil {
		s.logger.Warn("brainstorm attempt degraded",
			"project", req.Project, "status", status, "error", invErr)
	}

	resp := &Response{
		Result: result,
		Prompt: promptText,
		Status: status,
	}

	versionID, err := s.ledger.Append(ctx, req.Project, version.Draft{
		Type:     version.TypeBrainstorm,
		Name:     req.Name,
		Focus:    strings.TrimSpace(req.UserNote),
		Prompt:   promptText,
		Result:   result,
		Metadata: meta,
	})
	if err != nil {
		resp.Status = generate.StatusError
		return resp, fmt.Errorf("persisting brainstorm: %w", err)
	}
	resp.VersionID = versionID

	s.logger.Info("brainstorm recorded",
		"project", req.Project, "version_id", versionID, "status", status)

	return resp, nil
}

// rowContext renders the selected rows as labeled blocks in table order.
func (s *Service) rowContext(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	for _, table := range req.Tables {
		schema, err := s.rows.Schema(ctx, req.Project, table)
		if err != nil {
			if errors.Is(err, store.ErrTableNotFound) {
				s.logger.Warn("brainstorm table missing, skipping",
					"project", req.Project, "table", table)
				continue
			}
			return "", err
		}

		for _, rowID := range req.Rows[table] {
			row, err := s.rows.GetRow(ctx, req.Project, table, rowID)
			if err != nil {
				if errors.Is(err, store.ErrRowNotFound) {
					s.logger.Warn("brainstorm row missing, skipping",
						"project", req.Project, "table", table, "row_id", rowID)
					continue
				}
				return "", err
			}

			fmt.Fprintf(&b, "\n[%s row %d]\n", schema.Table, rowID)
			for i, col := range schema.Columns {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%s: %s", col.Name, row[col.Name])
			}
		}
	}
	return b.String(), nil
}

func (s *Service) answer(ctx context.Context, req Request, promptText string) (result, backend, status string, err error) {
	if req.Bucket != "" {
		answer, qErr := s.buckets.Query(ctx, req.Project, req.Bucket, promptText, "hybrid", "")
		if qErr == nil {
			return answer, "bucket:" + req.Bucket, generate.StatusSuccess, nil
		}
		s.logger.Warn("bucket-backed brainstorm failed, falling back to model",
			"project", req.Project, "bucket", req.Bucket, "error", qErr)
	}

	inv := s.invoker.Invoke(ctx, promptText)
	return inv.Text, inv.Backend, inv.Status, inv.Err
}

// buildPrompt mirrors the fixed brainstorm prompt shape: persona line,
// user note, row context, closing directive.
func buildPrompt(override, note, structured string) string {
	persona := strings.TrimSpace(override)
	if persona == "" {
		persona = defaultPersona
	}

	return fmt.Sprintf("%s\n\nUser note: %s\n\nContext:\n%s\n\n%s",
		persona,
		strings.TrimSpace(note),
		strings.TrimSpace(structured),
		closingSentence)
}

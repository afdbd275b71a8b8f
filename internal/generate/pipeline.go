package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/prompt"
	"github.com/quillworks/quill/internal/version"
)

// VersionAppender is the slice of the ledger the pipeline needs.
type VersionAppender interface {
	Append(ctx context.Context, projectName string, draft version.Draft) (string, error)
}

// Request is one generation job.
type Request struct {
	Project      string
	Type         string // version type; empty means "write"
	Name         string
	Focus        string
	Tone         string
	Instructions string
	Sources      assemble.Selection
}

// Response is what every generation attempt returns, success or not.
// VersionID is empty only when persisting the version itself failed.
type Response struct {
	VersionID string             `json:"version_id"`
	Result    string             `json:"result"`
	Prompt    string             `json:"prompt"`
	Sources   assemble.Selection `json:"sources"`
	Status    string             `json:"status"`
}

// Pipeline is the full generation flow: assemble sources, build the prompt,
// invoke the backend, append the version. Partial source failures degrade
// inside assembly; backend failures are still recorded as versions.
type Pipeline struct {
	assembler *assemble.Assembler
	invoker   *Invoker
	ledger    VersionAppender
	logger    log.Logger

	now func() time.Time
}

func NewPipeline(assembler *assemble.Assembler, invoker *Invoker, ledger VersionAppender, logger log.Logger) *Pipeline {
	return &Pipeline{
		assembler: assembler,
		invoker:   invoker,
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one generation request. The returned response is non-nil
// whenever a prompt was built, even if the backend or the ledger failed;
// the error then reports what went wrong alongside the partial artifacts.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	vtype := req.Type
	if vtype == "" {
		vtype = version.TypeWrite
	}

	in, err := p.assembler.Assemble(ctx, assemble.Request{
		Project:      req.Project,
		Focus:        req.Focus,
		Tone:         req.Tone,
		Instructions: req.Instructions,
		Sources:      req.Sources,
	})
	if err != nil {
		return nil, fmt.Errorf("assembling sources: %w", err)
	}

	promptText := prompt.Build(in)

	started := p.now()
	inv := p.invoker.Invoke(ctx, promptText)
	finished := p.now()

	if inv.Err != nil {
		p.logger.Warn("generation attempt degraded",
			"project", req.Project,
			"type", vtype,
			"status", inv.Status,
			"error", inv.Err)
	}

	meta := version.Metadata{
		SelectedSources: version.SelectedSources{
			Buckets:            req.Sources.Buckets,
			Tables:             req.Sources.Tables,
			BrainstormVersions: req.Sources.BrainstormVersions,
		},
		Customizations: version.Customizations{
			Tone:         req.Tone,
			Instructions: req.Instructions,
		},
		DataSourcesCount: req.Sources.Count(),
		Generation: &version.GenerationStats{
			StartedAt:   started,
			FinishedAt:  finished,
			DurationMS:  finished.Sub(started).Milliseconds(),
			PromptChars: len(promptText),
			ResultChars: len(inv.Text),
			Backend:     inv.Backend,
			Status:      inv.Status,
		},
	}

	resp := &Response{
		Result:  inv.Text,
		Prompt:  promptText,
		Sources: req.Sources,
		Status:  inv.Status,
	}

	versionID, err := p.ledger.Append(ctx, req.Project, version.Draft{
		Type:     vtype,
		Name:     req.Name,
		Focus:    req.Focus,
		Prompt:   promptText,
		Result:   inv.Text,
		Metadata: meta,
	})
	if err != nil {
		resp.Status = StatusError
		return resp, fmt.Errorf("persisting version: %w", err)
	}
	resp.VersionID = versionID

	p.logger.Info("generation recorded",
		"project", req.Project,
		"type", vtype,
		"version_id", versionID,
		"status", inv.Status,
		"duration_ms", meta.Generation.DurationMS)

	return resp, nil
}

// Package assemble gathers the three source collections of a generation
// request, brainstorm versions, structured tables, and research buckets,
// into a prompt input. Missing versions and tables are skipped with a log
// line; a failing bucket degrades to a visible placeholder instead of
// aborting the request.
package assemble

import (
	"context"
	"errors"
	"strings"

	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/prompt"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

// VersionReader is the slice of the version ledger the assembler needs.
type VersionReader interface {
	Get(ctx context.Context, projectName, id string) (*version.Version, error)
}

// TableReader is the slice of the structured store the assembler needs.
type TableReader interface {
	Schema(ctx context.Context, projectName, table string) (*store.Schema, error)
	ReadTable(ctx context.Context, projectName, table, filterColumn, filterValue string) ([]store.Row, error)
}

// BucketQuerier is the slice of the bucket gateway the assembler needs.
type BucketQuerier interface {
	Query(ctx context.Context, projectName, bucketName, query, mode, aux string) (string, error)
}

// Selection names the sources a generation request draws from.
type Selection struct {
	Buckets            []string `json:"buckets"`
	Tables             []string `json:"tables"`
	BrainstormVersions []string `json:"brainstormVersions"`
}

// Count returns the number of selected sources across all three collections.
func (s Selection) Count() int {
	return len(s.Buckets) + len(s.Tables) + len(s.BrainstormVersions)
}

// Request is one assembly job.
type Request struct {
	Project      string
	Focus        string
	Tone         string
	Instructions string
	Sources      Selection
}

type Assembler struct {
	versions VersionReader
	tables   TableReader
	buckets  BucketQuerier
	logger   log.Logger
}

func New(versions VersionReader, tables TableReader, buckets BucketQuerier, logger log.Logger) *Assembler {
	return &Assembler{
		versions: versions,
		tables:   tables,
		buckets:  buckets,
		logger:   logger,
	}
}

// Assemble resolves every selected source and returns the prompt input.
// The returned input preserves the request's source order, which keeps the
// rendered prompt deterministic for identical selections.
func (a *Assembler) Assemble(ctx context.Context, req Request) (prompt.Input, error) {
	in := prompt.Input{
		Tone:         req.Tone,
		Instructions: req.Instructions,
	}

	for _, id := range req.Sources.BrainstormVersions {
		v, err := a.versions.Get(ctx, req.Project, id)
		if err != nil {
			if errors.Is(err, version.ErrNotFound) {
				a.logger.Warn("brainstorm version missing, skipping",
					"project", req.Project, "version_id", id)
				continue
			}
			return prompt.Input{}, err
		}
		in.Brainstorms = append(in.Brainstorms, v.Result)
	}

	for _, table := range req.Sources.Tables {
		data, err := a.readTable(ctx, req.Project, table)
		if err != nil {
			if errors.Is(err, store.ErrTableNotFound) {
				a.logger.Warn("selected table missing, skipping",
					"project", req.Project, "table", table)
				continue
			}
			return prompt.Input{}, err
		}
		in.Tables = append(in.Tables, data)
	}

	query := bucketQuery(req.Instructions)
	for _, name := range req.Sources.Buckets {
		content, err := a.buckets.Query(ctx, req.Project, name, query, bucket.ModeHybrid, "")
		if err != nil {
			a.logger.Warn("bucket retrieval failed, inserting placeholder",
				"project", req.Project, "bucket", name, "error", err)
			content = prompt.Unavailable(name, retrievalReason(err))
		}
		in.Buckets = append(in.Buckets, prompt.BucketResult{Name: name, Content: content})
	}

	return in, nil
}

func (a *Assembler) readTable(ctx context.Context, projectName, table string) (prompt.TableData, error) {
	schema, err := a.tables.Schema(ctx, projectName, table)
	if err != nil {
		return prompt.TableData{}, err
	}

	rows, err := a.tables.ReadTable(ctx, projectName, table, "", "")
	if err != nil {
		return prompt.TableData{}, err
	}

	columns := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		columns[i] = col.Name
	}
	converted := make([]map[string]string, len(rows))
	for i, row := range rows {
		converted[i] = row
	}

	return prompt.TableData{
		Name:    schema.Table,
		Columns: columns,
		Rows:    converted,
	}, nil
}

// bucketQuery derives the retrieval query from the free-form instructions.
func bucketQuery(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return "key background facts and context"
	}
	return instructions
}

// retrievalReason compresses an engine error into a short placeholder reason.
func retrievalReason(err error) string {
	msg := err.Error()
	if errors.Is(err, bucket.ErrBucketUnavailable) {
		// Drop the wrapper prefix; the placeholder already names the bucket.
		if idx := strings.LastIndex(msg, ": "); idx >= 0 {
			msg = msg[idx+2:]
		}
	}
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}

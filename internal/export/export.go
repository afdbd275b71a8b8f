// Package export produces read-only snapshots of a project: a single JSON
// document for API consumers and a ZIP bundle (per-table CSVs, per-type
// version JSON, metadata) for download. Snapshots take the project file
// lock so they never observe a half-deleted project.
package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

// TableSource is the slice of the structured store the exporter needs.
type TableSource interface {
	ListTables(ctx context.Context, projectName string) ([]string, error)
	Schema(ctx context.Context, projectName, table string) (*store.Schema, error)
	ReadTable(ctx context.Context, projectName, table, filterColumn, filterValue string) ([]store.Row, error)
}

// VersionSource is the slice of the version ledger the exporter needs.
type VersionSource interface {
	Types(ctx context.Context, projectName string) ([]string, error)
	List(ctx context.Context, projectName, vtype string) ([]version.Version, error)
}

// BucketSource enumerates a project's buckets.
type BucketSource interface {
	List(projectName string) ([]bucket.Info, error)
}

// TableExtract is one exported table with columns in schema order.
type TableExtract struct {
	Columns []string    `json:"columns"`
	Rows    []store.Row `json:"rows"`
}

// Snapshot is the whole-project JSON export shape.
type Snapshot struct {
	ProjectName string                       `json:"project_name"`
	ExportDate  time.Time                    `json:"export_date"`
	Metadata    *project.Metadata            `json:"metadata"`
	Tables      map[string]TableExtract      `json:"tables"`
	Versions    map[string][]version.Version `json:"versions"`
	Buckets     []bucket.Info                `json:"buckets"`
	Summary     Summary                      `json:"summary"`
}

// Summary gives the snapshot's headline counts.
type Summary struct {
	TotalTables   int `json:"total_tables"`
	TotalVersions int `json:"total_versions"`
	TotalBuckets  int `json:"total_buckets"`
}

type Exporter struct {
	registry *project.Registry
	tables   TableSource
	versions VersionSource
	buckets  BucketSource
	logger   log.Logger

	now func() time.Time
}

func New(registry *project.Registry, tables TableSource, versions VersionSource, buckets BucketSource, logger log.Logger) *Exporter {
	return &Exporter{
		registry: registry,
		tables:   tables,
		versions: versions,
		buckets:  buckets,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot collects the whole project under the project lock.
func (e *Exporter) Snapshot(ctx context.Context, projectName string) (*Snapshot, error) {
	lock, err := e.registry.Lock(projectName)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking project %s: %w", projectName, err)
	}
	defer func() { _ = lock.Unlock() }()

	return e.collect(ctx, projectName)
}

func (e *Exporter) collect(ctx context.Context, projectName string) (*Snapshot, error) {
	meta, err := e.registry.Get(projectName)
	if err != nil {
		return nil, err
	}

	tableNames, err := e.tables.ListTables(ctx, projectName)
	if err != nil {
		return nil, err
	}
	tables := make(map[string]TableExtract, len(tableNames))
	for _, name := range tableNames {
		extract, err := e.readTable(ctx, projectName, name)
		if err != nil {
			return nil, err
		}
		tables[name] = extract
	}

	types, err := e.versions.Types(ctx, projectName)
	if err != nil {
		return nil, err
	}
	versions := make(map[string][]version.Version, len(types))
	total := 0
	for _, vtype := range types {
		list, err := e.versions.List(ctx, projectName, vtype)
		if err != nil {
			return nil, err
		}
		versions[vtype] = list
		total += len(list)
	}

	buckets, err := e.buckets.List(projectName)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ProjectName: projectName,
		ExportDate:  e.now(),
		Metadata:    meta,
		Tables:      tables,
		Versions:    versions,
		Buckets:     buckets,
		Summary: Summary{
			TotalTables:   len(tableNames),
			TotalVersions: total,
			TotalBuckets:  len(buckets),
		},
	}, nil
}

func (e *Exporter) readTable(ctx context.Context, projectName, table string) (TableExtract, error) {
	schema, err := e.tables.Schema(ctx, projectName, table)
	if err != nil {
		return TableExtract{}, err
	}
	rows, err := e.tables.ReadTable(ctx, projectName, table, "", "")
	if err != nil {
		return TableExtract{}, err
	}

	columns := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		columns[i] = col.Name
	}
	return TableExtract{Columns: columns, Rows: rows}, nil
}

// Bundle writes the ZIP export to w under the project lock:
// tables/<name>.csv, versions/<type>_versions.json, project_metadata.json,
// bucket_info.json, README.txt.
func (e *Exporter) Bundle(ctx context.Context, projectName string, w io.Writer) error {
	snap, err := e.Snapshot(ctx, projectName)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	for name, table := range snap.Tables {
		if err := writeCSV(zw, "tables/"+name+".csv", table); err != nil {
			return err
		}
	}

	for vtype, list := range snap.Versions {
		payload := map[string]any{
			"version_type": vtype,
			"versions":     list,
		}
		if err := writeJSON(zw, "versions/"+vtype+"_versions.json", payload); err != nil {
			return err
		}
	}

	if err := writeJSON(zw, "project_metadata.json", snap.Metadata); err != nil {
		return err
	}
	if err := writeJSON(zw, "bucket_info.json", map[string]any{
		"buckets":       snap.Buckets,
		"total_buckets": len(snap.Buckets),
	}); err != nil {
		return err
	}
	if err := writeReadme(zw, snap); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing export bundle: %w", err)
	}

	e.logger.Info("project exported",
		"project", projectName,
		"tables", snap.Summary.TotalTables,
		"versions", snap.Summary.TotalVersions)

	return nil
}

func writeJSON(zw *zip.Writer, name string, payload any) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s in bundle: %w", name, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func writeReadme(zw *zip.Writer, snap *Snapshot) error {
	f, err := zw.Create("README.txt")
	if err != nil {
		return fmt.Errorf("creating README in bundle: %w", err)
	}
	_, err = fmt.Fprintf(f, `# %s - Complete Export

Generated: %s

## Contents:
- tables/ - All database tables exported as CSV files
- versions/ - All recorded versions as JSON, grouped by type
- project_metadata.json - Project configuration and metadata
- bucket_info.json - Information about document buckets
- README.txt - This file

## Import Instructions:
1. Tables can be imported back through the CSV upload API
2. Versions contain the full prompt and result history
3. Bucket info lists the document collections at export time
`, snap.ProjectName, snap.ExportDate.Format(time.RFC3339))
	return err
}

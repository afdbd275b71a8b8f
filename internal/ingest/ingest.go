// Package ingest turns uploaded files into project data: CSV files become
// structured tables, plain text becomes bucket documents.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/store"
)

// MaxDocumentBytes caps a single text upload.
const MaxDocumentBytes = 10 << 20

var (
	ErrEmptyCSV        = errors.New("csv has no header row")
	ErrDocumentTooLong = errors.New("document exceeds size limit")
)

// TableWriter is the slice of the structured store the ingester needs.
type TableWriter interface {
	CreateTable(ctx context.Context, projectName, table string, columns []string) ([]string, error)
	DeleteTable(ctx context.Context, projectName, table string) error
	AddRow(ctx context.Context, projectName, table string, values store.Row) (int64, error)
}

// DocumentIngester is the slice of the bucket gateway the ingester needs.
type DocumentIngester interface {
	IngestDocument(ctx context.Context, projectName, bucketName, content string) (string, error)
}

// CSVReport summarizes one CSV import.
type CSVReport struct {
	Table        string   `json:"table_name"`
	Columns      []string `json:"columns"`
	RowsInserted int      `json:"rows_inserted"`
}

type Service struct {
	tables  TableWriter
	buckets DocumentIngester
	logger  log.Logger
}

func New(tables TableWriter, buckets DocumentIngester, logger log.Logger) *Service {
	return &Service{tables: tables, buckets: buckets, logger: logger}
}

// CSVTable imports a CSV stream into a new table. The first record is the
// header; each header cell becomes a sanitized TEXT column. With replace
// set, an existing table of the same name is dropped first; otherwise the
// import fails with the store's ErrTableExists.
//
// Short data records pad with empty strings, long ones drop the excess
// cells. A fully empty record is skipped.
func (s *Service) CSVTable(ctx context.Context, projectName, table string, r io.Reader, replace bool) (*CSVReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	if replace {
		if err := s.tables.DeleteTable(ctx, projectName, table); err != nil &&
			!errors.Is(err, store.ErrTableNotFound) {
			return nil, err
		}
	}

	columns, err := s.tables.CreateTable(ctx, projectName, table, header)
	if err != nil {
		return nil, err
	}

	report := &CSVReport{Table: table, Columns: columns}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("reading csv record: %w", err)
		}
		if isBlank(record) {
			continue
		}

		values := make(store.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				values[col] = record[i]
			}
		}
		if _, err := s.tables.AddRow(ctx, projectName, table, values); err != nil {
			return report, fmt.Errorf("inserting csv row %d: %w", report.RowsInserted+1, err)
		}
		report.RowsInserted++
	}

	s.logger.Info("csv imported",
		"project", projectName,
		"table", report.Table,
		"columns", len(report.Columns),
		"rows", report.RowsInserted)

	return report, nil
}

// TextDocument stores uploaded text as a bucket document.
func (s *Service) TextDocument(ctx context.Context, projectName, bucketName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	if len(data) > MaxDocumentBytes {
		return "", ErrDocumentTooLong
	}

	return s.buckets.IngestDocument(ctx, projectName, bucketName, string(data))
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

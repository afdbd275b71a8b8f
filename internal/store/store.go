// Package store implements the per-project structured store: user-defined
// TEXT-only tables inside each project's SQLite database.
//
// Every operation opens its own connection through internal/database and
// closes it before returning; concurrent callers against the same project
// serialize on SQLite's own locking, not on application locks. Column typing
// is deliberately absent: tables are a generic ordered-column row store and
// all values travel as text.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quillworks/quill/internal/database"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
)

var (
	// ErrInvalidName indicates a table or column name that is empty after
	// sanitization, or reserved.
	ErrInvalidName = errors.New("invalid identifier")

	// ErrTableExists indicates a create collided with an existing table.
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound indicates the table does not exist in the project.
	ErrTableNotFound = errors.New("table not found")

	// ErrRowNotFound indicates the rowid does not exist in the table.
	ErrRowNotFound = errors.New("row not found")
)

// reservedTables are internal tables hidden from callers and protected from
// create/drop: the version ledger and golang-migrate's bookkeeping.
var reservedTables = map[string]bool{
	"versions":          true,
	"schema_migrations": true,
}

// Row is one table row as a column→text mapping.
type Row map[string]string

// RowWithID pairs a row with its stable SQLite rowid.
type RowWithID struct {
	ID     int64 `json:"row_id"`
	Values Row   `json:"values"`
}

// RowsPage is one page of ReadRows output.
type RowsPage struct {
	Table   string      `json:"table_name"`
	Rows    []RowWithID `json:"rows"`
	Total   int         `json:"total_rows"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// ColumnInfo describes one column as reported by the storage engine.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// Schema describes a table: its columns and current row count.
type Schema struct {
	Table    string       `json:"table_name"`
	Columns  []ColumnInfo `json:"columns"`
	RowCount int          `json:"row_count"`
}

// Store performs table CRUD against per-project databases resolved through
// the project registry.
type Store struct {
	registry *project.Registry
	logger   log.Logger
}

// New creates a structured store over the given registry.
func New(registry *project.Registry, logger log.Logger) *Store {
	return &Store{registry: registry, logger: logger}
}

// open resolves the project and opens (and migrates) its database.
// The caller must close the returned handle.
func (s *Store) open(projectName string) (*sql.DB, error) {
	dir, err := s.registry.RequireDir(projectName)
	if err != nil {
		return nil, err
	}
	return database.OpenProject(dir)
}

// tableExists reports whether a user table of that exact name exists.
func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table existence: %w", err)
	}
	return true, nil
}

// CreateTable creates a new TEXT-only table with the given ordered columns.
// Returns the sanitized column names actually created.
// Fails with ErrTableExists when the table is already there and ErrInvalidName
// when the name or columns do not survive sanitization.
func (s *Store) CreateTable(ctx context.Context, projectName, table string, columns []string) ([]string, error) {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return nil, err
	}
	if reservedTables[cleanTable] || strings.HasPrefix(cleanTable, "sqlite_") {
		return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidName, cleanTable)
	}

	cleanColumns, err := sanitizeColumns(columns)
	if err != nil {
		return nil, err
	}

	db, err := s.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, cleanTable)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, cleanTable)
	}

	defs := make([]string, len(cleanColumns))
	for i, col := range cleanColumns {
		defs[i] = quoteIdent(col) + " TEXT"
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(cleanTable), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", cleanTable, err)
	}

	s.logger.Info("table created",
		"project", projectName, "table", cleanTable, "columns", len(cleanColumns))
	return cleanColumns, nil
}

// DeleteTable drops a table. Deleting a table that is already gone is
// ErrTableNotFound so callers can tell "already gone" from "gone by my action".
func (s *Store) DeleteTable(ctx context.Context, projectName, table string) error {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return err
	}
	if reservedTables[cleanTable] || strings.HasPrefix(cleanTable, "sqlite_") {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, cleanTable)
	}

	db, err := s.open(projectName)
	if err != nil {
		return err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, cleanTable)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, cleanTable)
	}

	if _, err := db.ExecContext(ctx, "DROP TABLE "+quoteIdent(cleanTable)); err != nil {
		return fmt.Errorf("dropping table %s: %w", cleanTable, err)
	}

	s.logger.Info("table deleted", "project", projectName, "table", cleanTable)
	return nil
}

// ListTables returns user table names in name order, excluding the version
// ledger, migration bookkeeping, and SQLite internals.
func (s *Store) ListTables(ctx context.Context, projectName string) ([]string, error) {
	db, err := s.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		if reservedTables[name] {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

// columnNames returns the ordered column names of an existing table.
func columnNames(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scanning table info: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}
	return columns, nil
}

// Schema returns column metadata and the row count for a table.
func (s *Store) Schema(ctx context.Context, projectName, table string) (*Schema, error) {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return nil, err
	}

	db, err := s.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, cleanTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, cleanTable)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(cleanTable)))
	if err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}
	defer rows.Close()

	schema := &Schema{Table: cleanTable}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scanning table info: %w", err)
		}
		schema.Columns = append(schema.Columns, ColumnInfo{
			Name:       name,
			Type:       typ,
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}

	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+quoteIdent(cleanTable),
	).Scan(&schema.RowCount); err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	return schema, nil
}

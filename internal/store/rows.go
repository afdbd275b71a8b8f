package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// AddRow inserts one row. Missing columns default to empty text and unknown
// columns are ignored so heterogeneous callers (CSV import, templates, the
// API) can write partial rows. Returns the new rowid.
func (s *Store) AddRow(ctx context.Context, projectName, table string, values Row) (int64, error) {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return 0, err
	}

	db, err := s.open(projectName)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	exists, err := tableExists(ctx, db, cleanTable)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, cleanTable)
	}

	columns, err := columnNames(ctx, db, cleanTable)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("%w: table %s has no columns", ErrInvalidName, cleanTable)
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
		args[i] = values[col] // zero value "" for missing columns
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(cleanTable), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting row into %s: %w", cleanTable, err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new rowid: %w", err)
	}
	return rowID, nil
}

// UpdateRow replaces the given columns of one row. Columns not present in
// values keep their current content; unknown columns are ignored.
// Fails with ErrRowNotFound when the rowid does not exist.
func (s *Store) UpdateRow(ctx context.Context, projectName, table string, rowID int64, values Row) error {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return err
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

	columns, err := columnNames(ctx, db, cleanTable)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	for _, col := range columns {
		val, ok := values[col]
		if !ok {
			continue
		}
		sets = append(sets, quoteIdent(col)+" = ?")
		args = append(args, val)
	}
	if len(sets) == 0 {
		return fmt.Errorf("%w: no known columns in update", ErrInvalidName)
	}
	args = append(args, rowID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?",
		quoteIdent(cleanTable), strings.Join(sets, ", "))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating row %d in %s: %w", rowID, cleanTable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rowid %d in %s", ErrRowNotFound, rowID, cleanTable)
	}
	return nil
}

// DeleteRow removes one row by rowid. Deleting an absent row is
// ErrRowNotFound, never silent.
func (s *Store) DeleteRow(ctx context.Context, projectName, table string, rowID int64) error {
	cleanTable, err := SanitizeIdentifier(table)
	if err != nil {
		return err
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

	result, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", quoteIdent(cleanTable)), rowID)
	if err != nil {
		return fmt.Errorf("deleting row %d from %s: %w", rowID, cleanTable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rowid %d in %s", ErrRowNotFound, rowID, cleanTable)
	}
	return nil
}

// ReadTable returns all rows of a table in rowid order, optionally filtered
// by one column = value equality. The filter column must exist in the table.
func (s *Store) ReadTable(ctx context.Context, projectName, table, filterColumn, filterValue string) ([]Row, error) {
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

	columns, err := columnNames(ctx, db, cleanTable)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + quoteIdent(cleanTable)
	var args []any
	if filterColumn != "" {
		cleanFilter, err := SanitizeIdentifier(filterColumn)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(columns, cleanFilter) {
			return nil, fmt.Errorf("%w: filter column %s not in %s", ErrInvalidName, cleanFilter, cleanTable)
		}
		query += " WHERE " + quoteIdent(cleanFilter) + " = ?"
		args = append(args, filterValue)
	}
	query += " ORDER BY rowid"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading table %s: %w", cleanTable, err)
	}
	defer rows.Close()

	return scanRows(rows, columns)
}

// GetRow returns one row by rowid.
func (s *Store) GetRow(ctx context.Context, projectName, table string, rowID int64) (Row, error) {
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

	columns, err := columnNames(ctx, db, cleanTable)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE rowid = ?", quoteIdent(cleanTable))
	rows, err := db.QueryContext(ctx, query, rowID)
	if err != nil {
		return nil, fmt.Errorf("reading row %d of %s: %w", rowID, cleanTable, err)
	}
	defer rows.Close()

	scanned, err := scanRows(rows, columns)
	if err != nil {
		return nil, err
	}
	if len(scanned) == 0 {
		return nil, fmt.Errorf("%w: rowid %d in %s", ErrRowNotFound, rowID, cleanTable)
	}
	return scanned[0], nil
}

// ReadRows returns one page of rows with their rowids, for editing callers.
func (s *Store) ReadRows(ctx context.Context, projectName, table string, limit, offset int) (*RowsPage, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

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

	columns, err := columnNames(ctx, db, cleanTable)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT rowid, * FROM %s ORDER BY rowid LIMIT ? OFFSET ?", quoteIdent(cleanTable))
	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", cleanTable, err)
	}
	defer rows.Close()

	withIDs, err := scanRowsWithID(rows, columns)
	if err != nil {
		return nil, err
	}

	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+quoteIdent(cleanTable),
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}

	return &RowsPage{
		Table:   cleanTable,
		Rows:    withIDs,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}, nil
}

// scanRows scans all result rows into column→text mappings.
func scanRows(rows *sql.Rows, columns []string) ([]Row, error) {
	var out []Row
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning rows: %w", err)
	}
	return out, nil
}

// scanRowsWithID scans "SELECT rowid, *" results.
func scanRowsWithID(rows *sql.Rows, columns []string) ([]RowWithID, error) {
	var out []RowWithID
	var rowID int64
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]any, len(columns)+1)
	scanArgs[0] = &rowID
	for i := range values {
		scanArgs[i+1] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
		}
		out = append(out, RowWithID{ID: rowID, Values: row})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning rows: %w", err)
	}
	return out, nil
}

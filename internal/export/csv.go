package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
)

// writeCSV renders one table into the bundle with a header row in schema
// column order.
func writeCSV(zw *zip.Writer, name string, table TableExtract) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s in bundle: %w", name, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(table.Columns); err != nil {
		return fmt.Errorf("writing header of %s: %w", name, err)
	}

	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing row of %s: %w", name, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", name, err)
	}
	return nil
}

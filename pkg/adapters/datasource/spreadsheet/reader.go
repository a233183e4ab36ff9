package spreadsheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// readHeader returns the header row of a sheet file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiterFor(path)
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

// readRows reads up to limit data rows from a sheet file. Empty cells come
// back as nil so the profiler counts them as missing, matching SQL NULL
// semantics. Ragged rows are tolerated; short rows leave trailing columns nil.
func readRows(ctx context.Context, path string, limit int) (*datasource.QueryExecutionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiterFor(path)
	r.FieldsPerRecord = -1 // tolerate ragged rows

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(header))
	for i, name := range header {
		columns[i] = datasource.ColumnInfo{Name: name, Type: "TEXT"}
	}

	rows := make([]map[string]any, 0)
	for len(rows) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(record) && record[i] != "" {
				rowMap[col.Name] = record[i]
			} else {
				rowMap[col.Name] = nil
			}
		}
		rows = append(rows, rowMap)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

// countDataRows counts the data rows in a sheet file (header excluded).
func countDataRows(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiterFor(path)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var count int64 = -1 // header row offsets the first increment
	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		if _, err := r.Read(); err == io.EOF {
			break
		} else if err != nil {
			return -1, err
		}
		count++
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

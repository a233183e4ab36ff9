package spreadsheet

import (
	"context"
	"fmt"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// SchemaLister exposes sheet files as tables.
type SchemaLister struct {
	config *Config
}

// NewSchemaLister creates a spreadsheet schema lister.
func NewSchemaLister(_ context.Context, cfg *Config, _ *datasource.ConnectionManager, _ string) (*SchemaLister, error) {
	return &SchemaLister{config: cfg}, nil
}

// ListTables returns one table per sheet file. Row counts are exact here;
// counting a local file is cheap, unlike a remote catalog estimate.
func (l *SchemaLister) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	files, err := sheetFiles(l.config.Path)
	if err != nil {
		return nil, err
	}

	var tables []datasource.TableMetadata
	for _, file := range files {
		count, err := countDataRows(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", file, err)
		}
		tables = append(tables, datasource.TableMetadata{
			TableName: tableName(file),
			RowCount:  count,
		})
	}
	return tables, nil
}

// Close is a no-op; file handles are opened and closed per read.
func (l *SchemaLister) Close() error {
	return nil
}

// Sampler returns bounded samples from sheet files.
type Sampler struct {
	config *Config
}

// NewSampler creates a spreadsheet table sampler.
func NewSampler(_ context.Context, cfg *Config, _ *datasource.ConnectionManager, _ string) (*Sampler, error) {
	return &Sampler{config: cfg}, nil
}

// SampleTable returns up to limit rows from the named sheet. The schema name
// is ignored; sheet sources are flat.
func (s *Sampler) SampleTable(ctx context.Context, _, table string, limit int) (*datasource.QueryExecutionResult, error) {
	files, err := sheetFiles(s.config.Path)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if tableName(file) == table {
			if limit <= 0 || limit > datasource.MaxQueryLimit {
				limit = datasource.MaxQueryLimit
			}
			return readRows(ctx, file, limit)
		}
	}
	return nil, fmt.Errorf("table %q not found at %s", table, s.config.Path)
}

// Close is a no-op; file handles are opened and closed per read.
func (s *Sampler) Close() error {
	return nil
}

// Compile-time capability checks.
var (
	_ datasource.SchemaLister = (*SchemaLister)(nil)
	_ datasource.TableSampler = (*Sampler)(nil)
)

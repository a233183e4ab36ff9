// Package spreadsheet provides the adapter for local CSV and TSV sources.
// A source points at a single file or a directory; each file is exposed as
// one table named after its basename, with columns taken from the header row.
package spreadsheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// Config contains spreadsheet-specific connection options.
type Config struct {
	Path string // file or directory of .csv/.tsv files
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &Config{Path: path}, nil
}

// isSheetFile reports whether name carries a recognized extension.
func isSheetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv":
		return true
	default:
		return false
	}
}

// delimiterFor returns the field delimiter for a file path.
func delimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}

// sheetFiles enumerates the files exposed as tables, sorted by name.
// For a single-file source the slice has one element.
func sheetFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}

	if !info.IsDir() {
		if !isSheetFile(root) {
			return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(root))
		}
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isSheetFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(root, entry.Name()))
	}
	return files, nil
}

// tableName returns the table name for a sheet file (basename, no extension).
func tableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Adapter provides spreadsheet connectivity testing.
type Adapter struct {
	config *Config
}

// NewAdapter creates a spreadsheet connection tester. File sources have no
// pooled state, so the connection manager only tracks the path wrapper.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*Adapter, error) {
	if connMgr != nil {
		_, err := connMgr.GetOrCreate(ctx, connectionID, func(context.Context) (datasource.PoolConnector, error) {
			return datasource.NewFileSourceWrapper(cfg.Path), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return &Adapter{config: cfg}, nil
}

// TestConnection verifies the path exists and at least the header of every
// sheet is readable.
func (a *Adapter) TestConnection(ctx context.Context) error {
	files, err := sheetFiles(a.config.Path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no csv or tsv files found at %s", a.config.Path)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := readHeader(file); err != nil {
			return fmt.Errorf("read header of %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// Close is a no-op; file handles are opened and closed per read.
func (a *Adapter) Close() error {
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)

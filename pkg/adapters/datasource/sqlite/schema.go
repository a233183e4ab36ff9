package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// SchemaLister provides SQLite object discovery.
type SchemaLister struct {
	db      *sql.DB
	ownedDB bool
}

// NewSchemaLister creates a SQLite schema lister using the connection manager.
// If connMgr is nil, creates an unmanaged handle (for tests).
func NewSchemaLister(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*SchemaLister, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &SchemaLister{db: db, ownedDB: owned}, nil
}

// ListTables returns all user tables from sqlite_master, excluding SQLite's
// internal bookkeeping tables. SQLite keeps no row count statistics, so every
// estimate is -1.
func (l *SchemaLister) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.TableName); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.RowCount = -1
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// Close releases the lister (but NOT the handle if managed).
func (l *SchemaLister) Close() error {
	if l.ownedDB && l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Ensure SchemaLister implements datasource.SchemaLister at compile time.
var _ datasource.SchemaLister = (*SchemaLister)(nil)

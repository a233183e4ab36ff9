package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// SchemaLister provides MySQL object discovery.
type SchemaLister struct {
	config  *Config
	db      *sql.DB
	ownedDB bool
}

// NewSchemaLister creates a MySQL schema lister using the connection manager.
// If connMgr is nil, creates an unmanaged pool (for tests).
func NewSchemaLister(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*SchemaLister, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &SchemaLister{config: cfg, db: db, ownedDB: owned}, nil
}

// ListTables returns all base tables in the connected schema. TABLE_ROWS is
// the storage engine's estimate; for InnoDB it can be off by a wide margin.
// NULL estimates are reported as -1.
func (l *SchemaLister) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT TABLE_NAME, COALESCE(TABLE_ROWS, -1)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := l.db.QueryContext(ctx, query, l.config.Database)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		// MySQL has no schema level below the database; leave SchemaName empty
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// Close releases the lister (but NOT the pool if managed).
func (l *SchemaLister) Close() error {
	if l.ownedDB && l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Ensure SchemaLister implements datasource.SchemaLister at compile time.
var _ datasource.SchemaLister = (*SchemaLister)(nil)

package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// SchemaLister provides warehouse object discovery.
type SchemaLister struct {
	db      *sql.DB
	ownedDB bool
}

// NewSchemaLister creates a warehouse schema lister using the connection manager.
// If connMgr is nil, creates an unmanaged pool (for tests).
func NewSchemaLister(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*SchemaLister, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &SchemaLister{db: db, ownedDB: owned}, nil
}

// ListTables returns all user tables with row counts from partition metadata.
// sys.partitions counts are maintained by the engine and cheap to read, at
// the cost of being slightly stale after bulk loads.
func (l *SchemaLister) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)  -- Heap or clustered index
	  AND t.is_ms_shipped = 0   -- Exclude system tables
	GROUP BY t.schema_id, t.name
	ORDER BY table_schema, table_name
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
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

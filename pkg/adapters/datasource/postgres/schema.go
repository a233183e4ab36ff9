package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// SchemaLister provides PostgreSQL object discovery.
type SchemaLister struct {
	pool      *pgxpool.Pool
	ownedPool bool
}

// NewSchemaLister creates a PostgreSQL schema lister using the connection manager.
// If connMgr is nil, creates an unmanaged pool (for tests).
func NewSchemaLister(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*SchemaLister, error) {
	pool, owned, err := acquirePool(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &SchemaLister{pool: pool, ownedPool: owned}, nil
}

// ListTables returns all user tables (system schemas excluded). Row counts
// come from pg_class.reltuples, a planner estimate that is cheap to read and
// may lag the true count; -1 is reported when no estimate exists.
func (l *SchemaLister) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(c.reltuples::bigint, -1) as row_count
		FROM information_schema.tables t
		LEFT JOIN pg_class c ON c.relname = t.table_name
		LEFT JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := l.pool.Query(ctx, query)
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
		// reltuples reports 0 for never-analyzed tables; treat that as unknown
		// rather than claiming emptiness
		if t.RowCount == 0 {
			t.RowCount = -1
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
	if l.ownedPool && l.pool != nil {
		l.pool.Close()
	}
	return nil
}

// Ensure SchemaLister implements datasource.SchemaLister at compile time.
var _ datasource.SchemaLister = (*SchemaLister)(nil)

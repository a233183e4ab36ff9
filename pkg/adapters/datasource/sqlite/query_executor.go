package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// QueryExecutor provides SQLite query execution and table sampling.
type QueryExecutor struct {
	db      *sql.DB
	ownedDB bool
}

// NewQueryExecutor creates a SQLite query executor using the connection manager.
// If connMgr is nil, creates an unmanaged handle (for tests).
func NewQueryExecutor(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*QueryExecutor, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &QueryExecutor{db: db, ownedDB: owned}, nil
}

// effectiveLimit clamps the caller's limit into (0, MaxQueryLimit].
func effectiveLimit(limit int) int {
	if limit <= 0 || limit > datasource.MaxQueryLimit {
		return datasource.MaxQueryLimit
	}
	return limit
}

// Query runs a SELECT statement and returns bounded results.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	return e.QueryWithParams(ctx, sqlQuery, nil, limit)
}

// QueryWithParams runs a parameterized SELECT with ? placeholders. The query
// is always wrapped with a LIMIT so no caller can exceed MaxQueryLimit rows.
func (e *QueryExecutor) QueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	queryToRun := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, effectiveLimit(limit))

	rows, err := e.db.QueryContext(ctx, queryToRun, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return datasource.CollectSQLRows(rows)
}

// SampleTable returns up to limit rows from the named table.
func (e *QueryExecutor) SampleTable(ctx context.Context, _, tableName string, limit int) (*datasource.QueryExecutionResult, error) {
	// SQLite has a single namespace; the schema name is ignored
	return e.Query(ctx, "SELECT * FROM "+e.QuoteIdentifier(tableName), limit)
}

// QuoteIdentifier safely quotes a SQL identifier using standard double quotes.
func (e *QueryExecutor) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Close releases the executor (but NOT the handle if managed).
func (e *QueryExecutor) Close() error {
	if e.ownedDB && e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Ensure QueryExecutor implements both capabilities at compile time.
var (
	_ datasource.QueryExecutor = (*QueryExecutor)(nil)
	_ datasource.TableSampler  = (*QueryExecutor)(nil)
)

package datasource

import "context"

// ConnectionTester tests datasource connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the source is reachable with valid credentials.
	// Returns nil if the connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// SchemaLister enumerates the object inventory of a source.
// Each implementation owns its connection and must be closed when done.
type SchemaLister interface {
	// ListTables returns all user tables in discovery order
	// (system schemas excluded). Row counts are catalog estimates where the
	// source provides them, -1 where it does not.
	ListTables(ctx context.Context) ([]TableMetadata, error)

	// Close releases the underlying connection.
	Close() error
}

// MaxQueryLimit is the hard cap on rows returned by Query methods.
// This protects against unbounded queries that could exhaust memory.
const MaxQueryLimit = 1000

// QueryExecutor executes read-only SQL against a datasource.
// The query is ALWAYS wrapped with a dialect-specific limit:
//   - PostgreSQL/MySQL/SQLite: SELECT * FROM (query) AS _limited LIMIT n
//   - Warehouse (TDS): SELECT TOP (n) * FROM (query) AS _limited
//
// Limit behavior:
//   - limit <= 0: uses MaxQueryLimit (1000)
//   - limit > MaxQueryLimit: capped to MaxQueryLimit (1000)
//   - otherwise: uses the specified limit
//
// Each implementation owns its connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// QueryWithParams runs a parameterized SELECT with bounded results.
	// Placeholders follow the adapter's dialect ($1 for postgres, ? elsewhere).
	QueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// QuoteIdentifier safely quotes a SQL identifier (table, column, schema
	// name) to prevent SQL injection. Dialect-specific.
	QuoteIdentifier(name string) string

	// Close releases any resources held by the executor.
	Close() error
}

// TableSampler fetches a bounded sample of rows from one table. This is the
// capability deep scans are built on; unlike QueryExecutor it is implemented
// by every kind, including non-SQL sources such as spreadsheets.
type TableSampler interface {
	// SampleTable returns up to limit rows from the named table.
	SampleTable(ctx context.Context, schemaName, tableName string, limit int) (*QueryExecutionResult, error)

	// Close releases any resources held by the sampler.
	Close() error
}

// TableMetadata represents a discovered table, view or sheet.
type TableMetadata struct {
	SchemaName string `json:"schema,omitempty"`
	TableName  string `json:"name"`
	// RowCount is a catalog estimate, not an exact count. -1 means unknown.
	RowCount int64 `json:"row_count"`
}

// DisplayName returns the table reference callers see in scan results.
// Default schemas (public, main, dbo) are elided.
func (t TableMetadata) DisplayName() string {
	switch t.SchemaName {
	case "", "public", "main", "dbo":
		return t.TableName
	default:
		return t.SchemaName + "." + t.TableName
	}
}

// ColumnInfo describes a result column with source-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Source type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query. Rows within
// one result reflect a single coherent query against a single physical handle.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

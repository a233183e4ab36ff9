package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPoolWrapper wraps *pgxpool.Pool to implement PoolConnector.
type PgxPoolWrapper struct {
	pool *pgxpool.Pool
}

// NewPgxPoolWrapper creates a new pgx pool wrapper.
func NewPgxPoolWrapper(pool *pgxpool.Pool) *PgxPoolWrapper {
	return &PgxPoolWrapper{pool: pool}
}

// Ping verifies the PostgreSQL connection is alive.
func (w *PgxPoolWrapper) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close closes all connections in the pool.
func (w *PgxPoolWrapper) Close() error {
	w.pool.Close()
	return nil
}

// Kind returns the source kind.
func (w *PgxPoolWrapper) Kind() string {
	return "postgres"
}

// Pool returns the underlying *pgxpool.Pool.
func (w *PgxPoolWrapper) Pool() *pgxpool.Pool {
	return w.pool
}

// GetPgxPool extracts the underlying *pgxpool.Pool from a PoolConnector.
// Returns an error if the connector is not a pgx pool.
func GetPgxPool(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PgxPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a pgx pool wrapper")
	}
	return wrapper.Pool(), nil
}

// SQLPoolWrapper wraps *sql.DB to implement PoolConnector. Used by the
// mysql, sqlite and warehouse adapters.
type SQLPoolWrapper struct {
	db   *sql.DB
	kind string
}

// NewSQLPoolWrapper creates a new database/sql pool wrapper.
func NewSQLPoolWrapper(db *sql.DB, kind string) *SQLPoolWrapper {
	return &SQLPoolWrapper{db: db, kind: kind}
}

// Ping verifies the connection is alive.
func (w *SQLPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes all connections in the pool.
func (w *SQLPoolWrapper) Close() error {
	return w.db.Close()
}

// Kind returns the source kind.
func (w *SQLPoolWrapper) Kind() string {
	return w.kind
}

// DB returns the underlying *sql.DB.
func (w *SQLPoolWrapper) DB() *sql.DB {
	return w.db
}

// GetSQLDB extracts the underlying *sql.DB from a PoolConnector.
// Returns an error if the connector is not a database/sql pool.
func GetSQLDB(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a database/sql pool wrapper")
	}
	return wrapper.DB(), nil
}

// FileSourceWrapper wraps a filesystem path (spreadsheet file or directory)
// to implement PoolConnector. There is no pooling to do for local files;
// Ping checks the path is still there.
type FileSourceWrapper struct {
	path string
}

// NewFileSourceWrapper creates a new file source wrapper.
func NewFileSourceWrapper(path string) *FileSourceWrapper {
	return &FileSourceWrapper{path: path}
}

// Ping verifies the path still exists and is readable.
func (w *FileSourceWrapper) Ping(_ context.Context) error {
	_, err := os.Stat(w.path)
	return err
}

// Close is a no-op; file handles are opened and closed per read.
func (w *FileSourceWrapper) Close() error {
	return nil
}

// Kind returns the source kind.
func (w *FileSourceWrapper) Kind() string {
	return "spreadsheet"
}

// Path returns the wrapped filesystem path.
func (w *FileSourceWrapper) Path() string {
	return w.path
}

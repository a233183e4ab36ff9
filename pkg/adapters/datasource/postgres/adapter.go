package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
)

// Adapter provides PostgreSQL connectivity testing.
type Adapter struct {
	config    *Config
	pool      *pgxpool.Pool
	ownedPool bool // true if we created the pool (validation path)
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields must be URL-escaped to handle special characters
// in passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
func buildConnectionString(cfg *Config, maxConns, minConns int32) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
	if maxConns > 0 {
		connStr += fmt.Sprintf("&pool_max_conns=%d", maxConns)
	}
	if minConns > 0 {
		connStr += fmt.Sprintf("&pool_min_conns=%d", minConns)
	}
	return connStr
}

// acquirePool returns the managed pool for connectionID, dialing through the
// connection manager. With a nil manager it creates an unmanaged pool the
// caller owns (validation and tests).
func acquirePool(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*pgxpool.Pool, bool, error) {
	if connMgr == nil {
		pool, err := pgxpool.New(ctx, buildConnectionString(cfg, 0, 0))
		if err != nil {
			return nil, false, fmt.Errorf("connect to postgres: %w", err)
		}
		return pool, true, nil
	}

	connStr := buildConnectionString(cfg, connMgr.PoolMaxConns(), connMgr.PoolMinConns())
	connector, err := connMgr.GetOrCreate(ctx, connectionID, func(dialCtx context.Context) (datasource.PoolConnector, error) {
		pool, err := pgxpool.New(dialCtx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(dialCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return datasource.NewPgxPoolWrapper(pool), nil
	})
	if err != nil {
		return nil, false, err
	}

	pool, err := datasource.GetPgxPool(connector)
	if err != nil {
		return nil, false, fmt.Errorf("extract postgres pool: %w", err)
	}
	return pool, false, nil
}

// NewAdapter creates a PostgreSQL connection tester.
// If connMgr is nil, the adapter owns a one-shot pool closed with it.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*Adapter, error) {
	pool, owned, err := acquirePool(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, pool: pool, ownedPool: owned}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks:
// 1. Server connectivity (ping)
// 2. Database access (simple query)
// 3. Correct database name (to prevent connecting to wrong/default database)
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	// PostgreSQL database names are case-sensitive, but compare loosely to
	// handle common configuration issues
	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	return nil
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	// Managed pools are closed by the connection manager on TTL or removal
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)

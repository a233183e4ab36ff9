// Package warehouse provides the adapter for TDS-speaking cloud warehouses
// (Azure SQL, Synapse dedicated pools, Fabric warehouses).
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // TDS driver

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// Adapter provides warehouse connectivity testing.
type Adapter struct {
	config  *Config
	db      *sql.DB
	ownedDB bool
}

// buildConnectionString builds a sqlserver:// URL with proper escaping.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}

// openDB opens a database/sql pool with the manager's sizing applied.
func openDB(cfg *Config, connMgr *datasource.ConnectionManager) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open warehouse connection: %w", err)
	}
	if connMgr != nil {
		db.SetMaxOpenConns(int(connMgr.PoolMaxConns()))
		db.SetMaxIdleConns(int(connMgr.PoolMinConns()))
		db.SetConnMaxIdleTime(connMgr.TTL())
	}
	return db, nil
}

// acquireDB returns the managed pool for connectionID. With a nil manager it
// creates an unmanaged pool the caller owns (validation and tests).
func acquireDB(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*sql.DB, bool, error) {
	if connMgr == nil {
		db, err := openDB(cfg, nil)
		if err != nil {
			return nil, false, err
		}
		return db, true, nil
	}

	connector, err := connMgr.GetOrCreate(ctx, connectionID, func(dialCtx context.Context) (datasource.PoolConnector, error) {
		db, err := openDB(cfg, connMgr)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(dialCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping warehouse: %w", err)
		}
		return datasource.NewSQLPoolWrapper(db, string(models.KindWarehouse)), nil
	})
	if err != nil {
		return nil, false, err
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, false, fmt.Errorf("extract warehouse pool: %w", err)
	}
	return db, false, nil
}

// NewAdapter creates a warehouse connection tester.
// If connMgr is nil, the adapter owns a one-shot pool closed with it.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*Adapter, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, db: db, ownedDB: owned}, nil
}

// TestConnection verifies the warehouse is reachable with valid credentials
// and that the session landed on the expected database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	// Warehouse database names are case-insensitive
	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	return nil
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)

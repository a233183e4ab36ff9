package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// Adapter provides MySQL connectivity testing.
type Adapter struct {
	config  *Config
	db      *sql.DB
	ownedDB bool // true if we created the pool (validation path)
}

// buildDSN builds a MySQL DSN via the driver's own config type so special
// characters in passwords survive intact. parseTime makes DATETIME columns
// come back as time.Time instead of []byte.
func buildDSN(cfg *Config) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// openDB opens a database/sql pool with the manager's sizing applied.
func openDB(cfg *Config, connMgr *datasource.ConnectionManager) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if connMgr != nil {
		db.SetMaxOpenConns(int(connMgr.PoolMaxConns()))
		db.SetMaxIdleConns(int(connMgr.PoolMinConns()))
		db.SetConnMaxIdleTime(connMgr.TTL())
	} else {
		db.SetMaxOpenConns(2)
		db.SetConnMaxIdleTime(time.Minute)
	}
	return db, nil
}

// acquireDB returns the managed pool for connectionID, dialing through the
// connection manager. With a nil manager it creates an unmanaged pool the
// caller owns (validation and tests).
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
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		return datasource.NewSQLPoolWrapper(db, string(models.KindMySQL)), nil
	})
	if err != nil {
		return nil, false, err
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, false, fmt.Errorf("extract mysql pool: %w", err)
	}
	return db, false, nil
}

// NewAdapter creates a MySQL connection tester.
// If connMgr is nil, the adapter owns a one-shot pool closed with it.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*Adapter, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, db: db, ownedDB: owned}, nil
}

// TestConnection verifies the database is reachable with valid credentials
// and that the session landed on the expected schema.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if !currentDB.Valid || currentDB.String != a.config.Database {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB.String)
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

// Package sqlite provides the adapter for local SQLite database files,
// backed by the pure-Go modernc.org/sqlite driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// Config contains SQLite-specific connection options.
type Config struct {
	Path string // filesystem path to the database file
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &Config{Path: path}, nil
}

// Adapter provides SQLite connectivity testing.
type Adapter struct {
	config  *Config
	db      *sql.DB
	ownedDB bool
}

// openDB opens the database file. SQLite serializes writers internally, so a
// single connection avoids "database is locked" churn under concurrency.
func openDB(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// acquireDB returns the managed handle for connectionID. With a nil manager
// it creates an unmanaged handle the caller owns (validation and tests).
func acquireDB(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*sql.DB, bool, error) {
	if connMgr == nil {
		db, err := openDB(cfg)
		if err != nil {
			return nil, false, err
		}
		return db, true, nil
	}

	connector, err := connMgr.GetOrCreate(ctx, connectionID, func(dialCtx context.Context) (datasource.PoolConnector, error) {
		db, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(dialCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		return datasource.NewSQLPoolWrapper(db, string(models.KindSQLite)), nil
	})
	if err != nil {
		return nil, false, err
	}

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return nil, false, fmt.Errorf("extract sqlite handle: %w", err)
	}
	return db, false, nil
}

// NewAdapter creates a SQLite connection tester.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, connectionID string) (*Adapter, error) {
	db, owned, err := acquireDB(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, db: db, ownedDB: owned}, nil
}

// TestConnection verifies the database file exists and is a readable SQLite
// database. sql.Open for SQLite is lazy, so the file check happens here.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if _, err := os.Stat(a.config.Path); err != nil {
		return fmt.Errorf("database file not accessible: %w", err)
	}

	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	// Forces a real read of the file header; os.Stat alone would accept any file
	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count); err != nil {
		return fmt.Errorf("not a valid sqlite database: %w", err)
	}

	return nil
}

// Close releases the adapter (but NOT the handle if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Adapter)(nil)

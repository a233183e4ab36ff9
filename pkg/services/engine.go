package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/config"
	"github.com/fathomdata/fathom-engine/pkg/crypto"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/models"

	// Registered source adapters.
	_ "github.com/fathomdata/fathom-engine/pkg/adapters/datasource/mysql"
	_ "github.com/fathomdata/fathom-engine/pkg/adapters/datasource/postgres"
	_ "github.com/fathomdata/fathom-engine/pkg/adapters/datasource/spreadsheet"
	_ "github.com/fathomdata/fathom-engine/pkg/adapters/datasource/sqlite"
	_ "github.com/fathomdata/fathom-engine/pkg/adapters/datasource/warehouse"
)

// Engine is the facade over the whole datasource surface: connection
// lifecycle, query execution, and metadata scanning. Everything is explicit
// construction; no globals beyond the adapter registry.
type Engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	connMgr  *datasource.ConnectionManager
	factory  datasource.AdapterFactory
	registry *ConnectionRegistry
	query    *QueryService
	scanner  *MetadataScanner
	cache    *ProfileCache
}

// NewEngine wires the engine from configuration. Connections persisted in
// the configured connections file are registered on startup; a persisted
// connection that fails validation is logged and skipped, never fatal.
func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)

	factory := datasource.NewAdapterFactory(connMgr)

	var encryptor *crypto.CredentialEncryptor
	if cfg.CredentialsKey != "" {
		var err error
		encryptor, err = crypto.NewCredentialEncryptor(cfg.CredentialsKey)
		if err != nil {
			connMgr.Close()
			return nil, fmt.Errorf("initializing credential encryptor: %w", err)
		}
	}
	resolver := NewCredentialResolver(encryptor)

	validator := NewConnectionValidator(factory, cfg.Datasource.ValidateTimeout(), logger)
	cache := NewProfileCache(cfg.ProfileCache.TTL())
	registry := NewConnectionRegistry(validator, resolver, connMgr, cache, logger)

	engine := &Engine{
		cfg:      cfg,
		logger:   logger,
		connMgr:  connMgr,
		factory:  factory,
		registry: registry,
		query:    NewQueryService(registry, factory, logger),
		scanner:  NewMetadataScanner(registry, factory, cache, cfg.Scanner, logger),
		cache:    cache,
	}

	if cfg.ConnectionsFile != "" {
		if err := engine.loadPersistedConnections(cfg.ConnectionsFile); err != nil {
			connMgr.Close()
			return nil, err
		}
	}

	return engine, nil
}

// loadPersistedConnections registers the connections file entries in file
// order. Validation failures are skipped with a warning so one dead source
// cannot block startup.
func (e *Engine) loadPersistedConnections(path string) error {
	stored, err := LoadConnectionsFile(path)
	if err != nil {
		return err
	}

	for _, conn := range stored {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Datasource.ValidateTimeout())
		_, err := e.registry.Register(ctx, conn.ID, conn.Kind, conn.Config)
		cancel()
		if err != nil {
			e.logger.Warn("skipping persisted connection",
				zap.String("connection_id", conn.ID),
				zap.String("kind", string(conn.Kind)),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
	}
	return nil
}

// RegisterConnection validates and registers a new connection.
func (e *Engine) RegisterConnection(ctx context.Context, id string, kind models.SourceKind, cfg map[string]any) (*models.ConnectionDescriptor, error) {
	return e.registry.Register(ctx, id, kind, cfg)
}

// GetConnection returns one connection descriptor.
func (e *Engine) GetConnection(id string) (*models.ConnectionDescriptor, error) {
	return e.registry.Get(id)
}

// ListConnections returns all connection descriptors, ordered by ID.
func (e *Engine) ListConnections() []*models.ConnectionDescriptor {
	return e.registry.List()
}

// UpdateConnection replaces a connection's config after validation.
func (e *Engine) UpdateConnection(ctx context.Context, id string, cfg map[string]any) (*models.ConnectionDescriptor, error) {
	return e.registry.Update(ctx, id, cfg)
}

// DeregisterConnection removes a connection and releases its resources.
func (e *Engine) DeregisterConnection(id string) error {
	return e.registry.Deregister(id)
}

// TestConnection runs an on-demand health check.
func (e *Engine) TestConnection(ctx context.Context, id string) (*models.HealthStatus, error) {
	return e.registry.TestConnection(ctx, id)
}

// ExecuteQuery runs a read-only SQL query against an active connection.
func (e *Engine) ExecuteQuery(ctx context.Context, id, sqlQuery string, rowLimit int) (*datasource.QueryExecutionResult, error) {
	return e.query.ExecuteQuery(ctx, id, sqlQuery, rowLimit)
}

// ExecuteQueryWithParams runs a parameterized read-only SQL query.
func (e *Engine) ExecuteQueryWithParams(ctx context.Context, id, sqlQuery string, params []any, rowLimit int) (*datasource.QueryExecutionResult, error) {
	return e.query.ExecuteQueryWithParams(ctx, id, sqlQuery, params, rowLimit)
}

// ListObjects enumerates the tables of an active connection.
func (e *Engine) ListObjects(ctx context.Context, id string) ([]datasource.TableMetadata, error) {
	return e.scanner.ListObjects(ctx, id)
}

// ScanSource starts an asynchronous metadata scan.
func (e *Engine) ScanSource(ctx context.Context, id string, mode models.ScanMode, deadline time.Time, concurrencyLimit int) (*models.ScanJob, error) {
	return e.scanner.Scan(ctx, id, mode, deadline, concurrencyLimit)
}

// GetScanStatus returns a snapshot of a scan job.
func (e *Engine) GetScanStatus(jobID uuid.UUID) (*models.ScanJob, error) {
	return e.scanner.GetScanStatus(jobID)
}

// CancelScan cancels a running scan job.
func (e *Engine) CancelScan(jobID uuid.UUID) error {
	return e.scanner.CancelScan(jobID)
}

// ListKinds returns the registered source kinds.
func (e *Engine) ListKinds() []datasource.AdapterInfo {
	return e.factory.ListKinds()
}

// PoolStats reports connection pool usage.
func (e *Engine) PoolStats() datasource.ConnectionStats {
	return e.connMgr.Stats()
}

// Shutdown cancels running scans and drains all pooled handles. Safe to call
// more than once.
func (e *Engine) Shutdown() error {
	e.scanner.CancelAll()
	return e.connMgr.Close()
}

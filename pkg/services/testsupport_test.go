package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/config"
)

// fakeKind is a source kind registered only by tests. Its adapters are backed
// by in-memory fixtures, so the full registration/scan/query path runs with
// no external source.
const fakeKind = "fake-source"

// pooledFakeKind is a variant whose factories draw a pooled handle through
// the connection manager, so tests can assert pool accounting across scans.
const pooledFakeKind = "fake-pooled-source"

var (
	fakeBackendsMu sync.Mutex
	fakeBackends   = make(map[string]*fakeBackend)
	fakeBackendSeq atomic.Int64
)

type fakeBackend struct {
	mu sync.Mutex

	testErr error
	listErr error

	tables     []datasource.TableMetadata
	rows       map[string]*datasource.QueryExecutionResult
	failTables map[string]error

	sampleDelay time.Duration

	queryCalls  atomic.Int32
	sampleCalls atomic.Int32

	// concurrent sampling gauge, for asserting throttling
	inFlight     atomic.Int32
	peakInFlight atomic.Int32

	poolDials  atomic.Int32
	poolClosed atomic.Bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rows:       make(map[string]*datasource.QueryExecutionResult),
		failTables: make(map[string]error),
	}
}

// register installs the backend and returns the config map that routes
// adapter factories to it.
func (b *fakeBackend) register() map[string]any {
	id := fmt.Sprintf("backend-%d", fakeBackendSeq.Add(1))
	fakeBackendsMu.Lock()
	fakeBackends[id] = b
	fakeBackendsMu.Unlock()
	return map[string]any{"backend": id}
}

func (b *fakeBackend) setTestErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.testErr = err
}

func (b *fakeBackend) addTable(name string, result *datasource.QueryExecutionResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables = append(b.tables, datasource.TableMetadata{
		TableName: name,
		RowCount:  int64(len(result.Rows)),
	})
	b.rows[name] = result
}

func backendFromConfig(cfg map[string]any) (*fakeBackend, error) {
	id, _ := cfg["backend"].(string)
	fakeBackendsMu.Lock()
	backend, ok := fakeBackends[id]
	fakeBackendsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown fake backend %q", id)
	}
	return backend, nil
}

type fakeAdapter struct {
	backend *fakeBackend
}

func (a *fakeAdapter) TestConnection(_ context.Context) error {
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	return a.backend.testErr
}

func (a *fakeAdapter) ListTables(_ context.Context) ([]datasource.TableMetadata, error) {
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	if a.backend.listErr != nil {
		return nil, a.backend.listErr
	}
	tables := make([]datasource.TableMetadata, len(a.backend.tables))
	copy(tables, a.backend.tables)
	return tables, nil
}

func (a *fakeAdapter) Query(ctx context.Context, _ string, limit int) (*datasource.QueryExecutionResult, error) {
	a.backend.queryCalls.Add(1)
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	for _, result := range a.backend.rows {
		return capResult(result, limit), nil
	}
	return &datasource.QueryExecutionResult{Rows: []map[string]any{}}, nil
}

func (a *fakeAdapter) QueryWithParams(ctx context.Context, sqlQuery string, _ []any, limit int) (*datasource.QueryExecutionResult, error) {
	return a.Query(ctx, sqlQuery, limit)
}

func (a *fakeAdapter) QuoteIdentifier(name string) string { return `"` + name + `"` }

func (a *fakeAdapter) SampleTable(ctx context.Context, _, tableName string, limit int) (*datasource.QueryExecutionResult, error) {
	a.backend.sampleCalls.Add(1)

	current := a.backend.inFlight.Add(1)
	for {
		peak := a.backend.peakInFlight.Load()
		if current <= peak || a.backend.peakInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	defer a.backend.inFlight.Add(-1)

	a.backend.mu.Lock()
	delay := a.backend.sampleDelay
	failErr := a.backend.failTables[tableName]
	result := a.backend.rows[tableName]
	a.backend.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	if result == nil {
		return nil, fmt.Errorf("table %q not found", tableName)
	}
	return capResult(result, limit), nil
}

func (a *fakeAdapter) Close() error { return nil }

// fakePoolConnector is the pooled handle behind pooledFakeKind. The manager
// owns its lifetime; adapter Close never touches it.
type fakePoolConnector struct {
	backend *fakeBackend
}

func (c *fakePoolConnector) Ping(_ context.Context) error { return nil }

func (c *fakePoolConnector) Close() error {
	c.backend.poolClosed.Store(true)
	return nil
}

func (c *fakePoolConnector) Kind() string { return pooledFakeKind }

// pooledFakeAdapter draws the shared pool for connectionID before handing out
// an adapter. A nil manager (throwaway validation) skips the pool entirely.
func pooledFakeAdapter(ctx context.Context, cfg map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (*fakeAdapter, error) {
	backend, err := backendFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if connMgr != nil {
		_, err = connMgr.GetOrCreate(ctx, connectionID, func(_ context.Context) (datasource.PoolConnector, error) {
			backend.poolDials.Add(1)
			return &fakePoolConnector{backend: backend}, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return &fakeAdapter{backend: backend}, nil
}

func capResult(result *datasource.QueryExecutionResult, limit int) *datasource.QueryExecutionResult {
	rows := result.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return &datasource.QueryExecutionResult{
		Columns:  result.Columns,
		Rows:     rows,
		RowCount: len(rows),
	}
}

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Kind:        fakeKind,
			DisplayName: "Fake Source",
			Description: "In-memory source for tests",
		},
		Tester: func(_ context.Context, cfg map[string]any, _ *datasource.ConnectionManager, _ string) (datasource.ConnectionTester, error) {
			backend, err := backendFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return &fakeAdapter{backend: backend}, nil
		},
		SchemaLister: func(_ context.Context, cfg map[string]any, _ *datasource.ConnectionManager, _ string) (datasource.SchemaLister, error) {
			backend, err := backendFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return &fakeAdapter{backend: backend}, nil
		},
		QueryExecutor: func(_ context.Context, cfg map[string]any, _ *datasource.ConnectionManager, _ string) (datasource.QueryExecutor, error) {
			backend, err := backendFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return &fakeAdapter{backend: backend}, nil
		},
		Sampler: func(_ context.Context, cfg map[string]any, _ *datasource.ConnectionManager, _ string) (datasource.TableSampler, error) {
			backend, err := backendFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return &fakeAdapter{backend: backend}, nil
		},
	})

	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Kind:        pooledFakeKind,
			DisplayName: "Pooled Fake Source",
			Description: "In-memory source drawing managed pools, for tests",
		},
		Tester: func(ctx context.Context, cfg map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.ConnectionTester, error) {
			return pooledFakeAdapter(ctx, cfg, connMgr, connectionID)
		},
		SchemaLister: func(ctx context.Context, cfg map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.SchemaLister, error) {
			return pooledFakeAdapter(ctx, cfg, connMgr, connectionID)
		},
		QueryExecutor: func(ctx context.Context, cfg map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.QueryExecutor, error) {
			return pooledFakeAdapter(ctx, cfg, connMgr, connectionID)
		},
		Sampler: func(ctx context.Context, cfg map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.TableSampler, error) {
			return pooledFakeAdapter(ctx, cfg, connMgr, connectionID)
		},
	})
}

// testEngine bundles the wired services for one test.
type testEngine struct {
	connMgr  *datasource.ConnectionManager
	registry *ConnectionRegistry
	query    *QueryService
	scanner  *MetadataScanner
	cache    *ProfileCache
}

func newTestEngine() *testEngine {
	logger := zap.NewNop()
	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
	factory := datasource.NewAdapterFactory(connMgr)
	validator := NewConnectionValidator(factory, 2*time.Second, logger)
	resolver := NewCredentialResolver(nil)
	cache := NewProfileCache(DefaultProfileCacheTTL)
	registry := NewConnectionRegistry(validator, resolver, connMgr, cache, logger)

	scannerCfg := config.ScannerConfig{
		Workers:           4,
		JobTimeoutSeconds: 60,
		SampleRows:        50,
	}

	return &testEngine{
		connMgr:  connMgr,
		registry: registry,
		query:    NewQueryService(registry, factory, logger),
		scanner:  NewMetadataScanner(registry, factory, cache, scannerCfg, logger),
		cache:    cache,
	}
}

func (e *testEngine) close() {
	e.connMgr.Close()
}

// ordersSample mirrors a small orders table: one of three amounts is NULL.
func ordersSample() *datasource.QueryExecutionResult {
	return &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{
			{Name: "id", Type: "INTEGER"},
			{Name: "amount", Type: "REAL"},
			{Name: "status", Type: "TEXT"},
		},
		Rows: []map[string]any{
			{"id": int64(1), "amount": 12.5, "status": "paid"},
			{"id": int64(2), "amount": nil, "status": "pending"},
			{"id": int64(3), "amount": 40.0, "status": "paid"},
		},
		RowCount: 3,
	}
}

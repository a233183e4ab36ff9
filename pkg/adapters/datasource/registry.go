package datasource

import (
	"context"
	"sync"

	"github.com/fathomdata/fathom-engine/pkg/models"
)

// AdapterInfo describes a registered adapter for caller discovery.
type AdapterInfo struct {
	Kind        models.SourceKind `json:"kind"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
}

// TesterFactory creates a connection tester for one descriptor.
// Passing a nil ConnectionManager creates an unmanaged, throwaway handle
// (used by validation, which never reuses its handle).
type TesterFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, connectionID string) (ConnectionTester, error)

// SchemaListerFactory creates a schema lister for one descriptor.
type SchemaListerFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, connectionID string) (SchemaLister, error)

// QueryExecutorFactory creates a query executor for one descriptor.
type QueryExecutorFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, connectionID string) (QueryExecutor, error)

// SamplerFactory creates a table sampler for one descriptor.
type SamplerFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, connectionID string) (TableSampler, error)

// AdapterRegistration contains info + factories for creating adapters.
// QueryExecutor may be nil for kinds that have no SQL surface (spreadsheets);
// all other factories are required.
type AdapterRegistration struct {
	Info          AdapterInfo
	Tester        TesterFactory
	SchemaLister  SchemaListerFactory
	QueryExecutor QueryExecutorFactory
	Sampler       SamplerFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.SourceKind]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Kind] = reg
}

// RegisteredAdapters returns info for all registered adapters.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// IsRegistered checks if an adapter kind is available.
func IsRegistered(kind models.SourceKind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}

func lookup(kind models.SourceKind) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[kind]
	return reg, ok
}

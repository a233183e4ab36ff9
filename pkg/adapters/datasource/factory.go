package datasource

import (
	"context"
	"fmt"

	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewConnectionTester creates a connection tester for the given source kind.
	// If throwaway is true the tester bypasses the connection manager and owns
	// a one-shot handle, closed with the tester.
	NewConnectionTester(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string, throwaway bool) (ConnectionTester, error)

	// NewSchemaLister creates a schema lister for the given source kind.
	NewSchemaLister(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (SchemaLister, error)

	// NewQueryExecutor creates a query executor for the given source kind.
	NewQueryExecutor(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (QueryExecutor, error)

	// NewSampler creates a table sampler for the given source kind.
	NewSampler(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (TableSampler, error)

	// ListKinds returns info for all registered adapter kinds.
	ListKinds() []AdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
}

// NewAdapterFactory returns a factory that uses the global registry and the
// given connection manager for pooled physical handles.
func NewAdapterFactory(connMgr *ConnectionManager) AdapterFactory {
	return &registryFactory{connMgr: connMgr}
}

func (f *registryFactory) NewConnectionTester(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string, throwaway bool) (ConnectionTester, error) {
	reg, ok := lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}
	connMgr := f.connMgr
	if throwaway {
		connMgr = nil
	}
	return reg.Tester(ctx, config, connMgr, connectionID)
}

func (f *registryFactory) NewSchemaLister(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (SchemaLister, error) {
	reg, ok := lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}
	return reg.SchemaLister(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) NewQueryExecutor(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (QueryExecutor, error) {
	reg, ok := lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}
	if reg.QueryExecutor == nil {
		return nil, fmt.Errorf("%w: kind %s has no SQL surface", apperrors.ErrUnsupportedKind, kind)
	}
	return reg.QueryExecutor(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) NewSampler(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) (TableSampler, error) {
	reg, ok := lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}
	return reg.Sampler(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) ListKinds() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)

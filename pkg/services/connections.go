package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// ConnectionRegistry owns the lifecycle of connection descriptors:
// registration with validation, health checks, config updates, and
// deregistration. Mutations on the same connection ID are serialized;
// operations on different IDs run concurrently.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]*models.ConnectionDescriptor
	idLocks     map[string]*sync.Mutex

	validator *ConnectionValidator
	resolver  *CredentialResolver
	connMgr   *datasource.ConnectionManager
	cache     *ProfileCache
	logger    *zap.Logger
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(
	validator *ConnectionValidator,
	resolver *CredentialResolver,
	connMgr *datasource.ConnectionManager,
	cache *ProfileCache,
	logger *zap.Logger,
) *ConnectionRegistry {
	return &ConnectionRegistry{
		descriptors: make(map[string]*models.ConnectionDescriptor),
		idLocks:     make(map[string]*sync.Mutex),
		validator:   validator,
		resolver:    resolver,
		connMgr:     connMgr,
		cache:       cache,
		logger:      logger,
	}
}

// lockFor returns the mutation lock for one connection ID, creating it on
// first use. Lock entries are kept after deregistration so a re-register of
// the same ID still serializes against in-flight operations.
func (r *ConnectionRegistry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.idLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.idLocks[id] = lock
	}
	return lock
}

// Register validates and registers a new connection. The descriptor moves
// Registered -> Testing -> Active; if validation fails the descriptor is
// discarded and the classified error returned, so a failed registration is
// never retrievable afterwards.
func (r *ConnectionRegistry) Register(ctx context.Context, id string, kind models.SourceKind, config map[string]any) (*models.ConnectionDescriptor, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: connection id is required", apperrors.ErrConfig)
	}
	if !datasource.IsRegistered(kind) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}
	if len(config) == 0 {
		return nil, fmt.Errorf("%w: connection config is required", apperrors.ErrConfig)
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	descriptor := &models.ConnectionDescriptor{
		ID:        id,
		Kind:      kind,
		Config:    config,
		State:     models.ConnectionRegistered,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	if _, exists := r.descriptors[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: connection %q already registered", apperrors.ErrConflict, id)
	}
	r.descriptors[id] = descriptor
	r.mu.Unlock()

	r.setState(id, models.ConnectionTesting, "")

	if err := r.validate(ctx, kind, config, id); err != nil {
		// Fail-and-forget: a descriptor that never reached Active is removed
		r.mu.Lock()
		delete(r.descriptors, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("registering connection %q: %w", id, err)
	}

	r.setState(id, models.ConnectionActive, "")

	r.logger.Info("connection registered",
		zap.String("connection_id", id),
		zap.String("kind", string(kind)),
	)

	return r.cloneLocked(id), nil
}

// Get returns a copy of the descriptor, or ErrNotFound.
func (r *ConnectionRegistry) Get(id string) (*models.ConnectionDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptor, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	return descriptor.Clone(), nil
}

// List returns copies of all descriptors, ordered by ID.
func (r *ConnectionRegistry) List() []*models.ConnectionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ConnectionDescriptor, 0, len(r.descriptors))
	for _, descriptor := range r.descriptors {
		out = append(out, descriptor.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deregister removes a connection, releasing its pooled handles and dropping
// its cached profiles before the descriptor disappears. In-flight operations
// holding an old handle finish or fail on their own; nothing new can start.
func (r *ConnectionRegistry) Deregister(id string) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	descriptor, ok := r.descriptors[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	descriptor.State = models.ConnectionClosed
	descriptor.UpdatedAt = time.Now()
	delete(r.descriptors, id)
	r.mu.Unlock()

	r.connMgr.Remove(id)
	r.cache.Invalidate(id)

	r.logger.Info("connection deregistered", zap.String("connection_id", id))
	return nil
}

// Update replaces a connection's config after validating the new config.
// Validation failure leaves the previous descriptor fully intact; there is
// no partial update.
func (r *ConnectionRegistry) Update(ctx context.Context, id string, config map[string]any) (*models.ConnectionDescriptor, error) {
	if len(config) == 0 {
		return nil, fmt.Errorf("%w: connection config is required", apperrors.ErrConfig)
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	descriptor, ok := r.descriptors[id]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	kind := descriptor.Kind
	r.mu.RUnlock()

	if err := r.validate(ctx, kind, config, id); err != nil {
		return nil, fmt.Errorf("updating connection %q: %w", id, err)
	}

	// Old pooled handles dial with the old config; drop them so the next
	// acquisition uses the new one.
	r.connMgr.Remove(id)
	r.cache.Invalidate(id)

	r.mu.Lock()
	descriptor, ok = r.descriptors[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	descriptor.Config = config
	descriptor.State = models.ConnectionActive
	descriptor.LastError = ""
	descriptor.UpdatedAt = time.Now()
	clone := descriptor.Clone()
	r.mu.Unlock()

	r.logger.Info("connection updated", zap.String("connection_id", id))
	return clone, nil
}

// TestConnection runs an on-demand health check. A failing check on an
// Active connection demotes it to Failed and records the error; a passing
// check on a Failed connection promotes it back to Active.
func (r *ConnectionRegistry) TestConnection(ctx context.Context, id string) (*models.HealthStatus, error) {
	r.mu.RLock()
	descriptor, ok := r.descriptors[id]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	kind := descriptor.Kind
	config := descriptor.Clone().Config
	r.mu.RUnlock()

	start := time.Now()
	err := r.validate(ctx, kind, config, id)
	latency := time.Since(start).Milliseconds()

	status := &models.HealthStatus{
		ConnectionID: id,
		CheckedAt:    time.Now(),
		LatencyMs:    latency,
	}

	if err != nil {
		status.Error = logging.SanitizeError(err)
		r.setState(id, models.ConnectionFailed, status.Error)
		status.State = models.ConnectionFailed
		return status, nil
	}

	r.setState(id, models.ConnectionActive, "")
	status.State = models.ConnectionActive
	return status, nil
}

// ActiveSource returns the kind and credential-resolved config for an Active
// connection. Every data-path operation (query, scan, sample) goes through
// here, so non-active connections are rejected uniformly.
func (r *ConnectionRegistry) ActiveSource(id string) (models.SourceKind, map[string]any, error) {
	r.mu.RLock()
	descriptor, ok := r.descriptors[id]
	if !ok {
		r.mu.RUnlock()
		return "", nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	kind := descriptor.Kind
	state := descriptor.State
	config := descriptor.Clone().Config
	r.mu.RUnlock()

	if state != models.ConnectionActive {
		return "", nil, fmt.Errorf("%w: connection %q is %s", apperrors.ErrConnectionNotActive, id, state)
	}

	resolved, err := r.resolver.Resolve(config)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", apperrors.ErrConfig, logging.SanitizeError(err))
	}
	return kind, resolved, nil
}

// validate resolves credential references and runs the bounded validator.
func (r *ConnectionRegistry) validate(ctx context.Context, kind models.SourceKind, config map[string]any, id string) error {
	resolved, err := r.resolver.Resolve(config)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrConfig, logging.SanitizeError(err))
	}
	return r.validator.Validate(ctx, kind, resolved, id)
}

func (r *ConnectionRegistry) setState(id string, state models.ConnectionState, lastError string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if descriptor, ok := r.descriptors[id]; ok {
		descriptor.State = state
		descriptor.LastError = lastError
		descriptor.UpdatedAt = time.Now()
	}
}

func (r *ConnectionRegistry) cloneLocked(id string) *models.ConnectionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if descriptor, ok := r.descriptors[id]; ok {
		return descriptor.Clone()
	}
	return nil
}

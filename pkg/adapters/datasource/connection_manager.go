package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxPools             = 50
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes   int
	MaxPools     int
	PoolMaxConns int32
	PoolMinConns int32
}

// DialFunc creates the physical pool for one connection descriptor.
// Adapters supply this; the manager decides when to call it.
type DialFunc func(ctx context.Context) (PoolConnector, error)

// ConnectionManager owns the pooled physical handles for every registered
// connection, with TTL-based expiry and automatic cleanup. It is the only
// shared mutable resource per connection; two concurrent scans against the
// same connection share the pool but never a handle.
type ConnectionManager struct {
	mu           sync.RWMutex
	connections  map[string]*ManagedConnection // key: connection ID
	ttl          time.Duration
	maxPools     int
	poolMaxConns int32
	poolMinConns int32
	stopped      bool
	stopChan     chan struct{}
	logger       *zap.Logger
}

// ManagedConnection represents a pooled connector with its usage clock.
type ManagedConnection struct {
	connector PoolConnector
	lastUsed  time.Time
	mu        sync.Mutex // Per-connection mutex to prevent concurrent access issues
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	manager := &ConnectionManager{
		connections:  make(map[string]*ManagedConnection),
		ttl:          time.Duration(cfg.TTLMinutes) * time.Minute,
		maxPools:     cfg.MaxPools,
		poolMaxConns: cfg.PoolMaxConns,
		poolMinConns: cfg.PoolMinConns,
		stopChan:     make(chan struct{}),
		logger:       logger,
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// PoolMaxConns returns the per-connection handle cap adapters should apply.
func (m *ConnectionManager) PoolMaxConns() int32 { return m.poolMaxConns }

// PoolMinConns returns the per-connection handle floor adapters should apply.
func (m *ConnectionManager) PoolMinConns() int32 { return m.poolMinConns }

// TTL returns the idle lifetime for physical handles.
func (m *ConnectionManager) TTL() time.Duration { return m.ttl }

// GetOrCreate returns the pooled connector for connectionID, dialing a new
// one via dial if none exists. An existing connector is health-checked with
// retry; an unhealthy one is discarded and recreated rather than returned.
func (m *ConnectionManager) GetOrCreate(ctx context.Context, connectionID string, dial DialFunc) (PoolConnector, error) {
	// Try existing connection with read lock (fast path)
	m.mu.RLock()
	managed, exists := m.connections[connectionID]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.connector.Ping(healthCtx)
		})

		if err != nil {
			// Unhealthy - log sanitized error, remove, and recreate
			m.logger.Warn("pooled connection unhealthy, recreating",
				zap.String("connection_id", connectionID),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock() // Unlock before calling Remove
			m.Remove(connectionID)
			return m.createConnector(ctx, connectionID, dial)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.connector, nil
	}

	return m.createConnector(ctx, connectionID, dial)
}

// createConnector dials a new pooled connector with retry logic.
// Caller must NOT hold any locks (this method acquires the write lock).
func (m *ConnectionManager) createConnector(ctx context.Context, connectionID string, dial DialFunc) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.connections[connectionID]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.connector, nil
	}

	if len(m.connections) >= m.maxPools {
		return nil, fmt.Errorf("connection pool limit reached (%d)", m.maxPools)
	}

	connector, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return dial(ctx)
	})
	if err != nil {
		m.logger.Error("failed to create pooled connection after retries",
			zap.String("connection_id", connectionID),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("create pool for %s: %w", connectionID, err)
	}

	m.connections[connectionID] = &ManagedConnection{
		connector: connector,
		lastUsed:  time.Now(),
	}

	m.logger.Info("created pooled connection",
		zap.String("connection_id", connectionID),
		zap.String("kind", connector.Kind()),
		zap.Int("total_pools", len(m.connections)),
	)

	return connector, nil
}

// Remove closes and forgets the pooled connector for a connection.
// Called on deregistration so no physical handle outlives its descriptor.
func (m *ConnectionManager) Remove(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[connectionID]; exists && managed != nil {
		if managed.connector != nil {
			_ = managed.connector.Close()
		}
		delete(m.connections, connectionID)
		m.logger.Debug("removed pooled connection",
			zap.String("connection_id", connectionID),
		)
	}
}

// cleanupExpiredConnections runs periodically to remove expired connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connectors that haven't been used within TTL.
// Lock ordering: manager lock -> connection lock, to prevent deadlocks.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	expiredKeys := []string{}

	for key, managed := range m.connections {
		if managed != nil {
			managed.mu.Lock()
			expired := now.Sub(managed.lastUsed) > m.ttl
			managed.mu.Unlock()

			if expired {
				expiredKeys = append(expiredKeys, key)
			}
		}
	}

	for _, key := range expiredKeys {
		if managed, exists := m.connections[key]; exists && managed != nil {
			if managed.connector != nil {
				_ = managed.connector.Close()
			}
			delete(m.connections, key)
		}
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired pooled connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all pooled connections and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.connector != nil {
			_ = managed.connector.Close()
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// Stats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalPools:        len(m.connections),
		MaxPools:          m.maxPools,
		TTLMinutes:        int(m.ttl.Minutes()),
		PoolsByKind:       make(map[string]int),
		OldestIdleSeconds: 0,
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		kind := managed.connector.Kind()
		managed.mu.Unlock()

		stats.PoolsByKind[kind]++
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalPools        int            `json:"total_pools"`
	MaxPools          int            `json:"max_pools"`
	TTLMinutes        int            `json:"ttl_minutes"`
	PoolsByKind       map[string]int `json:"pools_by_kind"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}

// Package models holds the engine's shared data types: connection
// descriptors, scan jobs, and column profiles.
package models

import "time"

// SourceKind identifies the family of a registered data source.
type SourceKind string

const (
	KindPostgres    SourceKind = "relational-postgres"
	KindMySQL       SourceKind = "relational-mysql"
	KindSQLite      SourceKind = "relational-sqlite"
	KindSpreadsheet SourceKind = "spreadsheet"
	KindWarehouse   SourceKind = "warehouse-cloud"
)

// ConnectionState tracks the lifecycle of a connection descriptor.
// State never regresses from Active to Registered; the only legal
// transitions are Registered -> Testing -> {Active, Failed},
// Active -> Closed (deregistration) and Active -> Failed (demotion).
type ConnectionState string

const (
	ConnectionRegistered ConnectionState = "registered"
	ConnectionTesting    ConnectionState = "testing"
	ConnectionActive     ConnectionState = "active"
	ConnectionFailed     ConnectionState = "failed"
	ConnectionClosed     ConnectionState = "closed"
)

// ConnectionDescriptor holds the configuration and lifecycle state of one
// registered data source. Config is an opaque key-value map (host, port,
// database, credential references, file paths); credential values are
// references, never logged and never serialized into scan results.
type ConnectionDescriptor struct {
	ID        string          `json:"id"`
	Kind      SourceKind      `json:"kind"`
	Config    map[string]any  `json:"config"`
	State     ConnectionState `json:"state"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep-enough copy for handing out of the registry.
// The config map is copied so callers cannot mutate registry state.
func (d *ConnectionDescriptor) Clone() *ConnectionDescriptor {
	cp := *d
	cp.Config = make(map[string]any, len(d.Config))
	for k, v := range d.Config {
		cp.Config[k] = v
	}
	return &cp
}

// HealthStatus is the result of an explicit connection health check.
type HealthStatus struct {
	ConnectionID string          `json:"connection_id"`
	State        ConnectionState `json:"state"`
	CheckedAt    time.Time       `json:"checked_at"`
	LatencyMs    int64           `json:"latency_ms"`
	Error        string          `json:"error,omitempty"`
}

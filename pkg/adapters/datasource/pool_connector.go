package datasource

import "context"

// PoolConnector abstracts a pooled physical handle across source kinds
// (pgx pools, database/sql pools, spreadsheet file sources).
type PoolConnector interface {
	// Ping verifies the underlying resource is alive
	Ping(ctx context.Context) error

	// Close releases every physical handle held by the connector
	Close() error

	// Kind returns the source kind for logging/stats
	Kind() string
}

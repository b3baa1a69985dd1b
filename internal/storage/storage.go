// Package storage defines the generic record-store port the lifecycle
// engine depends on, and two implementations: an in-process map store
// for tests and a NATS JetStream KV-backed store for durability.
package storage

import "context"

// Namespace constants, one per persisted entity. Each entity type owns
// exactly one namespace; ids are unique only within a namespace.
const (
	NamespaceSchemaMetadata = "schema_metadata"
	NamespaceSchemaVersion  = "schema_version"
	NamespaceFieldIndex     = "schema_field_index"
	NamespaceSerDesInfo     = "serdes_info"
	NamespaceSerDesMapping  = "schema_serdes_mapping"
)

// Filter is one (column, value) equality predicate. Find conjoins a
// list of Filters with AND.
type Filter struct {
	Column string
	Value  any
}

// Store is the Storage Port: namespaced record collections with
// monotonic id allocation, primary-key get, filtered find, and insert.
// All operations are synchronous and durable on return.
type Store interface {
	// NextID returns a monotonically increasing, non-negative integer,
	// unique within namespace for the process lifetime of the registry.
	NextID(ctx context.Context, namespace string) (int64, error)

	// Get returns the record with the given id in namespace, or
	// ok == false if absent. It never errors for "not found".
	Get(ctx context.Context, namespace string, id int64) (record map[string]any, ok bool, err error)

	// Find returns every record in namespace matching all filters.
	// An empty filter list returns every record in the namespace, same
	// as List.
	Find(ctx context.Context, namespace string, filters []Filter) ([]map[string]any, error)

	// List returns every record in namespace, order unspecified.
	List(ctx context.Context, namespace string) ([]map[string]any, error)

	// Add inserts record under id in namespace. Duplicate primary keys
	// are the caller's responsibility to avoid; callers dedup before
	// calling Add.
	Add(ctx context.Context, namespace string, id int64, record map[string]any) error
}

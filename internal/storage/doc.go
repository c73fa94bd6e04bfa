// Package storage persists catalog definitions for a single node.
//
// A node's live catalogs are held by the connector registry; this package
// only remembers how to rebuild them. On start-up the registry lists the
// store and re-creates every catalog, so a restarted node comes back with
// the catalogs it had before, without waiting for the coordinator.
//
// # Implementations
//
// MemoryStore: map-backed, used when no catalog directory is configured.
//
// FileStore: one TOML file per catalog, named after the catalog:
//
//	etc/catalog/
//	├── hive1.toml
//	└── sales.toml
//
// Writes go through a temporary file and a rename so a crash leaves either
// the old or the new definition on disk, never a truncated one.
//
// # Concurrency
//
// Both implementations are safe for concurrent use. Returned values are
// copies; mutating them does not affect the store.
package storage

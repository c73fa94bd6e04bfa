// Package connector is the node-local connector registry: the table from
// catalog name to live connector instance.
//
// Connector implementations are provided by factories keyed by connector
// name ("hive", "memory", ...). Creating a catalog looks up the factory,
// builds a connector from the catalog properties, and records the
// definition in a storage.Store so the catalog survives a restart.
//
// Drop of a catalog that does not exist is a silent no-op by default. A
// registry built with strictDrop reports ErrCatalogNotFound instead.
package connector

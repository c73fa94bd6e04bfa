// Package cluster holds the value types shared by every catalogd node and
// the small JSON-over-HTTP client nodes use to talk to each other.
//
// # Overview
//
// A catalogd cluster is one or more coordinators plus any number of
// workers. Every node runs the same HTTP API; a coordinator additionally
// accepts cluster-wide catalog requests, node registrations and service
// announcements.
//
//	          ┌──────────────────┐
//	client ──▶│   Coordinator    │──┐ PUT /v1/catalog/node
//	          │  - membership    │  │ DELETE /v1/catalog/node/{name}
//	          │  - announcements │  │
//	          └──────────────────┘  │
//	      ┌──────────────┬──────────┘
//	┌─────▼─────┐  ┌─────▼─────┐
//	│ Worker A  │  │ Worker B  │   ...
//	│ catalogs  │  │ catalogs  │
//	└───────────┘  └───────────┘
//
// # Types
//
// CatalogInfo: the request body for creating a catalog. It names the
// catalog, the connector implementation and the connector properties.
//
// NodeInfo: identity, URI, version, role and state of a cluster member.
//
// Snapshot: membership partitioned into active, inactive and shutting-down
// nodes. All enumerates the partitions in that order and the order is
// relied upon by the catalog broadcaster.
//
// # Transport
//
// Client wraps an http.Client with an explicit per-request timeout.
// Non-2xx responses come back as *StatusError so callers can tell a peer
// that answered from a peer that did not.
package cluster

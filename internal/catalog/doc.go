// Package catalog implements the lifecycle of catalogs across the cluster.
//
// A coordinator receiving a create or remove request fans it out to every
// known node through a Broadcaster. Worker nodes are visited first, then
// coordinators, and within each group active nodes precede inactive and
// shutting-down ones:
//
//	client ──PUT /v1/catalog──> coordinator
//	                              │ pass 1: workers      PUT /v1/catalog/node
//	                              │ pass 2: coordinators PUT /v1/catalog/node
//	                              ▼
//	                        ReconciliationLog
//
// Each node applies the operation through Controller.AddCatalogLocal or
// RemoveCatalogLocal, which are idempotent and keep the node's announced
// set of catalog identifiers in step with its registry. A peer that
// fails or times out is logged and recorded but never retried; the
// cluster is eventually consistent at best.
package catalog

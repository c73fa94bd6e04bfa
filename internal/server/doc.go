// Package server is the HTTP surface of a catalogd node.
//
// Every node serves the local-apply endpoints that coordinators call
// during a broadcast:
//
//	PUT    /v1/catalog/node            create a catalog on this node
//	DELETE /v1/catalog/node/{catalog}  drop a catalog from this node
//
// Coordinators additionally accept the cluster-wide operations
// (PUT /v1/catalog, DELETE /v1/catalog/{catalog}), node registration and
// state changes under /v1/node, and announcements under /v1/announcement.
// Workers answer 404 to those.
package server

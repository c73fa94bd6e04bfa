// Package membership tracks which nodes make up the cluster and in which
// state each one is.
//
// The coordinator owns the authoritative Registry. Workers register with
// it on start-up, a HealthMonitor moves nodes between ACTIVE and INACTIVE
// based on /health probes, and a node that shuts down gracefully reports
// SHUTTING_DOWN before it stops serving. Workers keep a RemoteView that
// polls the coordinator's node listing.
//
// Both Registry and RemoteView implement View. Snapshots partition nodes
// into active, inactive and shutting-down lists and keep registration
// order inside each list.
package membership

// Package announce maintains the service announcement each node publishes
// to the coordinator and the coordinator's directory of those
// announcements.
//
// Every node owns one record of type "catalogd". Its "connectorIds"
// property lists the catalogs active on the node as a comma-joined,
// duplicate-free list in order of first creation:
//
//	{"id":"6f1c…","type":"catalogd","properties":{"connectorIds":"hive1,sales"}}
//
// The Updater rewrites that list after a local create or drop and asks
// the Announcer to re-publish at once rather than on the next tick. The
// read-modify-write runs under the Updater's mutex; overlapping updates
// are applied one after the other and none is lost.
package announce

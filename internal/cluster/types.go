package cluster

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidCatalog is returned when a CatalogInfo fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

var catalogNamePattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]*$`)

// CatalogInfo describes one catalog: a named, configured instance of a
// connector. It is built per request and never mutated after decoding.
type CatalogInfo struct {
	Properties    map[string]string `json:"properties"`
	CatalogName   string            `json:"catalogName"`
	ConnectorName string            `json:"connectorName"`
}

// Validate checks the catalog and connector names and normalises a nil
// properties map to an empty one.
func (c *CatalogInfo) Validate() error {
	if c.CatalogName == "" {
		return errors.Mark(errors.New("catalogName is empty"), ErrInvalidCatalog)
	}
	if err := ValidateCatalogName(c.CatalogName); err != nil {
		return err
	}
	if strings.TrimSpace(c.ConnectorName) == "" {
		return errors.Mark(errors.New("connectorName is empty"), ErrInvalidCatalog)
	}
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	return nil
}

// ValidateCatalogName reports whether name is usable as a catalog name
// and as a URL path segment.
func ValidateCatalogName(name string) error {
	if !catalogNamePattern.MatchString(name) {
		return errors.Mark(errors.Newf("catalog name %q must match %s", name, catalogNamePattern), ErrInvalidCatalog)
	}
	return nil
}

// NodeState is the lifecycle state of a node as seen by the membership view.
type NodeState string

const (
	NodeStateActive       NodeState = "ACTIVE"
	NodeStateInactive     NodeState = "INACTIVE"
	NodeStateShuttingDown NodeState = "SHUTTING_DOWN"
)

// Valid reports whether s is one of the known states.
func (s NodeState) Valid() bool {
	switch s {
	case NodeStateActive, NodeStateInactive, NodeStateShuttingDown:
		return true
	}
	return false
}

// NodeInfo describes a cluster member.
type NodeInfo struct {
	Identifier  string    `json:"identifier"`
	URI         string    `json:"uri"`
	Version     string    `json:"version"`
	State       NodeState `json:"nodeState"`
	Coordinator bool      `json:"coordinator"`
}

// Snapshot is a point-in-time view of cluster membership, partitioned by
// node state. Each partition keeps the order its producer emitted.
type Snapshot struct {
	Active       []NodeInfo
	Inactive     []NodeInfo
	ShuttingDown []NodeInfo
}

// All returns every node: active first, then inactive, then shutting down.
// The State field of each returned entry is set from its partition.
func (s Snapshot) All() []NodeInfo {
	out := make([]NodeInfo, 0, len(s.Active)+len(s.Inactive)+len(s.ShuttingDown))
	out = appendWithState(out, s.Active, NodeStateActive)
	out = appendWithState(out, s.Inactive, NodeStateInactive)
	out = appendWithState(out, s.ShuttingDown, NodeStateShuttingDown)
	return out
}

// Nodes returns the nodes of All whose Coordinator flag equals coordinator.
func (s Snapshot) Nodes(coordinator bool) []NodeInfo {
	var out []NodeInfo
	for _, n := range s.All() {
		if n.Coordinator == coordinator {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the total number of nodes in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Active) + len(s.Inactive) + len(s.ShuttingDown)
}

// SnapshotOf partitions nodes by their State field, preserving order.
// Entries with an unknown state are treated as inactive.
func SnapshotOf(nodes []NodeInfo) Snapshot {
	var s Snapshot
	for _, n := range nodes {
		switch n.State {
		case NodeStateActive:
			s.Active = append(s.Active, n)
		case NodeStateShuttingDown:
			s.ShuttingDown = append(s.ShuttingDown, n)
		default:
			s.Inactive = append(s.Inactive, n)
		}
	}
	return s
}

func appendWithState(dst, src []NodeInfo, state NodeState) []NodeInfo {
	for _, n := range src {
		n.State = state
		dst = append(dst, n)
	}
	return dst
}

// RegisterRequest is sent by a node to the coordinator on start-up.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// StateRequest changes the state a node reports to the coordinator.
type StateRequest struct {
	State NodeState `json:"state"`
}

package membership

import (
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/metrics"
)

// ErrUnknownNode is returned for operations on a node that never registered.
var ErrUnknownNode = errors.New("unknown node")

// View is a source of membership snapshots.
type View interface {
	// Snapshot returns the current membership.
	Snapshot() cluster.Snapshot

	// CurrentNode describes the local process.
	CurrentNode() cluster.NodeInfo
}

// Registry is the coordinator's authoritative membership table. Nodes are
// kept in registration order; the coordinator itself is the first entry.
type Registry struct {
	log   *zap.Logger
	nodes []cluster.NodeInfo
	self  cluster.NodeInfo
	mu    sync.RWMutex
}

var _ View = (*Registry)(nil)

// NewRegistry returns a registry containing only self, as ACTIVE.
func NewRegistry(log *zap.Logger, self cluster.NodeInfo) *Registry {
	self.State = cluster.NodeStateActive
	return &Registry{
		log:   log.Named("membership"),
		self:  self,
		nodes: []cluster.NodeInfo{self},
	}
}

// CurrentNode implements View.
func (r *Registry) CurrentNode() cluster.NodeInfo {
	return r.self
}

// Register adds n as ACTIVE or, if its identifier is known, replaces the
// stored entry and reactivates it.
func (r *Registry) Register(n cluster.NodeInfo) error {
	if n.Identifier == "" || n.URI == "" {
		return errors.New("node identifier and uri are required")
	}
	if _, err := cluster.JoinURL(n.URI); err != nil {
		return err
	}
	n.State = cluster.NodeStateActive

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.nodes, func(x cluster.NodeInfo) bool { return x.Identifier == n.Identifier })
	if idx >= 0 {
		r.nodes[idx] = n
		r.log.Info("node re-registered", zap.String("node", n.Identifier), zap.String("uri", n.URI))
	} else {
		r.nodes = append(r.nodes, n)
		r.log.Info("node registered", zap.String("node", n.Identifier), zap.String("uri", n.URI), zap.Bool("coordinator", n.Coordinator))
	}
	r.updateGaugesLocked()
	return nil
}

// SetState sets the state of a registered node.
func (r *Registry) SetState(id string, state cluster.NodeState) error {
	if !state.Valid() {
		return errors.Newf("invalid node state %q", state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return errors.Wrapf(ErrUnknownNode, "node %q", id)
	}
	if r.nodes[idx].State != state {
		r.log.Info("node state changed", zap.String("node", id),
			zap.String("from", string(r.nodes[idx].State)), zap.String("to", string(state)))
		r.nodes[idx].State = state
	}
	r.updateGaugesLocked()
	return nil
}

// MarkUnhealthy is called when a node stopped answering health checks.
// An active node becomes inactive; a node that was shutting down is
// considered gone and is removed.
func (r *Registry) MarkUnhealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return
	}
	switch r.nodes[idx].State {
	case cluster.NodeStateShuttingDown:
		r.nodes = slices.Delete(r.nodes, idx, idx+1)
		r.log.Info("node left the cluster", zap.String("node", id))
	case cluster.NodeStateActive:
		r.nodes[idx].State = cluster.NodeStateInactive
		r.log.Warn("node marked inactive", zap.String("node", id))
	}
	r.updateGaugesLocked()
}

// MarkHealthy reactivates an inactive node. Shutting-down nodes stay so.
func (r *Registry) MarkHealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 || r.nodes[idx].State != cluster.NodeStateInactive {
		return
	}
	r.nodes[idx].State = cluster.NodeStateActive
	r.log.Info("node recovered", zap.String("node", id))
	r.updateGaugesLocked()
}

// Remove forgets a node. The coordinator itself cannot be removed.
func (r *Registry) Remove(id string) {
	if id == r.self.Identifier {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.nodes = slices.Delete(r.nodes, idx, idx+1)
	}
	r.updateGaugesLocked()
}

// Get returns the node registered under id.
func (r *Registry) Get(id string) (cluster.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.nodes[idx], true
	}
	return cluster.NodeInfo{}, false
}

// Peers returns every node except the coordinator itself, for health
// checking.
func (r *Registry) Peers() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Identifier != r.self.Identifier {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot implements View.
func (r *Registry) Snapshot() cluster.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cluster.SnapshotOf(r.nodes)
}

func (r *Registry) indexLocked(id string) int {
	return slices.IndexFunc(r.nodes, func(n cluster.NodeInfo) bool { return n.Identifier == id })
}

func (r *Registry) updateGaugesLocked() {
	counts := map[cluster.NodeState]int{}
	for _, n := range r.nodes {
		counts[n.State]++
	}
	for _, s := range []cluster.NodeState{cluster.NodeStateActive, cluster.NodeStateInactive, cluster.NodeStateShuttingDown} {
		metrics.SetClusterNodes(string(s), counts[s])
	}
}

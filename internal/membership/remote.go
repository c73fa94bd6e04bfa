package membership

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/catalogd/internal/cluster"
)

// RemoteView is a worker's membership view, refreshed from the
// coordinator's node listing.
type RemoteView struct {
	lastRefresh    time.Time
	log            *zap.Logger
	client         *cluster.Client
	coordinatorURI string
	snap           cluster.Snapshot
	self           cluster.NodeInfo
	interval       time.Duration
	mu             sync.RWMutex
}

var _ View = (*RemoteView)(nil)

// NewRemoteView returns a view of the cluster coordinated at
// coordinatorURI. Until the first refresh the snapshot holds only self.
func NewRemoteView(log *zap.Logger, client *cluster.Client, coordinatorURI string, self cluster.NodeInfo, interval time.Duration) *RemoteView {
	self.State = cluster.NodeStateActive
	return &RemoteView{
		log:            log.Named("membership"),
		client:         client,
		coordinatorURI: coordinatorURI,
		self:           self,
		interval:       interval,
		snap:           cluster.Snapshot{Active: []cluster.NodeInfo{self}},
	}
}

// CurrentNode implements View.
func (v *RemoteView) CurrentNode() cluster.NodeInfo {
	return v.self
}

// Snapshot implements View. It returns the last successfully fetched
// membership.
func (v *RemoteView) Snapshot() cluster.Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// refreshedAt returns the time of the last successful refresh.
func (v *RemoteView) refreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastRefresh
}

// Refresh fetches the node listing from the coordinator. When the listing
// does not contain this node, Refresh registers it again.
func (v *RemoteView) Refresh(ctx context.Context) error {
	u, err := cluster.JoinURL(v.coordinatorURI, "v1", "catalog", "nodes")
	if err != nil {
		return err
	}
	var nodes []cluster.NodeInfo
	if err := v.client.GetJSON(ctx, u, &nodes); err != nil {
		return errors.Wrap(err, "fetch cluster nodes")
	}
	if !slices.ContainsFunc(nodes, func(n cluster.NodeInfo) bool { return n.Identifier == v.self.Identifier }) {
		// The coordinator forgot this node, typically after a restart.
		v.log.Info("not listed by coordinator, registering again", zap.String("coordinator", v.coordinatorURI))
		if err := Register(ctx, v.log, v.client, v.coordinatorURI, v.self, 1, 0); err != nil {
			return err
		}
		nodes = append(nodes, v.self)
	}
	snap := cluster.SnapshotOf(nodes)

	v.mu.Lock()
	changed := snap.Len() != v.snap.Len()
	v.snap = snap
	v.lastRefresh = time.Now()
	v.mu.Unlock()
	if changed {
		v.log.Info("cluster size changed", zap.Int("nodes", snap.Len()))
	}
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (v *RemoteView) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.refreshLogged(ctx)
	for {
		select {
		case <-ticker.C:
			v.refreshLogged(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (v *RemoteView) refreshLogged(ctx context.Context) {
	if err := v.Refresh(ctx); err != nil {
		fields := []zap.Field{zap.String("coordinator", v.coordinatorURI), zap.Error(err)}
		if last := v.refreshedAt(); !last.IsZero() {
			fields = append(fields, zap.Duration("stale_for", time.Since(last)))
		}
		v.log.Warn("membership refresh failed", fields...)
	}
}

// Register announces self to the coordinator, trying up to attempts times
// with delay between tries since the coordinator may still be starting.
func Register(ctx context.Context, log *zap.Logger, client *cluster.Client, coordinatorURI string, self cluster.NodeInfo, attempts int, delay time.Duration) error {
	u, err := cluster.JoinURL(coordinatorURI, "v1", "node", "register")
	if err != nil {
		return err
	}
	body := cluster.RegisterRequest{Node: self}

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = client.PostJSON(ctx, u, body, nil)
		if lastErr == nil {
			log.Info("registered with coordinator", zap.String("coordinator", coordinatorURI))
			return nil
		}
		log.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(lastErr, "register with coordinator %s after %d attempts", coordinatorURI, attempts)
}

// ReportState tells the coordinator that node id entered state.
func ReportState(ctx context.Context, client *cluster.Client, coordinatorURI, id string, state cluster.NodeState) error {
	u, err := cluster.JoinURL(coordinatorURI, "v1", "node", id, "state")
	if err != nil {
		return err
	}
	return client.PutJSON(ctx, u, cluster.StateRequest{State: state}, nil)
}

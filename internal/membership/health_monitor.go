package membership

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/catalogd/internal/cluster"
)

// Health states tracked per node.
const (
	healthUnknown   = "unknown"
	healthHealthy   = "healthy"
	healthUnhealthy = "unhealthy"
)

// NodeHealth tracks the health of a single node.
// Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time `json:"lastCheck"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"lastHealthy"`      // Timestamp of the last successful health check
	NodeID           string    `json:"nodeId"`           // Identifier of the node
	Status           string    `json:"status"`           // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       `json:"consecutiveFails"` // Failed checks since the last success
}

// HealthMonitor probes every peer's /health endpoint on an interval and
// reports transitions to the membership registry through its callbacks.
//
// A node becomes unhealthy after maxFailures consecutive failures and
// healthy again on the first successful probe.
type HealthMonitor struct {
	log         *zap.Logger
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, uri string) error
	onUnhealthy func(nodeID string)
	onHealthy   func(nodeID string)
	interval    time.Duration
	mu          sync.RWMutex
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes every interval, gives
// each probe timeout, and marks a node unhealthy after maxFailures
// consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(log, 5*time.Second, 2*time.Second, 3)
//	monitor.SetOnUnhealthy(registry.MarkUnhealthy)
//	monitor.SetOnHealthy(registry.MarkHealthy)
//	go monitor.Start(ctx, registry.Peers)
func NewHealthMonitor(log *zap.Logger, interval, timeout time.Duration, maxFailures int) *HealthMonitor {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	h := &HealthMonitor{
		log:         log.Named("health"),
		interval:    interval,
		maxFailures: maxFailures,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: timeout},
	}
	h.checkFunc = h.defaultHealthCheck
	return h
}

// SetOnUnhealthy sets the callback invoked when a node crosses the failure
// threshold. It runs on the monitor goroutine without locks held.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// SetOnHealthy sets the callback invoked after every successful probe.
func (h *HealthMonitor) SetOnHealthy(callback func(nodeID string)) {
	h.onHealthy = callback
}

// SetCheckFunction overrides the probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, uri string) error) {
	h.checkFunc = checkFunc
}

// Start checks all nodes returned by nodeProvider immediately and then on
// every tick. It blocks until ctx is canceled.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", zap.Duration("interval", h.interval))

	h.checkAllNodes(ctx, nodeProvider())
	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopped")
			return
		}
	}
}

// checkAllNodes probes each node and forgets nodes no longer provided.
func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.Identifier] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
			h.log.Debug("stopped monitoring node", zap.String("node", id))
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.Identifier]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.Identifier,
			Status:      healthUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.Identifier] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(ctx, node.URI)

	h.mu.Lock()
	health.LastCheck = time.Now()
	var notify func(string)
	if err != nil {
		health.ConsecutiveFails++
		h.log.Debug("health check failed",
			zap.String("node", node.Identifier),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max", h.maxFailures),
			zap.Error(err))
		if health.ConsecutiveFails >= h.maxFailures && health.Status != healthUnhealthy {
			health.Status = healthUnhealthy
			h.log.Warn("node unhealthy", zap.String("node", node.Identifier), zap.Int("failures", health.ConsecutiveFails))
			notify = h.onUnhealthy
		}
	} else {
		if health.Status == healthUnhealthy {
			h.log.Info("node recovered", zap.String("node", node.Identifier))
		}
		health.Status = healthHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
		notify = h.onHealthy
	}
	h.mu.Unlock()

	if notify != nil {
		notify(node.Identifier)
	}
}

// defaultHealthCheck issues GET {uri}/health and expects 200.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, uri string) error {
	u, err := cluster.JoinURL(uri, "health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "health check request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of the health record of nodeID, or nil.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

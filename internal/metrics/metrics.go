// Package metrics holds the prometheus collectors exported by catalogd.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_broadcast_peer_requests_total",
		Help: "peer requests issued by catalog broadcasts, by operation and outcome",
	}, []string{"operation", "outcome"})

	broadcastDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalogd_broadcast_duration_seconds",
		Help:    "wall time of one broadcast pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"operation"})

	localCatalogs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalogd_local_catalogs",
		Help: "catalogs currently registered on this node",
	})

	announcements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_announcements_published_total",
		Help: "announcement publish attempts, by result",
	}, []string{"result"})

	clusterNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalogd_cluster_nodes",
		Help: "nodes known to the membership view, by state",
	}, []string{"state"})
)

// RecordPeerRequest counts one peer call of a broadcast.
func RecordPeerRequest(operation, outcome string) {
	peerRequests.WithLabelValues(operation, outcome).Inc()
}

// RecordBroadcast observes the duration of one broadcast pass.
func RecordBroadcast(operation string, d time.Duration) {
	broadcastDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetLocalCatalogs sets the number of catalogs in the local registry.
func SetLocalCatalogs(n int) {
	localCatalogs.Set(float64(n))
}

// RecordAnnouncement counts a publish attempt.
func RecordAnnouncement(err error) {
	if err != nil {
		announcements.WithLabelValues("error").Inc()
		return
	}
	announcements.WithLabelValues("ok").Inc()
}

// SetClusterNodes sets the node count for one state.
func SetClusterNodes(state string, n int) {
	clusterNodes.WithLabelValues(state).Set(float64(n))
}

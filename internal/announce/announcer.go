package announce

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/catalogd/internal/metrics"
)

// ErrAnnouncementNotFound means the node has no record of the requested
// service type. Every node publishes exactly one catalogd record from
// start-up on, so this indicates a broken bootstrap.
var ErrAnnouncementNotFound = errors.New("service announcement not found")

// Record is one service advertised by a node.
type Record struct {
	Properties map[string]string `json:"properties"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
}

func (r Record) clone() Record {
	props := make(map[string]string, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	r.Properties = props
	return r
}

// Announcement is the full set of records published by one node.
type Announcement struct {
	NodeID   string   `json:"nodeId"`
	Services []Record `json:"services"`
}

// Publisher delivers a node's announcement to the discovery service.
type Publisher interface {
	Publish(ctx context.Context, a Announcement) error
}

// Announcer owns the announcement records of the local node and publishes
// them periodically and on demand.
type Announcer struct {
	log       *zap.Logger
	publisher Publisher
	force     chan struct{}
	nodeID    string
	records   []Record
	interval  time.Duration
	timeout   time.Duration
	mu        sync.Mutex
}

// NewAnnouncer returns an Announcer for nodeID that publishes through p
// every interval. Each publish attempt is bounded by timeout.
func NewAnnouncer(log *zap.Logger, nodeID string, p Publisher, interval, timeout time.Duration) *Announcer {
	return &Announcer{
		log:       log.Named("announcer"),
		publisher: p,
		force:     make(chan struct{}, 1),
		nodeID:    nodeID,
		interval:  interval,
		timeout:   timeout,
	}
}

// AddRecord adds a record, assigning a fresh id when rec.ID is empty, and
// returns the stored id.
func (a *Announcer) AddRecord(rec Record) string {
	rec = rec.clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return rec.ID
}

// Records returns copies of the current records in insertion order.
func (a *Announcer) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.records))
	for i, r := range a.records {
		out[i] = r.clone()
	}
	return out
}

// Get returns a copy of the first record of serviceType.
func (a *Announcer) Get(serviceType string) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r.Type == serviceType {
			return r.clone(), nil
		}
	}
	return Record{}, errors.Wrapf(ErrAnnouncementNotFound, "type %q among %d records", serviceType, len(a.records))
}

// Replace swaps the record with id oldID for rec, keeping its position.
func (a *Announcer) Replace(oldID string, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.records {
		if r.ID == oldID {
			a.records[i] = rec.clone()
			return nil
		}
	}
	return errors.Wrapf(ErrAnnouncementNotFound, "id %q", oldID)
}

// ForceAnnounce asks the Run loop to publish now instead of waiting for
// the next tick. It never blocks; pending requests coalesce.
func (a *Announcer) ForceAnnounce() {
	select {
	case a.force <- struct{}{}:
	default:
	}
}

// Announce publishes the current records once.
func (a *Announcer) Announce(ctx context.Context) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	err := a.publisher.Publish(ctx, Announcement{NodeID: a.nodeID, Services: a.Records()})
	metrics.RecordAnnouncement(err)
	return err
}

// Run publishes immediately, then on every tick and every ForceAnnounce
// until ctx is canceled. Publish failures are logged and retried on the
// next tick.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.announceLogged(ctx)
	for {
		select {
		case <-ticker.C:
			a.announceLogged(ctx)
		case <-a.force:
			a.announceLogged(ctx)
		case <-ctx.Done():
			a.log.Debug("announcer stopping")
			return
		}
	}
}

func (a *Announcer) announceLogged(ctx context.Context) {
	if err := a.Announce(ctx); err != nil {
		a.log.Warn("announcement failed", zap.String("node", a.nodeID), zap.Error(err))
	}
}

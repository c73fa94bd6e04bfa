package announce

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/catalogd/internal/cluster"
)

// Entry is the latest announcement received from one node.
type Entry struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Announcement
}

// Directory is the coordinator-side collection of node announcements. It
// also implements Publisher so the coordinator can announce to itself.
type Directory struct {
	entries map[string]Entry
	now     func() time.Time
	mu      sync.RWMutex
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]Entry), now: time.Now}
}

// Put stores a, replacing any previous announcement of the same node.
func (d *Directory) Put(a Announcement) error {
	if a.NodeID == "" {
		return errors.New("announcement without node id")
	}
	services := make([]Record, len(a.Services))
	for i, r := range a.Services {
		services[i] = r.clone()
	}
	a.Services = services

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[a.NodeID] = Entry{Announcement: a, UpdatedAt: d.now()}
	return nil
}

// Publish implements Publisher.
func (d *Directory) Publish(_ context.Context, a Announcement) error {
	return d.Put(a)
}

// Get returns the latest announcement of nodeID.
func (d *Directory) Get(nodeID string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[nodeID]
	return e, ok
}

// Remove forgets nodeID.
func (d *Directory) Remove(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, nodeID)
}

// List returns all entries ordered by node id.
func (d *Directory) List() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.NodeID, b.NodeID) })
	return out
}

// ConnectorIDs returns, per node, the identifiers listed in its catalogd
// record. Nodes without such a record are omitted.
func (d *Directory) ConnectorIDs() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]string, len(d.entries))
	for id, e := range d.entries {
		for _, r := range e.Services {
			if r.Type == ServiceType {
				out[id] = ParseIdentifiers(r.Properties[ConnectorIDsProperty])
				break
			}
		}
	}
	return out
}

// HTTPPublisher sends announcements to a coordinator's directory.
type HTTPPublisher struct {
	client       *cluster.Client
	discoveryURI string
}

// NewHTTPPublisher returns a publisher targeting discoveryURI.
func NewHTTPPublisher(client *cluster.Client, discoveryURI string) *HTTPPublisher {
	return &HTTPPublisher{client: client, discoveryURI: discoveryURI}
}

// Publish PUTs a to {discoveryURI}/v1/announcement/{nodeId}.
func (p *HTTPPublisher) Publish(ctx context.Context, a Announcement) error {
	u, err := cluster.JoinURL(p.discoveryURI, "v1", "announcement", a.NodeID)
	if err != nil {
		return err
	}
	return errors.Wrap(p.client.PutJSON(ctx, u, a, nil), "publish announcement")
}

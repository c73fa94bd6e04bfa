package announce

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	// ServiceType identifies catalogd records among a node's announcements.
	ServiceType = "catalogd"
	// ConnectorIDsProperty holds the comma-joined identifiers of the
	// catalogs active on the node.
	ConnectorIDsProperty = "connectorIds"
)

// Store is the announcement state the Updater reads and rewrites.
type Store interface {
	Get(serviceType string) (Record, error)
	Replace(oldID string, rec Record) error
	ForceAnnounce()
}

// Updater keeps the connectorIds property of the local catalogd record in
// step with the catalogs created and dropped on this node. Updates are
// serialised so concurrent callers never overwrite each other's changes.
type Updater struct {
	log         *zap.Logger
	store       Store
	serviceType string
	mu          sync.Mutex
}

// NewUpdater returns an Updater rewriting the record of serviceType in store.
func NewUpdater(log *zap.Logger, store Store, serviceType string) *Updater {
	return &Updater{log: log.Named("announce"), store: store, serviceType: serviceType}
}

// AddIdentifier appends id to the identifier list. Adding an id that is
// already listed leaves the list untouched.
func (u *Updater) AddIdentifier(id string) error {
	return u.update(func(ids []string) []string {
		if slices.Contains(ids, id) {
			return ids
		}
		return append(ids, id)
	})
}

// RemoveIdentifier deletes id from the identifier list. Removing an id
// that is not listed is a no-op.
func (u *Updater) RemoveIdentifier(id string) error {
	return u.update(func(ids []string) []string {
		i := slices.Index(ids, id)
		if i < 0 {
			return ids
		}
		return slices.Delete(ids, i, i+1)
	})
}

// Identifiers returns the identifiers currently announced.
func (u *Updater) Identifiers() ([]string, error) {
	rec, err := u.store.Get(u.serviceType)
	if err != nil {
		return nil, err
	}
	return ParseIdentifiers(rec.Properties[ConnectorIDsProperty]), nil
}

func (u *Updater) update(fn func([]string) []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	rec, err := u.store.Get(u.serviceType)
	if err != nil {
		err = errors.WithAssertionFailure(err)
		u.log.Error("catalogd announcement missing", zap.String("type", u.serviceType), zap.Error(err))
		return err
	}

	before := rec.Properties[ConnectorIDsProperty]
	after := JoinIdentifiers(fn(ParseIdentifiers(before)))
	if after == before {
		return nil
	}

	props := make(map[string]string, len(rec.Properties)+1)
	for k, v := range rec.Properties {
		props[k] = v
	}
	props[ConnectorIDsProperty] = after

	if err := u.store.Replace(rec.ID, Record{ID: rec.ID, Type: rec.Type, Properties: props}); err != nil {
		return errors.Wrap(err, "replace announcement")
	}
	u.store.ForceAnnounce()
	u.log.Debug("updated announcement", zap.String("connectorIds", after))
	return nil
}

// ParseIdentifiers splits a comma-joined list, trimming blanks, dropping
// empty entries and keeping only the first occurrence of each id.
func ParseIdentifiers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// JoinIdentifiers is the inverse of ParseIdentifiers.
func JoinIdentifiers(ids []string) string {
	return strings.Join(ids, ",")
}

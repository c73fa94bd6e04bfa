package storage

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/catalogd/internal/cluster"
)

// ErrNotFound is returned when no definition exists for a catalog name.
var ErrNotFound = errors.New("catalog definition not found")

// Store persists catalog definitions so a node can restore its catalogs
// after a restart. All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the definition of name, or ErrNotFound.
	Get(name string) (cluster.CatalogInfo, error)

	// Put creates or replaces the definition keyed by info.CatalogName.
	Put(info cluster.CatalogInfo) error

	// Delete removes a definition. Deleting a missing one is not an error.
	Delete(name string) error

	// List returns every definition ordered by catalog name.
	List() ([]cluster.CatalogInfo, error)
}

// MemoryStore keeps definitions in memory. It is used when no catalog
// directory is configured and in tests.
type MemoryStore struct {
	data map[string]cluster.CatalogInfo
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]cluster.CatalogInfo),
	}
}

// Get returns a copy of the stored definition.
func (m *MemoryStore) Get(name string) (cluster.CatalogInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.data[name]
	if !ok {
		return cluster.CatalogInfo{}, errors.Wrapf(ErrNotFound, "catalog %q", name)
	}
	return cloneInfo(info), nil
}

// Put stores a copy of info so later mutation of its properties map by
// the caller is not observed.
func (m *MemoryStore) Put(info cluster.CatalogInfo) error {
	if info.CatalogName == "" {
		return errors.New("catalog name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[info.CatalogName] = cloneInfo(info)
	return nil
}

// Delete removes name. No error if it doesn't exist.
func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, name)
	return nil
}

// List returns copies of all definitions sorted by name.
func (m *MemoryStore) List() ([]cluster.CatalogInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]cluster.CatalogInfo, 0, len(m.data))
	for _, info := range m.data {
		out = append(out, cloneInfo(info))
	}
	sortInfos(out)
	return out, nil
}

func cloneInfo(info cluster.CatalogInfo) cluster.CatalogInfo {
	props := make(map[string]string, len(info.Properties))
	for k, v := range info.Properties {
		props[k] = v
	}
	info.Properties = props
	return info
}

func sortInfos(infos []cluster.CatalogInfo) {
	slices.SortFunc(infos, func(a, b cluster.CatalogInfo) int {
		return strings.Compare(a.CatalogName, b.CatalogName)
	})
}

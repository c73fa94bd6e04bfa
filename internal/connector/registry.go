package connector

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/metrics"
	"github.com/dreamware/catalogd/internal/storage"
)

var (
	// ErrCatalogExists is returned by Create when the name is taken.
	ErrCatalogExists = errors.New("catalog already exists")
	// ErrCatalogNotFound is returned by Drop in strict mode.
	ErrCatalogNotFound = errors.New("catalog not found")
	// ErrUnknownConnector is returned when no factory has the requested name.
	ErrUnknownConnector = errors.New("unknown connector")
)

// Catalog is a registered catalog and its live connector.
type Catalog struct {
	CreatedAt time.Time
	Connector Connector
	Info      cluster.CatalogInfo
}

// Registry is the node-local table of catalogs. It is safe for concurrent
// use; Create and Drop are serialised.
type Registry struct {
	log        *zap.Logger
	store      storage.Store
	factories  map[string]Factory
	catalogs   map[string]*Catalog
	mu         sync.RWMutex
	strictDrop bool
}

// NewRegistry returns an empty registry that persists definitions to
// store. When strictDrop is set, dropping a missing catalog fails with
// ErrCatalogNotFound instead of being a no-op.
func NewRegistry(log *zap.Logger, store storage.Store, strictDrop bool, factories ...Factory) *Registry {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	r := &Registry{
		log:        log.Named("connectors"),
		store:      store,
		factories:  make(map[string]Factory, len(factories)),
		catalogs:   make(map[string]*Catalog),
		strictDrop: strictDrop,
	}
	for _, f := range factories {
		r.factories[f.Name()] = f
	}
	return r
}

// Load re-creates every catalog in the definition store. A definition that
// fails to load is logged and skipped; the combined error is returned
// after all definitions were attempted.
func (r *Registry) Load() error {
	infos, err := r.store.List()
	if err != nil {
		return errors.Wrap(err, "list catalog definitions")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for _, info := range infos {
		if _, ok := r.catalogs[info.CatalogName]; ok {
			continue
		}
		if err := r.createLocked(info); err != nil {
			r.log.Error("failed to load catalog", zap.String("catalog", info.CatalogName), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		r.log.Info("loaded catalog", zap.String("catalog", info.CatalogName), zap.String("connector", info.ConnectorName))
	}
	metrics.SetLocalCatalogs(len(r.catalogs))
	return errs
}

// Create instantiates a connector of type connectorName for catalog name
// and persists its definition. The returned identifier is the catalog name.
func (r *Registry) Create(name, connectorName string, properties map[string]string) (string, error) {
	info := cluster.CatalogInfo{CatalogName: name, ConnectorName: connectorName, Properties: properties}
	if err := info.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.catalogs[name]; ok {
		return "", errors.Wrapf(ErrCatalogExists, "catalog %q", name)
	}
	if err := r.createLocked(info); err != nil {
		return "", err
	}
	if err := r.store.Put(info); err != nil {
		c := r.catalogs[name]
		delete(r.catalogs, name)
		if cerr := c.Connector.Close(); cerr != nil {
			r.log.Warn("failed to close connector", zap.String("catalog", name), zap.Error(cerr))
		}
		return "", errors.Wrapf(err, "persist catalog %q", name)
	}

	metrics.SetLocalCatalogs(len(r.catalogs))
	r.log.Info("created catalog", zap.String("catalog", name), zap.String("connector", connectorName))
	return name, nil
}

func (r *Registry) createLocked(info cluster.CatalogInfo) error {
	f, ok := r.factories[info.ConnectorName]
	if !ok {
		return errors.Wrapf(ErrUnknownConnector, "connector %q for catalog %q", info.ConnectorName, info.CatalogName)
	}
	props := make(map[string]string, len(info.Properties))
	for k, v := range info.Properties {
		props[k] = v
	}
	info.Properties = props

	conn, err := f.Create(info.CatalogName, props)
	if err != nil {
		return errors.Wrapf(err, "create connector %q for catalog %q", info.ConnectorName, info.CatalogName)
	}
	r.catalogs[info.CatalogName] = &Catalog{Info: info, Connector: conn, CreatedAt: time.Now()}
	return nil
}

// Drop removes catalog name, deletes its definition and closes its
// connector. A missing catalog is a no-op unless the registry is strict.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.catalogs[name]
	if !ok {
		if r.strictDrop {
			return errors.Wrapf(ErrCatalogNotFound, "catalog %q", name)
		}
		r.log.Debug("drop of unknown catalog ignored", zap.String("catalog", name))
		return nil
	}
	if err := r.store.Delete(name); err != nil {
		return errors.Wrapf(err, "delete definition of catalog %q", name)
	}
	delete(r.catalogs, name)
	metrics.SetLocalCatalogs(len(r.catalogs))

	if err := c.Connector.Close(); err != nil {
		r.log.Warn("failed to close connector", zap.String("catalog", name), zap.Error(err))
	}
	r.log.Info("dropped catalog", zap.String("catalog", name))
	return nil
}

// Get returns a copy of the catalog registered under name.
func (r *Registry) Get(name string) (Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.catalogs[name]
	if !ok {
		return Catalog{}, false
	}
	return *c, true
}

// List returns the registered catalog names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.catalogs))
	for name := range r.catalogs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Connectors returns the names of the registered factories, sorted.
func (r *Registry) Connectors() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes every connector and empties the registry. Definitions stay
// in the store so the catalogs are restored on the next Load.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for name, c := range r.catalogs {
		errs = multierr.Append(errs, errors.Wrapf(c.Connector.Close(), "close catalog %q", name))
	}
	r.catalogs = make(map[string]*Catalog)
	metrics.SetLocalCatalogs(0)
	return errs
}

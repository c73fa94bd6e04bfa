package catalog

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/connector"
	"github.com/dreamware/catalogd/internal/membership"
)

// ErrNotCoordinator is returned by the cluster-wide operations on a node
// that is not a coordinator.
var ErrNotCoordinator = errors.New("node is not a coordinator")

// Registry is the node-local catalog table the controller applies
// operations to.
type Registry interface {
	Get(name string) (connector.Catalog, bool)
	Create(name, connectorName string, properties map[string]string) (string, error)
	Drop(name string) error
	List() []string
}

// IdentifierSet is the announced set of catalog identifiers.
type IdentifierSet interface {
	AddIdentifier(id string) error
	RemoveIdentifier(id string) error
}

// Controller implements the catalog lifecycle: cluster-wide operations
// on coordinators and idempotent local application on every node.
type Controller struct {
	log         *zap.Logger
	view        membership.View
	registry    Registry
	ids         IdentifierSet
	broadcaster *Broadcaster
	history     *ReconciliationLog

	// localMu makes a registry change and the matching identifier update
	// one step, so the announced identifiers follow the registry.
	localMu sync.Mutex
}

// NewController wires a controller. history may be nil, in which case a
// log with DefaultHistory capacity is used.
func NewController(log *zap.Logger, view membership.View, registry Registry, ids IdentifierSet, broadcaster *Broadcaster, history *ReconciliationLog) *Controller {
	if history == nil {
		history = NewReconciliationLog(DefaultHistory)
	}
	return &Controller{
		log:         log.Named("catalog"),
		view:        view,
		registry:    registry,
		ids:         ids,
		broadcaster: broadcaster,
		history:     history,
	}
}

// AddCatalogClusterWide asks every node to create info: all
// non-coordinators first, then all coordinators including this one. Peer
// failures are recorded in the reconciliation log and do not fail the
// call.
func (c *Controller) AddCatalogClusterWide(ctx context.Context, info cluster.CatalogInfo) error {
	if err := c.requireCoordinator(); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}
	workers, coordinators := c.targets()
	c.record(c.broadcaster.CreateOnAll(ctx, workers, info))
	c.record(c.broadcaster.CreateOnAll(ctx, coordinators, info))
	return nil
}

// RemoveCatalogClusterWide is the removal counterpart of
// AddCatalogClusterWide.
func (c *Controller) RemoveCatalogClusterWide(ctx context.Context, name string) error {
	if err := c.requireCoordinator(); err != nil {
		return err
	}
	workers, coordinators := c.targets()
	c.record(c.broadcaster.DeleteOnAll(ctx, workers, name))
	c.record(c.broadcaster.DeleteOnAll(ctx, coordinators, name))
	return nil
}

// AddCatalogLocal creates info in the local registry and announces its
// identifier. An existing catalog of the same name is left untouched.
func (c *Controller) AddCatalogLocal(_ context.Context, info cluster.CatalogInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	c.localMu.Lock()
	defer c.localMu.Unlock()
	if _, ok := c.registry.Get(info.CatalogName); ok {
		c.log.Debug("catalog already present", zap.String("catalog", info.CatalogName))
		return nil
	}
	id, err := c.registry.Create(info.CatalogName, info.ConnectorName, info.Properties)
	if err != nil {
		if errors.Is(err, connector.ErrCatalogExists) {
			return nil
		}
		return errors.Wrapf(err, "add catalog %q", info.CatalogName)
	}
	return c.ids.AddIdentifier(id)
}

// RemoveCatalogLocal drops name from the local registry and withdraws its
// identifier from the announcement.
func (c *Controller) RemoveCatalogLocal(_ context.Context, name string) error {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	if err := c.registry.Drop(name); err != nil {
		return errors.Wrapf(err, "remove catalog %q", name)
	}
	return c.ids.RemoveIdentifier(name)
}

// ListCatalogs returns the sorted names of local catalogs.
func (c *Controller) ListCatalogs() []string {
	names := c.registry.List()
	if names == nil {
		names = []string{}
	}
	return names
}

// ListNodes returns all known nodes: active, then inactive, then shutting
// down, each entry carrying the state of its partition.
func (c *Controller) ListNodes() []cluster.NodeInfo {
	nodes := c.view.Snapshot().All()
	if nodes == nil {
		nodes = []cluster.NodeInfo{}
	}
	return nodes
}

// Broadcasts returns recent broadcast results, oldest first.
func (c *Controller) Broadcasts() []BroadcastResult {
	return c.history.Entries()
}

// CurrentNode describes the local node.
func (c *Controller) CurrentNode() cluster.NodeInfo {
	return c.view.CurrentNode()
}

func (c *Controller) requireCoordinator() error {
	if !c.view.CurrentNode().Coordinator {
		return errors.Wrapf(ErrNotCoordinator, "node %q", c.view.CurrentNode().Identifier)
	}
	return nil
}

// targets splits one membership snapshot into non-coordinators and
// coordinators, both in snapshot order.
func (c *Controller) targets() (workers, coordinators []cluster.NodeInfo) {
	snap := c.view.Snapshot()
	return snap.Nodes(false), snap.Nodes(true)
}

func (c *Controller) record(r BroadcastResult) {
	c.history.Append(r)
	if failed := r.Failed(); failed > 0 {
		c.log.Info("broadcast incomplete",
			zap.String("operation", r.Operation),
			zap.String("catalog", r.Catalog),
			zap.Int("peers", len(r.Outcomes)),
			zap.Int("failed", failed))
	}
}

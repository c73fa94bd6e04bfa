package catalog

import (
	"context"

	"github.com/dreamware/catalogd/internal/cluster"
)

// HTTPPeerClient calls the local-apply endpoints of other nodes.
type HTTPPeerClient struct {
	client *cluster.Client
}

var _ PeerClient = (*HTTPPeerClient)(nil)

// NewHTTPPeerClient returns a PeerClient backed by client.
func NewHTTPPeerClient(client *cluster.Client) *HTTPPeerClient {
	return &HTTPPeerClient{client: client}
}

// CreateCatalog sends PUT {uri}/v1/catalog/node with info as the body.
func (c *HTTPPeerClient) CreateCatalog(ctx context.Context, node cluster.NodeInfo, info cluster.CatalogInfo) error {
	u, err := cluster.JoinURL(node.URI, "v1", "catalog", "node")
	if err != nil {
		return err
	}
	return c.client.PutJSON(ctx, u, info, nil)
}

// DeleteCatalog sends DELETE {uri}/v1/catalog/node/{name}.
func (c *HTTPPeerClient) DeleteCatalog(ctx context.Context, node cluster.NodeInfo, name string) error {
	u, err := cluster.JoinURL(node.URI, "v1", "catalog", "node", name)
	if err != nil {
		return err
	}
	return c.client.Delete(ctx, u)
}

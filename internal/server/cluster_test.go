package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/catalogd/internal/announce"
	"github.com/dreamware/catalogd/internal/catalog"
	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/connector"
	"github.com/dreamware/catalogd/internal/membership"
	"github.com/dreamware/catalogd/internal/storage"
)

// testNode is one catalogd node served by an httptest server. The handler
// can be replaced to simulate a process restart at the same URI.
type testNode struct {
	srv       *httptest.Server
	handler   atomic.Pointer[http.Handler]
	info      cluster.NodeInfo
	announcer *announce.Announcer
	members   *membership.Registry
	view      *membership.RemoteView
	directory *announce.Directory
}

// startNode starts a node. With coordinatorURI empty the node is the
// coordinator.
func startNode(t *testing.T, id, coordinatorURI string) *testNode {
	t.Helper()
	n := &testNode{srv: httptest.NewUnstartedServer(nil)}
	n.info = cluster.NodeInfo{
		Identifier:  id,
		URI:         "http://" + n.srv.Listener.Addr().String(),
		Version:     "test",
		Coordinator: coordinatorURI == "",
	}
	n.boot(t, coordinatorURI)
	n.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*n.handler.Load()).ServeHTTP(w, r)
	})
	n.srv.Start()
	t.Cleanup(n.srv.Close)
	return n
}

// boot builds fresh node state and starts serving it. Catalogs and
// membership of a previous boot are lost.
func (n *testNode) boot(t *testing.T, coordinatorURI string) {
	t.Helper()
	log := zaptest.NewLogger(t).Named(n.info.Identifier)
	client := cluster.NewClient(2 * time.Second)

	var view membership.View
	var publisher announce.Publisher
	if n.info.Coordinator {
		n.members = membership.NewRegistry(log, n.info)
		n.directory = announce.NewDirectory()
		view, publisher = n.members, n.directory
	} else {
		n.view = membership.NewRemoteView(log, client, coordinatorURI, n.info, time.Hour)
		view, publisher = n.view, announce.NewHTTPPublisher(client, coordinatorURI)
	}

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	registry := connector.NewRegistry(log, store, false, connector.Builtin()...)
	t.Cleanup(func() { _ = registry.Close() })

	n.announcer = announce.NewAnnouncer(log, n.info.Identifier, publisher, time.Hour, time.Second)
	n.announcer.AddRecord(announce.Record{Type: announce.ServiceType})
	updater := announce.NewUpdater(log, n.announcer, announce.ServiceType)

	broadcaster := catalog.NewBroadcaster(log, catalog.NewHTTPPeerClient(client), time.Second, 1)
	controller := catalog.NewController(log, view, registry, updater, broadcaster, nil)

	var h http.Handler = New(Options{Log: log, Controller: controller, Connectors: registry, Identifiers: updater, Members: n.members, Directory: n.directory})
	n.handler.Store(&h)
}

func get(t *testing.T, url string, out any) {
	t.Helper()
	require.NoError(t, cluster.NewClient(time.Second).GetJSON(context.Background(), url, out))
}

func status(t *testing.T, method, url, body string) int {
	t.Helper()
	var r *http.Request
	var err error
	if body == "" {
		r, err = http.NewRequest(method, url, nil)
	} else {
		r, err = http.NewRequest(method, url, strings.NewReader(body))
	}
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

// TestClusterCatalogLifecycle runs a coordinator and two workers over
// real HTTP and creates and removes a hive catalog cluster-wide.
func TestClusterCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	coord := startNode(t, "coord", "")
	w1 := startNode(t, "w1", coord.info.URI)
	w2 := startNode(t, "w2", coord.info.URI)

	for _, w := range []*testNode{w1, w2} {
		require.NoError(t, membership.Register(ctx, zaptest.NewLogger(t), cluster.NewClient(time.Second), coord.info.URI, w.info, 3, 10*time.Millisecond))
	}
	require.NoError(t, w1.view.Refresh(ctx))

	var nodes []cluster.NodeInfo
	get(t, coord.info.URI+"/v1/catalog/nodes", &nodes)
	require.Len(t, nodes, 3)
	assert.Len(t, w1.view.Snapshot().Active, 3)

	hive := `{"catalogName":"hive1","connectorName":"hive","properties":{"hive.metastore.uri":"thrift://metastore:9083"}}`

	// Workers refuse cluster-wide requests.
	assert.Equal(t, http.StatusNotFound, status(t, http.MethodPut, w1.info.URI+"/v1/catalog", hive))

	require.Equal(t, http.StatusOK, status(t, http.MethodPut, coord.info.URI+"/v1/catalog", hive))
	for _, n := range []*testNode{coord, w1, w2} {
		var names []string
		get(t, n.info.URI+"/v1/catalog/list", &names)
		assert.Equal(t, []string{"hive1"}, names, n.info.Identifier)
		require.NoError(t, n.announcer.Announce(ctx))
	}

	var entries []announce.Entry
	get(t, coord.info.URI+"/v1/announcement", &entries)
	assert.Len(t, entries, 3)
	var placement map[string][]string
	get(t, coord.info.URI+"/v1/announcement/connectors", &placement)
	assert.Equal(t, map[string][]string{
		"coord": {"hive1"},
		"w1":    {"hive1"},
		"w2":    {"hive1"},
	}, placement)

	var info Info
	get(t, w1.info.URI+"/v1/info", &info)
	assert.Equal(t, []string{"hive1"}, info.Announced)
	assert.Contains(t, info.Connectors, "hive")

	// w2 disappears without telling anyone; removal still succeeds.
	w2.srv.Close()
	require.Equal(t, http.StatusOK, status(t, http.MethodDelete, coord.info.URI+"/v1/catalog/hive1", ""))
	for _, n := range []*testNode{coord, w1} {
		var names []string
		get(t, n.info.URI+"/v1/catalog/list", &names)
		assert.Empty(t, names, n.info.Identifier)
	}

	var results []catalog.BroadcastResult
	get(t, coord.info.URI+"/v1/catalog/broadcasts", &results)
	require.Len(t, results, 4)
	removeWorkers := results[2]
	assert.Equal(t, catalog.OpDelete, removeWorkers.Operation)
	require.Len(t, removeWorkers.Outcomes, 2)
	assert.Equal(t, "w1", removeWorkers.Outcomes[0].Node)
	assert.Equal(t, catalog.StatusOK, removeWorkers.Outcomes[0].Status)
	assert.Equal(t, "w2", removeWorkers.Outcomes[1].Node)
	assert.Equal(t, catalog.StatusError, removeWorkers.Outcomes[1].Status)
	assert.Equal(t, 0, results[3].Failed())
}

// TestClusterShuttingDownNode checks that a node reporting SHUTTING_DOWN
// is still visited, last among the workers.
func TestClusterShuttingDownNode(t *testing.T) {
	ctx := context.Background()
	coord := startNode(t, "coord", "")
	w1 := startNode(t, "w1", coord.info.URI)
	w2 := startNode(t, "w2", coord.info.URI)
	client := cluster.NewClient(time.Second)
	for _, w := range []*testNode{w1, w2} {
		require.NoError(t, membership.Register(ctx, zaptest.NewLogger(t), client, coord.info.URI, w.info, 1, time.Millisecond))
	}
	require.NoError(t, membership.ReportState(ctx, client, coord.info.URI, "w1", cluster.NodeStateShuttingDown))

	require.Equal(t, http.StatusOK, status(t, http.MethodPut, coord.info.URI+"/v1/catalog", memoryCatalog))

	var results []catalog.BroadcastResult
	get(t, coord.info.URI+"/v1/catalog/broadcasts", &results)
	require.Len(t, results, 2)
	require.Len(t, results[0].Outcomes, 2)
	assert.Equal(t, "w2", results[0].Outcomes[0].Node)
	assert.Equal(t, "w1", results[0].Outcomes[1].Node)
	assert.Equal(t, 0, results[0].Failed())
}

// TestClusterCoordinatorRestart checks that workers rejoin a coordinator
// that lost its membership table and receive later broadcasts.
func TestClusterCoordinatorRestart(t *testing.T) {
	ctx := context.Background()
	coord := startNode(t, "coord", "")
	w1 := startNode(t, "w1", coord.info.URI)
	require.NoError(t, membership.Register(ctx, zaptest.NewLogger(t), cluster.NewClient(time.Second), coord.info.URI, w1.info, 1, time.Millisecond))

	coord.boot(t, "")
	var nodes []cluster.NodeInfo
	get(t, coord.info.URI+"/v1/catalog/nodes", &nodes)
	require.Len(t, nodes, 1, "restarted coordinator only knows itself")

	require.NoError(t, w1.view.Refresh(ctx))
	get(t, coord.info.URI+"/v1/catalog/nodes", &nodes)
	require.Len(t, nodes, 2)

	require.Equal(t, http.StatusOK, status(t, http.MethodPut, coord.info.URI+"/v1/catalog", memoryCatalog))
	var names []string
	get(t, w1.info.URI+"/v1/catalog/list", &names)
	assert.Equal(t, []string{"mem"}, names)
}

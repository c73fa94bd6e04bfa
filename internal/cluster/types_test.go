package cluster

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCatalogInfoJSON verifies the wire field names of CatalogInfo.
func TestCatalogInfoJSON(t *testing.T) {
	raw := `{"catalogName":"hive1","connectorName":"hive","properties":{"hive.metastore.uri":"thrift://x:9083"}}`

	var info CatalogInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "hive1", info.CatalogName)
	assert.Equal(t, "hive", info.ConnectorName)
	assert.Equal(t, "thrift://x:9083", info.Properties["hive.metastore.uri"])
}

func TestCatalogInfoValidate(t *testing.T) {
	tests := []struct {
		name    string
		info    CatalogInfo
		wantErr bool
	}{
		{name: "valid", info: CatalogInfo{CatalogName: "hive1", ConnectorName: "hive"}},
		{name: "underscore and dash", info: CatalogInfo{CatalogName: "sales_db-2", ConnectorName: "memory"}},
		{name: "empty catalog", info: CatalogInfo{ConnectorName: "hive"}, wantErr: true},
		{name: "empty connector", info: CatalogInfo{CatalogName: "hive1"}, wantErr: true},
		{name: "upper case", info: CatalogInfo{CatalogName: "Hive", ConnectorName: "hive"}, wantErr: true},
		{name: "slash", info: CatalogInfo{CatalogName: "a/b", ConnectorName: "hive"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCatalog))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, tt.info.Properties, "nil properties should be normalised")
		})
	}
}

// TestSnapshotAllOrder checks that All enumerates active, inactive and
// shutting-down nodes in that order and tags each with its partition.
func TestSnapshotAllOrder(t *testing.T) {
	s := Snapshot{
		Active:       []NodeInfo{{Identifier: "a1"}, {Identifier: "a2"}},
		Inactive:     []NodeInfo{{Identifier: "i1"}},
		ShuttingDown: []NodeInfo{{Identifier: "s1"}},
	}

	all := s.All()
	require.Len(t, all, 4)
	assert.Equal(t, 4, s.Len())

	ids := make([]string, 0, len(all))
	states := make([]NodeState, 0, len(all))
	for _, n := range all {
		ids = append(ids, n.Identifier)
		states = append(states, n.State)
	}
	assert.Equal(t, []string{"a1", "a2", "i1", "s1"}, ids)
	assert.Equal(t, []NodeState{NodeStateActive, NodeStateActive, NodeStateInactive, NodeStateShuttingDown}, states)
}

func TestSnapshotNodesByRole(t *testing.T) {
	s := Snapshot{
		Active:       []NodeInfo{{Identifier: "coord", Coordinator: true}, {Identifier: "w1"}},
		Inactive:     []NodeInfo{{Identifier: "w2"}},
		ShuttingDown: []NodeInfo{{Identifier: "coord2", Coordinator: true}, {Identifier: "w3"}},
	}

	var workers, coords []string
	for _, n := range s.Nodes(false) {
		workers = append(workers, n.Identifier)
	}
	for _, n := range s.Nodes(true) {
		coords = append(coords, n.Identifier)
	}
	assert.Equal(t, []string{"w1", "w2", "w3"}, workers)
	assert.Equal(t, []string{"coord", "coord2"}, coords)
}

func TestSnapshotOf(t *testing.T) {
	nodes := []NodeInfo{
		{Identifier: "s1", State: NodeStateShuttingDown},
		{Identifier: "a1", State: NodeStateActive},
		{Identifier: "x", State: "BOGUS"},
		{Identifier: "a2", State: NodeStateActive},
	}

	s := SnapshotOf(nodes)
	require.Len(t, s.Active, 2)
	assert.Equal(t, "a1", s.Active[0].Identifier)
	assert.Equal(t, "a2", s.Active[1].Identifier)
	require.Len(t, s.Inactive, 1)
	assert.Equal(t, "x", s.Inactive[0].Identifier)
	require.Len(t, s.ShuttingDown, 1)
}

func TestNodeStateValid(t *testing.T) {
	assert.True(t, NodeStateActive.Valid())
	assert.True(t, NodeStateInactive.Valid())
	assert.True(t, NodeStateShuttingDown.Valid())
	assert.False(t, NodeState("active").Valid())
	assert.False(t, NodeState("").Valid())
}

// TestNodeInfoJSON verifies the wire names used by the nodes listing.
func TestNodeInfoJSON(t *testing.T) {
	data, err := json.Marshal(NodeInfo{
		Identifier:  "node-1",
		URI:         "http://10.0.0.1:8080",
		Version:     "1.0",
		Coordinator: true,
		State:       NodeStateShuttingDown,
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "node-1", m["identifier"])
	assert.Equal(t, "http://10.0.0.1:8080", m["uri"])
	assert.Equal(t, "1.0", m["version"])
	assert.Equal(t, true, m["coordinator"])
	assert.Equal(t, "SHUTTING_DOWN", m["nodeState"])
}

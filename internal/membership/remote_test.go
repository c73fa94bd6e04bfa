package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/catalogd/internal/cluster"
)

func TestRemoteViewRefresh(t *testing.T) {
	nodes := []cluster.NodeInfo{
		{Identifier: "coord", URI: "http://coord", Coordinator: true, State: cluster.NodeStateActive},
		{Identifier: "w1", URI: "http://w1", State: cluster.NodeStateActive},
		{Identifier: "w2", URI: "http://w2", State: cluster.NodeStateInactive},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/catalog/nodes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(nodes)
	}))
	defer srv.Close()

	self := cluster.NodeInfo{Identifier: "w1", URI: "http://w1"}
	view := NewRemoteView(zap.NewNop(), cluster.NewClient(time.Second), srv.URL, self, time.Hour)

	assert.Equal(t, []string{"w1"}, ids(view.Snapshot().Active), "self only before first refresh")
	assert.True(t, view.refreshedAt().IsZero())

	require.NoError(t, view.Refresh(context.Background()))
	snap := view.Snapshot()
	assert.Equal(t, []string{"coord", "w1"}, ids(snap.Active))
	assert.Equal(t, []string{"w2"}, ids(snap.Inactive))
	assert.Equal(t, "w1", view.CurrentNode().Identifier)
	assert.False(t, view.refreshedAt().IsZero())
}

func TestRemoteViewRefreshKeepsLastGoodSnapshot(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]cluster.NodeInfo{
			{Identifier: "coord", URI: "http://coord", State: cluster.NodeStateActive},
			{Identifier: "w1", URI: "http://w1", State: cluster.NodeStateActive},
		})
	}))
	defer srv.Close()

	view := NewRemoteView(zap.NewNop(), cluster.NewClient(time.Second), srv.URL, cluster.NodeInfo{Identifier: "w1", URI: "http://w1"}, time.Hour)
	require.NoError(t, view.Refresh(context.Background()))

	fail.Store(true)
	assert.Error(t, view.Refresh(context.Background()))
	assert.Equal(t, []string{"coord", "w1"}, ids(view.Snapshot().Active))
}

// TestRemoteViewRegistersAgainWhenForgotten covers a coordinator that
// restarted with an empty membership table.
func TestRemoteViewRegistersAgainWhenForgotten(t *testing.T) {
	var registrations atomic.Int32
	var registerFails atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/node/register":
			if registerFails.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			registrations.Add(1)
			w.WriteHeader(http.StatusNoContent)
		case "/v1/catalog/nodes":
			_ = json.NewEncoder(w).Encode([]cluster.NodeInfo{{Identifier: "coord", URI: "http://coord", State: cluster.NodeStateActive, Coordinator: true}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	self := cluster.NodeInfo{Identifier: "w1", URI: "http://w1"}
	view := NewRemoteView(zap.NewNop(), cluster.NewClient(time.Second), srv.URL, self, time.Hour)

	require.NoError(t, view.Refresh(context.Background()))
	assert.Equal(t, int32(1), registrations.Load())
	assert.Equal(t, []string{"coord", "w1"}, ids(view.Snapshot().Active))

	registerFails.Store(true)
	assert.Error(t, view.Refresh(context.Background()))
	assert.Equal(t, int32(1), registrations.Load())
}

func TestRegister(t *testing.T) {
	var attempts atomic.Int32
	var got cluster.RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/node/register", r.URL.Path)
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	self := cluster.NodeInfo{Identifier: "w1", URI: "http://w1"}
	err := Register(context.Background(), zap.NewNop(), cluster.NewClient(time.Second), srv.URL, self, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "w1", got.Node.Identifier)
}

func TestRegisterGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Register(context.Background(), zap.NewNop(), cluster.NewClient(time.Second), srv.URL, cluster.NodeInfo{Identifier: "w1"}, 2, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestReportState(t *testing.T) {
	var got cluster.StateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/node/w1/state", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, ReportState(context.Background(), cluster.NewClient(time.Second), srv.URL, "w1", cluster.NodeStateShuttingDown))
	assert.Equal(t, cluster.NodeStateShuttingDown, got.State)
}

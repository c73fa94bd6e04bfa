package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/catalogd/internal/announce"
	"github.com/dreamware/catalogd/internal/catalog"
	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/connector"
	"github.com/dreamware/catalogd/internal/membership"
)

// maxBodyBytes bounds request bodies accepted by any endpoint.
const maxBodyBytes = 1 << 20

// Options configures a Server. Members, Directory and Health are set on
// coordinators only; without them the membership and announcement
// endpoints answer 404.
type Options struct {
	Log        *zap.Logger
	Controller *catalog.Controller
	// Connectors and Identifiers feed GET /v1/info. Either may be nil.
	Connectors  *connector.Registry
	Identifiers *announce.Updater
	Members     *membership.Registry
	Directory   *announce.Directory
	Health      *membership.HealthMonitor
}

// Info is the body of GET /v1/info.
type Info struct {
	StartedAt time.Time        `json:"startedAt"`
	Node      cluster.NodeInfo `json:"node"`
	Catalogs  []string         `json:"catalogs"`
	// Connectors lists the connector types catalogs can be created with.
	Connectors []string `json:"connectors,omitempty"`
	// Announced is the connectorIds list this node currently publishes.
	Announced []string `json:"announced,omitempty"`
}

// Server exposes the catalog lifecycle and cluster endpoints over HTTP.
type Server struct {
	startedAt   time.Time
	log         *zap.Logger
	controller  *catalog.Controller
	connectors  *connector.Registry
	identifiers *announce.Updater
	members     *membership.Registry
	directory   *announce.Directory
	health      *membership.HealthMonitor
	mux         *http.ServeMux
}

// New builds the route table.
func New(opts Options) *Server {
	s := &Server{
		startedAt:   time.Now(),
		log:         opts.Log.Named("http"),
		controller:  opts.Controller,
		connectors:  opts.Connectors,
		identifiers: opts.Identifiers,
		members:     opts.Members,
		directory:   opts.Directory,
		health:      opts.Health,
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("PUT /v1/catalog", s.handleAddCatalog)
	s.mux.HandleFunc("PUT /v1/catalog/node", s.handleAddCatalogLocal)
	s.mux.HandleFunc("DELETE /v1/catalog/{catalog}", s.handleRemoveCatalog)
	s.mux.HandleFunc("DELETE /v1/catalog/node/{catalog}", s.handleRemoveCatalogLocal)
	s.mux.HandleFunc("GET /v1/catalog/list", s.handleListCatalogs)
	s.mux.HandleFunc("GET /v1/catalog/nodes", s.handleListNodes)
	s.mux.HandleFunc("GET /v1/catalog/broadcasts", s.handleBroadcasts)

	s.mux.HandleFunc("POST /v1/node/register", s.handleRegister)
	s.mux.HandleFunc("PUT /v1/node/{id}/state", s.handleNodeState)
	s.mux.HandleFunc("GET /v1/node/{id}/health", s.handleNodeHealth)
	s.mux.HandleFunc("DELETE /v1/node/{id}", s.handleRemoveNode)
	s.mux.HandleFunc("PUT /v1/announcement/{nodeId}", s.handleAnnounce)
	s.mux.HandleFunc("GET /v1/announcement", s.handleListAnnouncements)
	s.mux.HandleFunc("GET /v1/announcement/connectors", s.handleAnnouncedConnectors)

	s.mux.HandleFunc("GET /v1/info", s.handleInfo)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleAddCatalog(w http.ResponseWriter, r *http.Request) {
	var info cluster.CatalogInfo
	if !s.decode(w, r, &info) {
		return
	}
	if err := s.controller.AddCatalogClusterWide(r.Context(), info); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAddCatalogLocal(w http.ResponseWriter, r *http.Request) {
	var info cluster.CatalogInfo
	if !s.decode(w, r, &info) {
		return
	}
	if err := s.controller.AddCatalogLocal(r.Context(), info); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveCatalog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")
	if err := cluster.ValidateCatalogName(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.controller.RemoveCatalogClusterWide(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveCatalogLocal(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")
	if err := cluster.ValidateCatalogName(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.controller.RemoveCatalogLocal(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListCatalogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.ListCatalogs())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.ListNodes())
}

func (s *Server) handleBroadcasts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.Broadcasts())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.members == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	var req cluster.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.members.Register(req.Node); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeState(w http.ResponseWriter, r *http.Request) {
	if s.members == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	var req cluster.StateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.State.Valid() {
		http.Error(w, "unknown node state", http.StatusBadRequest)
		return
	}
	if err := s.members.SetState(r.PathValue("id"), req.State); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	h := s.health.GetNodeHealth(r.PathValue("id"))
	if h == nil {
		s.writeError(w, r, membership.ErrUnknownNode)
		return
	}
	writeJSON(w, h)
}

// handleRemoveNode forgets a node and its announcement. A node that is
// still running registers again on its next membership refresh.
func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if s.members == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	id := r.PathValue("id")
	if id == s.members.CurrentNode().Identifier {
		http.Error(w, "coordinator cannot remove itself", http.StatusBadRequest)
		return
	}
	if _, ok := s.members.Get(id); !ok {
		s.writeError(w, r, membership.ErrUnknownNode)
		return
	}
	s.members.Remove(id)
	if s.directory != nil {
		s.directory.Remove(id)
	}
	s.log.Info("node removed", zap.String("node", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	var a announce.Announcement
	if !s.decode(w, r, &a) {
		return
	}
	nodeID := r.PathValue("nodeId")
	if a.NodeID == "" {
		a.NodeID = nodeID
	}
	if a.NodeID != nodeID {
		http.Error(w, "node id does not match path", http.StatusBadRequest)
		return
	}
	if err := s.directory.Put(a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	writeJSON(w, s.directory.List())
}

func (s *Server) handleAnnouncedConnectors(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		s.writeError(w, r, catalog.ErrNotCoordinator)
		return
	}
	writeJSON(w, s.directory.ConnectorIDs())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := Info{
		Node:      s.controller.CurrentNode(),
		Catalogs:  s.controller.ListCatalogs(),
		StartedAt: s.startedAt,
	}
	if s.connectors != nil {
		info.Connectors = s.connectors.Connectors()
	}
	if s.identifiers != nil {
		ids, err := s.identifiers.Identifiers()
		if err != nil {
			s.log.Warn("announced identifiers unavailable", zap.Error(err))
		}
		info.Announced = ids
	}
	writeJSON(w, info)
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps err to a status code. Only server-side failures are
// logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotCoordinator),
		errors.Is(err, connector.ErrCatalogNotFound),
		errors.Is(err, membership.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrInvalidCatalog),
		errors.Is(err, connector.ErrUnknownConnector),
		errors.Is(err, connector.ErrInvalidProperties):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

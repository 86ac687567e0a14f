package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/aggregator"
	"mcpgate/internal/audit"
	"mcpgate/internal/auth"
	"mcpgate/internal/events"
	"mcpgate/internal/session"
	"mcpgate/internal/upstream"
)

// ToolCatalog is the gateway's view of the aggregator.
type ToolCatalog interface {
	Tools() []mcp.Tool
	Resolve(name string) (aggregator.Mapping, bool)
	Count() int
}

// UpstreamDirectory is the gateway's view of the upstream registry. The
// gateway never holds connectors; everything routes through this handle.
type UpstreamDirectory interface {
	Exists(upstreamID string) bool
	SendRequest(ctx context.Context, upstreamID, method string, params json.RawMessage) (json.RawMessage, error)
	ForwardNotification(upstreamID, method string, params json.RawMessage) error
	Statuses() []upstream.Status
}

// Server is the gateway endpoint: it parses MCP requests, authenticates
// callers, routes through the catalog and registry, and manages the response
// and push streams.
type Server struct {
	registry UpstreamDirectory
	catalog  ToolCatalog
	sessions *session.Store
	auth     *auth.Authenticator
	audit    *audit.Recorder
	bus      *events.Bus
	version  string
	metrics  *metrics
}

// NewServer wires the gateway from its collaborators. The bus feeds the push
// fan-out; call RunPushFanout to start it.
func NewServer(registry UpstreamDirectory, catalog ToolCatalog, sessions *session.Store,
	authenticator *auth.Authenticator, recorder *audit.Recorder, bus *events.Bus, version string) *Server {
	s := &Server{
		registry: registry,
		catalog:  catalog,
		sessions: sessions,
		auth:     authenticator,
		audit:    recorder,
		bus:      bus,
		version:  version,
	}
	s.metrics = newMetrics(s)
	return s
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/{upstream}", s.handlePost)
	mux.HandleFunc("GET /mcp/{upstream}", s.handleGet)
	mux.HandleFunc("DELETE /mcp/{upstream}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Count(),
		"tools":    s.catalog.Count(),
		"version":  s.version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Statuses()
	upstreams := make([]map[string]interface{}, 0, len(statuses))
	for _, status := range statuses {
		upstreams = append(upstreams, map[string]interface{}{
			"id":        status.ID,
			"name":      status.Name,
			"status":    string(status.State),
			"toolCount": status.ToolCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activeSessions":  s.sessions.Count(),
		"aggregatedTools": s.catalog.Count(),
		"upstreams":       upstreams,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is used when the websocket path is not configured.
const defaultWSPath = "/ws"

// buildRouter mounts every endpoint under /api/v1 behind the middleware chain.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID, s.accessLog, s.recoverPanics, s.cors, s.limitBody)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get(wsPath, s.handleWebSocket)

		r.Route("/doortags", func(r chi.Router) {
			r.Get("/", s.handleListDoorTags)
			r.Get("/{id}", s.handleGetDoorTag)
			r.Post("/{id}/refresh", s.handleRefreshDoorTag)
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Sensors int    `json:"sensors"`
	Reason  string `json:"reason,omitempty"`
}

// handleHealth reports the bridge status. It answers 200 even when degraded;
// the status field carries the verdict.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, reason := s.doortags.HealthStatus(r.Context())
	respond(w, http.StatusOK, healthResponse{
		Status:  string(status),
		Version: s.version,
		Sensors: len(s.doortags.Sensors()),
		Reason:  reason,
	})
}

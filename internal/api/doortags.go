package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-netatmo/internal/bridges/doortag"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

// refreshTimeout bounds one refresh request, including a token refresh.
const refreshTimeout = 30 * time.Second

// handleListDoorTags returns every discovered door tag.
func (s *Server) handleListDoorTags(w http.ResponseWriter, _ *http.Request) {
	sensors := s.doortags.Sensors()
	respond(w, http.StatusOK, map[string]any{
		"doortags": sensors,
		"count":    len(sensors),
	})
}

// handleGetDoorTag returns one door tag by unique id.
func (s *Server) handleGetDoorTag(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.doortags.Sensor(chi.URLParam(r, "id"))
	if !ok {
		fail(w, http.StatusNotFound, "door tag not found")
		return
	}
	respond(w, http.StatusOK, snap)
}

// handleRefreshDoorTag refreshes one door tag and returns its state.
//
// The refresh goes through the shared status cache, so it only reaches the
// provider when the cached status has expired.
func (s *Server) handleRefreshDoorTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	snap, err := s.doortags.RefreshSensor(ctx, id)
	if err != nil {
		s.failRefresh(w, r, id, err)
		return
	}
	respond(w, http.StatusOK, snap)
}

// failRefresh maps a refresh failure onto an HTTP status.
func (s *Server) failRefresh(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, doortag.ErrSensorNotFound):
		fail(w, http.StatusNotFound, "door tag not found")
		return
	case errors.Is(err, netatmo.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		fail(w, http.StatusGatewayTimeout, "provider did not answer in time")
	case errors.Is(err, netatmo.ErrAuthFailure):
		fail(w, http.StatusBadGateway, "provider rejected the stored credential")
	case errors.Is(err, netatmo.ErrUpstreamData), errors.Is(err, netatmo.ErrNetwork):
		fail(w, http.StatusBadGateway, "provider request failed")
	default:
		fail(w, http.StatusInternalServerError, "refresh failed")
	}

	s.logger.Warn("door tag refresh failed", append(requestFields(r), "sensor", id, "error", err)...)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/markertrack/markertrack/internal/datastore"
	"github.com/markertrack/markertrack/internal/focus"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/marker"
	"github.com/markertrack/markertrack/internal/sightings"
)

// MarkerResponse is the state of one registered marker
type MarkerResponse struct {
	marker.Snapshot
	Sighting *sightings.Sighting   `json:"sighting,omitempty"`
	History  []datastore.Sighting `json:"history,omitempty"`
}

// FocusResponse is the camera tracker state
type FocusResponse struct {
	RepositionNeeded bool          `json:"reposition_needed"`
	Visible          []int         `json:"visible"`
	Closest          *focus.Target `json:"closest,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func newErrorResponse(c echo.Context, code int, message string, err error) error {
	resp := ErrorResponse{Message: message, Code: code}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(code, resp)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	body := map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		stats := s.pipeline.Stats()
		body["pipeline_running"] = stats.Running
		body["session_id"] = stats.SessionID
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) pipelineStatus(c echo.Context) error {
	if s.pipeline == nil {
		return newErrorResponse(c, http.StatusServiceUnavailable, "pipeline not configured", nil)
	}
	return c.JSON(http.StatusOK, s.pipeline.Stats())
}

func (s *Server) listMarkers(c echo.Context) error {
	if s.markers == nil {
		return c.JSON(http.StatusOK, []MarkerResponse{})
	}

	list := s.markers.Markers()
	out := make([]MarkerResponse, 0, len(list))
	for _, m := range list {
		out = append(out, s.markerResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getMarker(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return newErrorResponse(c, http.StatusBadRequest, "marker id must be an integer", err)
	}

	var found *marker.Marker
	if s.markers != nil {
		for _, m := range s.markers.Markers() {
			if m.ID() == id {
				found = m
				break
			}
		}
	}
	if found == nil {
		return newErrorResponse(c, http.StatusNotFound, "marker "+strconv.Itoa(id)+" is not registered", nil)
	}

	resp := s.markerResponse(found)
	if s.history != nil {
		history, err := s.history.History(c.Request().Context(), id, s.config.HistoryLimit)
		if err != nil {
			s.logger.Warn("failed to load marker history", logger.Int("marker_id", id), logger.Error(err))
			return newErrorResponse(c, http.StatusInternalServerError, "failed to load marker history", err)
		}
		resp.History = history
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) markerResponse(m *marker.Marker) MarkerResponse {
	resp := MarkerResponse{Snapshot: m.Snapshot()}
	if s.sightings != nil {
		if sighting, ok := s.sightings.Get(m.ID()); ok {
			resp.Sighting = &sighting
		}
	}
	return resp
}

func (s *Server) focusStatus(c echo.Context) error {
	if s.focus == nil {
		return newErrorResponse(c, http.StatusServiceUnavailable, "camera tracker not configured", nil)
	}

	resp := FocusResponse{
		RepositionNeeded: s.focus.RepositionNeeded(),
		Visible:          s.focus.Visible(),
	}
	if target, ok := s.focus.Closest(); ok {
		resp.Closest = &target
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) historySummaries(c echo.Context) error {
	if s.history == nil {
		return newErrorResponse(c, http.StatusServiceUnavailable, "sighting history not enabled", nil)
	}

	summaries, err := s.history.Summaries(c.Request().Context())
	if err != nil {
		s.logger.Warn("failed to load sighting summaries", logger.Error(err))
		return newErrorResponse(c, http.StatusInternalServerError, "failed to load sighting summaries", err)
	}
	return c.JSON(http.StatusOK, summaries)
}

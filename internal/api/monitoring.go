package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type monitoringRequest struct {
	EventTypes []string `json:"event_types"`
}

// handleStartMonitoring subscribes to controller events. An empty body or
// type list monitors all events.
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sub, err := s.monitor.StartMonitoring(r.Context(), chi.URLParam(r, "id"), req.EventTypes)
	if err != nil {
		s.writeOperationError(w, r, err, "failed to start monitoring")
		return
	}
	writeJSON(w, http.StatusOK, sub.Info())
}

// handleStopMonitoring stops every subscription of the controller.
func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	s.monitor.StopMonitoring(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMonitoring(w http.ResponseWriter, r *http.Request) {
	subs := s.monitor.Subscriptions(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

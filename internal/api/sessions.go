package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// handleOpenSession negotiates a session with a stored controller. An
// existing session for the controller is replaced.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.controllers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOperationError(w, r, err, "failed to open session")
		return
	}

	sess, err := s.sessions.Open(r.Context(), c.Endpoint())
	s.recordAudit(r, audit.Entry{
		Action:       audit.ActionSessionOpen,
		ControllerID: c.ID,
		Outcome:      outcome(err),
	})
	if err != nil {
		s.writeOperationError(w, r, err, "failed to open session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.monitor.StopMonitoring(id)
	s.sessions.Close(id)
	s.recordAudit(r, audit.Entry{Action: audit.ActionSessionClose, ControllerID: id})
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSession reports the session of a controller in any state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		writeNotFound(w, "controller has no session")
		return
	}
	if err != nil {
		s.writeOperationError(w, r, err, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

// handleHTTPSUpgrade enables HTTPS on a controller reached over HTTP.
func (s *Server) handleHTTPSUpgrade(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.UpgradeToHTTPS(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOperationError(w, r, err, "failed to upgrade to https")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// handleDeviceStatus reads CPU, memory and clock from the controller.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.sessions.DeviceStatus(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err, "failed to read device status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"controller_id": id,
		"status":        status,
	})
}

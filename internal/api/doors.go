package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/door"
)

type doorRequest struct {
	Command string `json:"command"`
}

// handleSetDoor sends lock, unlock, alwaysOpen or alwaysClose to a door.
func (s *Server) handleSetDoor(w http.ResponseWriter, r *http.Request) {
	var req doorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, err := door.ParseCommand(req.Command)
	if err != nil {
		s.writeOperationError(w, r, err, "invalid door command")
		return
	}

	id, doorID := chi.URLParam(r, "id"), chi.URLParam(r, "doorId")
	err = s.doors.SetDoorState(r.Context(), id, doorID, cmd)
	s.recordAudit(r, audit.Entry{
		Action:       audit.ActionDoorCommand,
		ControllerID: id,
		DoorID:       doorID,
		Outcome:      outcome(err),
		Details:      map[string]any{"command": string(cmd)},
	})
	if err != nil {
		s.writeOperationError(w, r, err, "failed to control door")
		return
	}

	operator := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		operator = claims.Subject
	}
	s.logger.Info("door command sent",
		"controller_id", id, "door_id", doorID, "command", cmd, "operator", operator)
	writeJSON(w, http.StatusOK, map[string]any{
		"controller_id": id,
		"door_id":       doorID,
		"command":       cmd,
		"success":       true,
	})
}

func (s *Server) handleGetDoor(w http.ResponseWriter, r *http.Request) {
	status, err := s.doors.GetDoorStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "doorId"))
	if err != nil {
		s.writeOperationError(w, r, err, "failed to read door status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

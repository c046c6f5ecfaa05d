package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/controller"
	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// controllerRequest is the body for creating and updating controllers.
// Nil fields keep their current value on update.
type controllerRequest struct {
	Name        *string `json:"name"`
	Host        *string `json:"host"`
	Port        *int    `json:"port"`
	HTTPSPort   *int    `json:"https_port"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	PreferHTTPS *bool   `json:"prefer_https"`
	AutoConnect *bool   `json:"auto_connect"`
}

func (req *controllerRequest) apply(c *controller.Controller) {
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Host != nil {
		c.Host = *req.Host
	}
	if req.Port != nil {
		c.Port = *req.Port
	}
	if req.HTTPSPort != nil {
		c.HTTPSPort = *req.HTTPSPort
	}
	if req.Username != nil {
		c.Username = *req.Username
	}
	if req.Password != nil {
		c.Password = *req.Password
	}
	if req.PreferHTTPS != nil {
		c.PreferHTTPS = *req.PreferHTTPS
	}
	if req.AutoConnect != nil {
		c.AutoConnect = *req.AutoConnect
	}
}

// handleListControllers returns every registered controller.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	list, err := s.controllers.List(r.Context())
	if err != nil {
		s.writeOperationError(w, r, err, "failed to list controllers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"controllers": list,
		"count":       len(list),
	})
}

func (s *Server) handleCreateController(w http.ResponseWriter, r *http.Request) {
	var req controllerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var c controller.Controller
	req.apply(&c)
	controller.Normalize(&c)
	if err := controller.Validate(&c); err != nil {
		s.writeOperationError(w, r, err, "failed to create controller")
		return
	}
	if err := s.controllers.Create(r.Context(), &c); err != nil {
		s.writeOperationError(w, r, err, "failed to create controller")
		return
	}
	s.recordAudit(r, audit.Entry{
		Action:       audit.ActionControllerCreate,
		ControllerID: c.ID,
		Details:      map[string]any{"host": c.Host, "port": c.Port},
	})

	s.logger.Info("controller registered", "controller_id", c.ID, "host", c.Host)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	c, err := s.controllers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOperationError(w, r, err, "failed to get controller")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateController changes a controller record. An open session keeps
// its negotiated address and credentials until it is reopened.
func (s *Server) handleUpdateController(w http.ResponseWriter, r *http.Request) {
	c, err := s.controllers.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOperationError(w, r, err, "failed to update controller")
		return
	}

	var req controllerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.apply(c)
	if err := controller.Validate(c); err != nil {
		s.writeOperationError(w, r, err, "failed to update controller")
		return
	}
	if err := s.controllers.Update(r.Context(), c); err != nil {
		s.writeOperationError(w, r, err, "failed to update controller")
		return
	}
	s.recordAudit(r, audit.Entry{
		Action:       audit.ActionControllerUpdate,
		ControllerID: c.ID,
		Details:      map[string]any{"password_changed": req.Password != nil},
	})
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteController stops monitoring, closes the session and removes
// the record.
func (s *Server) handleDeleteController(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.controllers.GetByID(r.Context(), id); err != nil {
		s.writeOperationError(w, r, err, "failed to delete controller")
		return
	}

	s.monitor.StopMonitoring(id)
	s.sessions.Close(id)
	if err := s.controllers.Delete(r.Context(), id); err != nil {
		s.writeOperationError(w, r, err, "failed to delete controller")
		return
	}

	s.recordAudit(r, audit.Entry{Action: audit.ActionControllerDelete, ControllerID: id})
	s.logger.Info("controller removed", "controller_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateController checks credentials against a controller without
// storing anything. Only the outcome is returned.
func (s *Server) handleValidateController(w http.ResponseWriter, r *http.Request) {
	var req controllerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var c controller.Controller
	req.apply(&c)
	controller.Normalize(&c)

	ok := false
	if err := isapi.ValidateHost(c.Host); err == nil {
		ok = s.sessions.ValidateCredentials(r.Context(), c.Endpoint())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

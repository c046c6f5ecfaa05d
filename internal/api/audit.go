package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/acs-gateway/internal/audit"
)

// recordAudit queues an audit entry attributed to the caller of r.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if claims := claimsFromContext(r.Context()); claims != nil && e.Actor == "" {
		e.Actor = claims.Subject
	}
	e.Source = audit.SourceAPI
	s.audit.Record(e)
}

// outcome maps an operation error to an audit outcome.
func outcome(err error) string {
	if err != nil {
		return audit.OutcomeFailed
	}
	return audit.OutcomeSucceeded
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters:
//   - action: e.g. door.command, controller.create
//   - controller_id
//   - limit: default 50, max 200
//   - offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "audit logging is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:       q.Get("action"),
		ControllerID: q.Get("controller_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.Repository().List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

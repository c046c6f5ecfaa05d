package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/acs-gateway/internal/controller"
	"github.com/nerrad567/acs-gateway/internal/door"
	"github.com/nerrad567/acs-gateway/internal/isapi"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeNoSession          = "no_session"
	ErrCodeDeviceUnauthorized = "device_unauthorised"
	ErrCodeUnreachable        = "controller_unreachable"
	ErrCodeDeviceError        = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeOperationError maps controller, session and device failures to an
// HTTP response. Device failures carry the operator-facing description.
// fallback is the 500 message for anything unrecognised.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		authErr *isapi.AuthError
		devErr  *isapi.DeviceError
	)
	switch {
	case errors.Is(err, isapi.ErrNoSession), errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusConflict, ErrCodeNoSession, noSessionMessage(err))
	case errors.As(err, &authErr) && authErr.Kind == isapi.AuthUnauthorized:
		writeError(w, http.StatusUnauthorized, ErrCodeDeviceUnauthorized, isapi.Describe(err))
	case errors.As(err, &devErr):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, isapi.Describe(err))
	case errors.Is(err, isapi.ErrUnreachable), errors.Is(err, isapi.ErrInvalidEndpoint):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, isapi.Describe(err))
	case errors.Is(err, controller.ErrControllerNotFound):
		writeNotFound(w, "controller not found")
	case errors.Is(err, controller.ErrControllerExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a controller with this host and port already exists")
	case errors.Is(err, controller.ErrInvalidController),
		errors.Is(err, door.ErrInvalidCommand),
		errors.Is(err, door.ErrMissingDoorID),
		errors.Is(err, session.ErrMissingControllerID):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error(fallback, "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
		writeInternalError(w, fallback)
	}
}

func noSessionMessage(err error) string {
	var noSess *isapi.NoSessionError
	if errors.As(err, &noSess) && noSess.State != "" {
		return "controller session is " + noSess.State
	}
	return "controller is not connected"
}

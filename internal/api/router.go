package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with a ticket, not a bearer header.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/sessions", s.handleListSessions)
			r.Get("/audit", s.handleListAuditLogs)

			r.Route("/controllers", func(r chi.Router) {
				r.Get("/", s.handleListControllers)
				r.With(s.requireOperator).Post("/", s.handleCreateController)
				r.With(s.requireOperator).Post("/validate", s.handleValidateController)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetController)
					r.Get("/status", s.handleDeviceStatus)
					r.Get("/session", s.handleGetSession)
					r.Get("/monitoring", s.handleListMonitoring)
					r.Get("/doors/{doorId}", s.handleGetDoor)

					r.Group(func(r chi.Router) {
						r.Use(s.requireOperator)
						r.Put("/", s.handleUpdateController)
						r.Delete("/", s.handleDeleteController)
						r.Post("/session", s.handleOpenSession)
						r.Delete("/session", s.handleCloseSession)
						r.Post("/session/https-upgrade", s.handleHTTPSUpgrade)
						r.Post("/monitoring", s.handleStartMonitoring)
						r.Delete("/monitoring", s.handleStopMonitoring)
						r.Put("/doors/{doorId}", s.handleSetDoor)
					})
				})
			})
		})
	})

	return r
}

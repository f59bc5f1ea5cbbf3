package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler returns the HTTP router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/connections", s.handleListConnections)

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensors)
			r.Get("/{name}/history", s.handleSensorHistory)
		})

		r.Route("/actuators", func(r chi.Router) {
			r.Get("/", s.handleListActuators)
			r.Post("/{name}/command", s.handleActuatorCommand)
		})

		r.Post("/refresh", s.handleRefresh)
		r.Post("/reload", s.handleReload)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

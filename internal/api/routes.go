package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Live view
		r.Get("/status", s.HandleStatus)
		r.Get("/aps", s.HandleListAccessPoints)
		r.Get("/aps/{bssid}", s.HandleGetAccessPoint)
		r.Get("/clients", s.HandleListClients)
		r.Get("/probes", s.HandleListProbes)
		r.Get("/handshakes", s.HandleListHandshakes)
		r.Get("/targets/best", s.HandleBestTarget)

		// Events
		r.Get("/events", s.HandleListEvents)

		// Commands
		r.Post("/mode", s.HandleSetMode)
		r.Post("/target", s.HandleSetTarget)
		r.Post("/capture/stop", s.HandleStopCapture)
		r.Post("/reset", s.HandleReset)

		// Commands that transmit
		r.Group(func(r chi.Router) {
			r.Use(s.transmitLimit)
			r.Post("/capture/start", s.HandleStartCapture)
			r.Post("/deauth", s.HandleDeauth)
		})
	})
}

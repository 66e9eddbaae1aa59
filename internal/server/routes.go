package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/opsrelay/opsrelay/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.dispatcher, s.store)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Dispatches
		r.Post("/dispatches", h.CreateDispatch)
		r.Get("/dispatches", h.ListDispatches)
		r.Get("/dispatches/{dispatchID}", h.GetDispatch)
		r.Get("/dispatches/{dispatchID}/events", h.ListDispatchEvents)
	})

	// Runtime counters
	r.Handle("/debug/vars", expvar.Handler())
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/assistd/assistd/internal/auth"
)

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.healthz)

	r.Route("/api/ai", func(r chi.Router) {
		r.Use(auth.RequireSession(s.verifier))
		r.Post("/chat", s.chat)
		r.Post("/diff", s.renderDiff)
		r.Get("/tools", s.listTools)
		r.Get("/events", s.monitorEvents)
	})

	// Everything else is a page: unauthenticated requests get redirected to
	// the login page instead of a bare status code.
	r.Group(func(r chi.Router) {
		r.Use(auth.PageGate(s.verifier))
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		})
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listTools exposes the tool declarations, schemas included, so clients can
// render and validate tool calls without hardcoding them.
func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.toolReg.Declarations()})
}

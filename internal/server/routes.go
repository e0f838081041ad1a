package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withRequestLogging)
	r.Use(middleware.Recoverer)

	// Health check.
	r.Get("/health", s.handleHealth)

	// Accounts and sessions.
	r.Post("/signup", s.handleSignup)
	r.Post("/session", s.handleSignIn)
	r.Delete("/session", s.handleSignOut)

	// Files and listings under an owner's namespace.
	r.Route("/{owner}", func(r chi.Router) {
		r.Put("/*", s.handlePutFile)
		r.Get("/*", s.handleGetFile)
		r.Head("/*", s.handleHeadFile)
		r.Delete("/*", s.handleDeleteFile)
	})

	return r
}

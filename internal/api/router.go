package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/neko-do/engine/internal/api/handlers"
	mw "github.com/neko-do/engine/internal/api/middleware"
	"github.com/neko-do/engine/internal/models"
)

type Dependencies struct {
	HMACSecret   []byte
	AuthHandler  *handlers.AuthHandler
	RoomsHandler *handlers.RoomsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	// Health endpoints
	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			protected.Route("/rooms", func(rr chi.Router) {
				// room agents push status here with their scoped credential
				rr.With(mw.RequireRole(models.RoleRoom)).Post("/callback", dep.RoomsHandler.Callback)

				rr.Get("/{id}", dep.RoomsHandler.Get)

				rr.Group(func(admin chi.Router) {
					admin.Use(mw.RequireRole(models.RoleAdmin))
					admin.Post("/", dep.RoomsHandler.Create)
					admin.Put("/{id}/renew", dep.RoomsHandler.Renew)
					admin.Delete("/{id}", dep.RoomsHandler.Delete)
				})
			})
		})
	})

	return r
}

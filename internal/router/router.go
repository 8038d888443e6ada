package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/rmendes/go-sso-identity/internal/api/auth"
	"github.com/rmendes/go-sso-identity/internal/api/identity"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler            auth.Handler
	IdentityHandler        identity.Handler
	AuthenticateMiddleware func(http.Handler) http.Handler
	RequireAdminMiddleware func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to be
// applied before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// Public auth routes, no JWT required
		r.Group(func(r chi.Router) {
			r.Post("/auth/{provider}/callback", cfg.AuthHandler.ProviderCallback)
			r.Post("/auth/refresh", cfg.AuthHandler.RefreshSession)
			r.Post("/auth/logout", cfg.AuthHandler.Logout)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Get("/auth/me", cfg.AuthHandler.Me)
			r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)

			// Directory administration
			r.Group(func(r chi.Router) {
				r.Use(cfg.RequireAdminMiddleware)

				r.Get("/users/{userID}", cfg.IdentityHandler.GetUser)
				r.Delete("/users/{userID}", cfg.IdentityHandler.DeleteUser)
				r.Get("/users/{userID}/groups", cfg.IdentityHandler.GetUserGroups)

				r.Post("/groups", cfg.IdentityHandler.CreateGroup)
				r.Get("/groups/{groupID}", cfg.IdentityHandler.GetGroup)
				r.Delete("/groups/{groupID}", cfg.IdentityHandler.DeleteGroup)
				r.Get("/groups/{groupID}/users", cfg.IdentityHandler.GetGroupUsers)
				r.Put("/groups/{groupID}/users/{userID}", cfg.IdentityHandler.AddUserToGroup)
				r.Delete("/groups/{groupID}/users/{userID}", cfg.IdentityHandler.RemoveUserFromGroup)
			})
		})
	})

	return r
}

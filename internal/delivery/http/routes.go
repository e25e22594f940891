package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/taskbrain/backend/internal/middleware"
)

func NewRouter(handler *Handler, sessionMiddleware *middleware.SessionMiddleware, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-DeviceID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every request gets a session view and runs through the gate; the
	// gate's skip-lists keep login, refresh and reset reachable.
	r.Use(sessionMiddleware.Handle)
	r.Use(authMiddleware.Authenticate)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			// Any verb refreshes; the method carries no meaning here.
			r.Handle("/refresh/", http.HandlerFunc(handler.RefreshSession))

			r.Post("/registration/", handler.Register)
			r.Post("/login/", handler.Login)
			r.Post("/logout/", handler.Logout)
			r.Get("/check-status/", handler.CheckStatus)
			r.Post("/reset-password/", handler.RequestPasswordReset)
			r.Post("/reset-password/confirm/", handler.ConfirmPasswordReset)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Get("/info/", handler.GetCurrentUser)
			})
		})

		// Business routes consume the core only through the resolved
		// principal.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", handler.ListTasks)
				r.Post("/", handler.CreateTask)
				r.Put("/{id}", handler.UpdateTask)
				r.Delete("/{id}", handler.DeleteTask)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", handler.ListCategories)
				r.Post("/", handler.CreateCategory)
				r.Put("/{id}", handler.UpdateCategory)
				r.Delete("/{id}", handler.DeleteCategory)
			})

			r.Get("/deadlines/", handler.CountByDeadlines)
		})
	})

	return r
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes groups what MapHttpRoutes mounts. Websocket and Metrics may be nil.
type Routes struct {
	Http       *HttpHandler
	Auth       *AuthHandler
	Middleware *AuthMiddleware
	Websocket  http.Handler
	Metrics    http.Handler
	Health     http.HandlerFunc
}

func MapHttpRoutes(r chi.Router, routes Routes) {
	if routes.Websocket != nil {
		r.Handle("/ws", routes.Websocket)
	}
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}
	health := routes.Health
	if health == nil {
		health = func(w http.ResponseWriter, r *http.Request) {
			success(w, http.StatusOK, nil)
		}
	}
	r.Get("/health", health)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", routes.Auth.Register)
		r.Post("/login", routes.Auth.Login)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(routes.Middleware.Authenticate)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", routes.Http.ListConversations)
			r.Post("/", routes.Http.CreateConversation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/messages", routes.Http.GetMessages)
				r.Post("/messages", routes.Http.PostMessage)
				r.Patch("/messages/{messageId}", routes.Http.EditMessage)
				r.Delete("/messages/{messageId}", routes.Http.DeleteMessage)
				r.Post("/read", routes.Http.MarkRead)
			})
		})
	})
}

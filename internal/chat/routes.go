package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middlewares the API routes need from the auth and rate-limit layers.
type Middlewares struct {
	Identify  func(http.Handler) http.Handler
	Require   func(http.Handler) http.Handler
	RateLimit func(http.Handler) http.Handler
}

// Mount registers the chat API and the live feed on r.
func (h *Handler) Mount(r chi.Router, mw Middlewares) {
	r.Group(func(r chi.Router) {
		if mw.Identify != nil {
			r.Use(mw.Identify)
		}

		// Public Routes
		r.Get("/api/chat", h.ListMessages)
		r.Get("/api/chat/{id}", h.GetMessage)
		r.Get("/api/chat/{id}/render", h.RenderMessage)
		r.Get("/api/link-preview", h.LinkPreview)

		// Protected Routes
		r.Group(func(r chi.Router) {
			if mw.Require != nil {
				r.Use(mw.Require)
			}
			r.Get("/ws", h.ServeWs)

			r.Group(func(r chi.Router) {
				if mw.RateLimit != nil {
					r.Use(mw.RateLimit)
				}
				r.Post("/api/chat", h.CreateMessage)
				r.Put("/api/chat/{id}", h.EditMessage)
				r.Patch("/api/chat", h.PinMessage)
				r.Delete("/api/chat/{id}", h.DeleteMessage)
				r.Post("/api/upload", h.Upload)
			})
		})
	})
}

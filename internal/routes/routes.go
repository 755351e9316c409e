package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/okellodev/authgate/internal/handlers"
	"github.com/okellodev/authgate/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, flowHandler *handlers.FlowHandler, rateLimit middleware.RateLimitConfig) {
	router.Route("/auth/flow", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimit))

		r.Post("/", flowHandler.Start)
		r.Route("/{flowID}", func(r chi.Router) {
			r.Get("/", flowHandler.Get)
			r.Post("/email", flowHandler.SubmitEmail)
			r.Post("/password", flowHandler.SubmitPassword)
			r.Post("/code", flowHandler.SubmitCode)
			r.Post("/resend", flowHandler.Resend)
			r.Post("/back", flowHandler.Back)
			r.Post("/skip", flowHandler.SkipCountdown)
		})
	})
}

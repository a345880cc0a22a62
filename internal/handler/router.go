package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/huhuanshizhe/vetsphere/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the VetSphere API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		// SSE must bypass response compression so events flush per write.
		r.Get("/notifications/stream", h.StreamNotifications)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/courses", h.GetCourses)
			r.Post("/checkout", h.Checkout)

			r.Get("/orders/{orderID}", h.GetOrder)
			r.Get("/orders/{orderID}/tracking", h.GetTracking)
			r.Get("/users/{userID}/enrollments", h.GetEnrollments)

			r.Post("/payments/stripe/intent", h.CreateStripeIntent)
			r.Post("/payments/airwallex/intent", h.CreateAirwallexIntent)
			r.Post("/payments/webhook", h.Webhook)

			r.Post("/chat", h.Chat)

			r.Post("/admin/login", h.AdminLogin)

			r.Group(func(r chi.Router) {
				r.Use(h.adminAuth.Middleware)

				r.Post("/orders/{orderID}/tracking", h.AddTracking)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

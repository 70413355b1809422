package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondSuccess(w, map[string]string{"status": "ok"})
	})

	r.Route("/mailings", func(r chi.Router) {
		r.Get("/", h.ListMailings)
		r.Post("/", h.CreateMailing)
		r.Post("/retry", h.CreateRetryMailing)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetMailing)
			r.Put("/", h.UpdateMailing)
			r.Delete("/", h.DeleteMailing)

			r.Get("/receivers", h.GetReceivers)
			r.Delete("/receivers/{email}", h.DeleteReceiver)
			r.Get("/failed-receivers", h.GetFailedReceivers)
			r.Post("/send-test-email", h.SendTestEmail)

			r.Post("/subscription-requests", h.RequestSubscription)
			r.Post("/subscribe", h.Subscribe)
			r.Post("/unsubscribe", h.Unsubscribe)
		})
	})

	return r
}

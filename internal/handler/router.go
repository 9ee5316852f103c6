package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/loyalty-platform/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.RegisterUser)
		r.Post("/login", h.Login)
	})

	r.Post("/api/business/register", h.RegisterBusiness)

	r.Route("/api/business/{slug}", func(r chi.Router) {
		r.Get("/", h.GetBusiness)
		r.Get("/tiers", h.GetTiers)
		r.Get("/offers", h.GetOffers)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/config", h.GetBusinessConfig)
			r.Put("/config", h.UpdateBusinessConfig)
			r.Post("/tiers", h.CreateTier)
			r.Post("/offers", h.CreateOffer)
			r.Get("/offers/{offerID}/metrics", h.GetOfferMetrics)

			r.Get("/wallet", h.GetWallet)
			r.Post("/wallet/credit", h.CreditPoints)
			r.Post("/wallet/debit", h.DebitPoints)
			r.Get("/wallet/transactions", h.GetTransactions)

			r.Post("/redeem", h.RedeemOffer)
			r.Get("/redemptions", h.GetRedemptions)

			r.Post("/ai/offer", h.GenerateOffer)
			r.Post("/ai/chat", h.Chatbot)
			r.Post("/ai/churn", h.PredictChurn)
			r.Post("/ai/segments", h.CreateSegments)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/api/redemptions/{id}/used", h.MarkRedemptionUsed)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/uticoin/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка UTI-коинов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Recover(h.logger))
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.CORS(h.allowedOrigins))
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(custommiddleware.RoleAdmin))

		r.Get("/accounts/{userID}", h.GetAccount)
		r.Get("/accounts/{userID}/transactions", h.ListTransactions)
		r.Post("/accounts/{userID}/bonus", h.GrantBonus)

		r.Get("/rules", h.ListRules)
		r.Put("/rules/{action}", h.UpsertRule)

		r.Get("/daily-bonus/config", h.GetDailyBonusConfig)
		r.Put("/daily-bonus/config", h.SaveDailyBonusConfig)
		r.Get("/daily-bonus/schedule", h.GetDailyBonusSchedule)

		r.Put("/catalog/{productID}", h.UpsertCatalogProduct)
		r.Put("/products/{productID}/rewards", h.UpsertProductRewards)

		r.Get("/codes/{code}", h.VerifyCode)
		r.Post("/codes/{code}/redeem", h.RedeemCode)
		r.Get("/users/{userID}/codes", h.ListCodes)

		r.Get("/orders/{code}", h.PreviewOrder)
		r.Post("/orders/{code}/complete", h.CompleteOrder)
	})

	r.Route("/api/storefront", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(custommiddleware.RoleStorefront))

		r.Get("/accounts/{userID}", h.GetAccount)
		r.Get("/accounts/{userID}/codes", h.ListCodes)
		r.Post("/accounts/{userID}/actions/{action}", h.AwardAction)
		r.Post("/accounts/{userID}/actions/{action}/authorize", h.AuthorizeAction)
		r.Post("/accounts/{userID}/daily-bonus", h.ClaimDailyBonus)
		r.Post("/accounts/{userID}/rewards/{productID}", h.IssueCode)

		r.Post("/orders", h.CreateOrder)
		r.Post("/orders/quote", h.QuoteOrder)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusNotFound, "not_found", http.StatusText(http.StatusNotFound), nil)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "method_not_allowed", http.StatusText(http.StatusMethodNotAllowed), nil)
	})

	return r
}

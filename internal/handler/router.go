package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/campus-rewards-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кампусных баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/balance", h.GetBalance)
			r.Get("/user/ledger", h.GetLedger)
			r.Post("/user/device-tokens", h.RegisterDeviceToken)

			r.Post("/achievements", h.SubmitAchievement)
			r.Patch("/achievements/{id}", h.EditSubmission)
			r.Post("/achievements/{id}/verify", h.VerifySubmission)
			r.Get("/achievements/{id}/post", h.GetSubmissionPost)

			r.Get("/rewards", h.ListRewards)
			r.Post("/rewards/{id}/redeem", h.RedeemReward)

			r.Get("/achievers/{id}", h.GetAchieverPost)
			r.Post("/achievers/{id}/reactions", h.SetReaction)

			r.Post("/admin/award", h.AwardPoints)
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

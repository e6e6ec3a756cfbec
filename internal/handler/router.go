package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mstrokin/salary-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса учёта зарплат.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/shifts", h.CreateShift)
			r.Get("/shifts", h.GetShifts)
			r.Delete("/shifts/{shiftID}", h.DeleteShift)

			r.Post("/payouts", h.CreatePayout)
			r.Get("/payouts", h.GetPayouts)
			r.Post("/payouts/{payoutID}/reverse", h.ReversePayout)

			r.Get("/balance", h.GetBalance)
			r.Get("/summary", h.GetSummary)
			r.Get("/report", h.GetReport)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.RequireAdmin)

		r.Put("/months/{month}/status", h.SetMonthStatus)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/shifts", h.CreateShiftFor)
			r.Get("/shifts", h.GetShiftsFor)
			r.Delete("/shifts/{shiftID}", h.DeleteShiftFor)

			r.Post("/payouts", h.CreatePayoutFor)
			r.Get("/payouts", h.GetPayoutsFor)
			r.Post("/payouts/{payoutID}/reverse", h.ReversePayoutFor)

			r.Get("/summary", h.GetSummaryFor)
			r.Get("/report", h.GetReportFor)

			r.Post("/months/{month}/recalculate", h.RecalculateMonth)
			r.Post("/months/{month}/sweep", h.SweepOverpayment)
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

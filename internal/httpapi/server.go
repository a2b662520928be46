// Package httpapi wires the five tool orchestrators onto an HTTP router,
// following the teacher's chi-based internal/http server shape.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(h *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/tools", func(r chi.Router) {
		r.Post("/scan_promptpay_qr", h.ScanQR)
		r.Post("/get_crypto_quote", h.GetQuote)
		r.Post("/confirm_payment", h.ConfirmPayment)
		r.Get("/check_payment_status/{orderId}", h.CheckStatus)
		r.Get("/get_exchange_rates", h.GetExchangeRates)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Post("/force", h.ForceSync)
	})

	return &Server{Router: r}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/sync"
	"github.com/boonlink/promptpay-bridge/internal/tools"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Tools *tools.Orchestrator
	Sync  *sync.Coordinator
}

func NewHandler(t *tools.Orchestrator, s *sync.Coordinator) *Handler {
	return &Handler{Tools: t, Sync: s}
}

type scanQRRequest struct {
	ImageURL string `json:"imageUrl"`
}

func (h *Handler) ScanQR(w http.ResponseWriter, r *http.Request) {
	var req scanQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result := h.Tools.ScanQR(r.Context(), req.ImageURL, nil)
	writeJSON(w, statusFor(result.Success), result)
}

type getQuoteRequest struct {
	AmountTHB float64              `json:"amountTHB"`
	Token     models.Token         `json:"token"`
	PromptPay models.PromptPayData `json:"promptPay"`
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	var req getQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result := h.Tools.GetQuote(r.Context(), tools.GetQuoteRequest{
		AmountTHB: req.AmountTHB,
		Token:     req.Token,
		PromptPay: req.PromptPay,
	})
	writeJSON(w, statusFor(result.Success), result)
}

type confirmPaymentRequest struct {
	QuoteID       string `json:"quoteId"`
	WalletAddress string `json:"walletAddress"`
	ChatID        string `json:"chatId"`
	// OfflineAuth carries a base64 eip712-encoded Payment authorization the
	// wallet signed without a network connection to this service.
	OfflineAuth string `json:"offlineAuth,omitempty"`
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	result := h.Tools.ConfirmPayment(r.Context(), tools.ConfirmPaymentRequest{
		QuoteID:       req.QuoteID,
		WalletAddress: req.WalletAddress,
		UserID:        userID,
		ChatID:        req.ChatID,
		OfflineAuth:   req.OfflineAuth,
	})
	writeJSON(w, statusFor(result.Success), result)
}

func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	result := h.Tools.CheckStatus(r.Context(), orderID)
	if !result.Success && strings.Contains(result.Error, "not found") {
		writeJSON(w, http.StatusNotFound, result)
		return
	}
	writeJSON(w, statusFor(result.Success), result)
}

func (h *Handler) GetExchangeRates(w http.ResponseWriter, r *http.Request) {
	result := h.Tools.GetExchangeRates(r.Context())
	writeJSON(w, statusFor(result.Success), result)
}

func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync coordinator not configured")
		return
	}
	var events []sync.Event
	err := h.Sync.ForceSync(r.Context(), func(e sync.Event) { events = append(events, e) })
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrAlreadySyncing):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sync.ErrOffline):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}

func statusFor(success bool) int {
	if success {
		return http.StatusOK
	}
	return http.StatusBadRequest
}


package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wifidoor/gateway-server-go/internal/credits"
	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/middleware"
)

// CreditHandler bridges the hardware collaborators onto the grant channel.
// The coin driver posts pulse-derived credit; the voucher collaborator posts
// redemptions. Both land on the same consumer and the same grant primitive.
type CreditHandler struct {
	sink *credits.Consumer
}

func NewCreditHandler(sink *credits.Consumer) *CreditHandler {
	return &CreditHandler{sink: sink}
}

func (h *CreditHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/credits", h.Credit)
	r.Post("/voucher/redeem", h.RedeemVoucher)

	return r
}

type creditRequest struct {
	Amount  float64 `json:"amount"`
	Minutes int     `json:"derivedMinutes"`
	IP      string  `json:"ip,omitempty"` // defaults to the requester
}

// POST /api/credits
func (h *CreditHandler) Credit(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.Amount <= 0 || req.Minutes <= 0 {
		writeError(w, apperrors.ValidationError("amount and derivedMinutes must be positive"))
		return
	}

	ip := req.IP
	if ip == "" {
		ip = clientIP(client)
	}

	if !h.sink.SubmitCredit(credits.CreditEvent{IP: ip, Amount: req.Amount, Minutes: req.Minutes}) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "credit queue full"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

type voucherRequest struct {
	Code string `json:"code"`
}

// POST /api/voucher/redeem
func (h *CreditHandler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())
	if client == nil || client.MAC == "" {
		writeError(w, apperrors.IdentityUnresolved(clientIP(client)))
		return
	}

	var req voucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.Code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}

	result, err := h.sink.RedeemVoucher(r.Context(), client.MAC, client.IP, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"hardwareId":       result.MACAddress,
		"token":            result.Token,
		"remainingSeconds": result.RemainingSeconds,
	})
}

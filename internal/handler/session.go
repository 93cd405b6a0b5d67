package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/middleware"
	"github.com/wifidoor/gateway-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/start", h.Start)
	r.Post("/restore", h.Restore)
	r.Get("/whoami", h.Whoami)

	return r
}

type startRequest struct {
	AmountPaid float64 `json:"amountPaid"`
	Minutes    int     `json:"minutes"`
}

// POST /api/session/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())
	if client == nil || client.MAC == "" {
		writeError(w, apperrors.IdentityUnresolved(clientIP(client)))
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.AmountPaid <= 0 {
		writeError(w, apperrors.InvalidInput("amountPaid", "must be positive"))
		return
	}
	if req.Minutes <= 0 {
		writeError(w, apperrors.InvalidInput("minutes", "must be positive"))
		return
	}

	result, err := h.sessionService.StartPaid(r.Context(), client.MAC, client.IP, req.AmountPaid, req.Minutes)
	if err != nil {
		log.Error().Err(err).Str("mac", client.MAC).Msg("failed to start session")
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

type restoreRequest struct {
	Token string `json:"token"`
}

// POST /api/session/restore
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())
	if client == nil || client.MAC == "" {
		writeError(w, apperrors.IdentityUnresolved(clientIP(client)))
		return
	}

	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.Token == "" {
		writeError(w, apperrors.MissingRequired("token"))
		return
	}

	result, err := h.sessionService.Restore(r.Context(), req.Token, client.MAC, client.IP)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"migrated":         result.Migrated,
		"remainingSeconds": result.RemainingSeconds,
	})
}

// GET /api/session/whoami
func (h *SessionHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())

	response := map[string]any{
		"address":    clientIP(client),
		"hardwareId": "unknown",
	}
	if client != nil && client.MAC != "" {
		response["hardwareId"] = client.MAC
	}
	if client != nil && client.Session != nil {
		response["remainingSeconds"] = client.Session.RemainingSeconds
		response["isPaused"] = client.Session.IsPaused
	}

	writeJSON(w, http.StatusOK, response)
}

func clientIP(client *middleware.Client) string {
	if client == nil {
		return ""
	}
	return client.IP
}

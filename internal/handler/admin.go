package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/service"
)

type AdminHandler struct {
	sessionService *service.SessionService
	authHandler    func(http.Handler) http.Handler
}

func NewAdminHandler(sessionService *service.SessionService, authHandler func(http.Handler) http.Handler) *AdminHandler {
	return &AdminHandler{sessionService: sessionService, authHandler: authHandler}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authHandler)

	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions/{mac}/time", h.AddTime)
	r.Post("/sessions/{mac}/pause", h.Pause)
	r.Post("/sessions/{mac}/resume", h.Resume)
	r.Delete("/sessions/{mac}", h.Disconnect)

	return r
}

// GET /admin/sessions
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionService.ListActive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type addTimeRequest struct {
	Minutes int `json:"minutes"`
}

// POST /admin/sessions/{mac}/time
func (h *AdminHandler) AddTime(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	var req addTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.Minutes <= 0 {
		writeError(w, apperrors.InvalidInput("minutes", "must be positive"))
		return
	}

	session, err := h.sessionService.AddTime(r.Context(), mac, req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// POST /admin/sessions/{mac}/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// POST /admin/sessions/{mac}/resume
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *AdminHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	mac := chi.URLParam(r, "mac")
	if err := h.sessionService.SetPaused(r.Context(), mac, paused); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "isPaused": paused})
}

// DELETE /admin/sessions/{mac}
func (h *AdminHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if err := h.sessionService.Disconnect(r.Context(), mac); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

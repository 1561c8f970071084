package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/httputil"
	"github.com/filmlobby/groupsync-go/internal/model"
	"github.com/filmlobby/groupsync-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Routes builds the session route table. Create and join carry their own
// rate limits; nil skips limiting.
func (h *SessionHandler) Routes(createLimit, joinLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	if createLimit == nil {
		createLimit = passthrough
	}
	if joinLimit == nil {
		joinLimit = passthrough
	}

	r.With(createLimit).Post("/", h.Create)
	r.Get("/{code}", h.Get)
	r.With(joinLimit).Post("/{code}/join", h.Join)
	r.Post("/{code}/end", h.End)
	r.Put("/{code}/filters", h.UpdateFilters)
	r.Get("/{code}/participants", h.Participants)

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// POST /v1/sessions
// Creates a session seeded with the caller's filters; the caller becomes host.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filters model.FilterSet `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.sessionService.Create(r.Context(), req.Filters)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session":       formatSession(result.Session),
		"participantId": result.ParticipantID,
	})
}

// GET /v1/sessions/{code}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	session, err := h.sessionService.Get(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": formatSession(session),
	})
}

// POST /v1/sessions/{code}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req struct {
		DisplayName string `json:"displayName"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	result, err := h.sessionService.Join(r.Context(), code, req.DisplayName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":       formatSession(result.Session),
		"participantId": result.ParticipantID,
	})
}

// POST /v1/sessions/{code}/end
// Idempotent: ending an already ended session succeeds.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.sessionService.End(r.Context(), code); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// PUT /v1/sessions/{code}/filters
// Replaces the session's filter document wholesale. Last writer wins.
func (h *SessionHandler) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req struct {
		Filters model.FilterSet `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if err := h.sessionService.UpdateFilters(r.Context(), code, req.Filters); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /v1/sessions/{code}/participants
func (h *SessionHandler) Participants(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	participants, err := h.sessionService.Participants(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participants": formatParticipants(participants),
	})
}

type ParticipantHandler struct {
	sessionService *service.SessionService
}

func NewParticipantHandler(sessionService *service.SessionService) *ParticipantHandler {
	return &ParticipantHandler{sessionService: sessionService}
}

func (h *ParticipantHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{id}/leave", h.Leave)
	r.Post("/{id}/heartbeat", h.Heartbeat)

	return r
}

// POST /v1/participants/{id}/leave
// Removing the last participant ends the session; removing the host
// promotes the earliest joined survivor.
func (h *ParticipantHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sessionService.Leave(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /v1/participants/{id}/heartbeat
// Always returns 204. The touch is fire-and-forget; a heartbeat for a
// departed participant is not an error the client can act on.
func (h *ParticipantHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.sessionService.Heartbeat(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/campuskit/sessiond/internal/session/domain"
	"github.com/campuskit/sessiond/internal/session/service"
	"github.com/campuskit/sessiond/pkg/httpx"
	"github.com/campuskit/sessiond/pkg/slogx"
)

// SessionsHandler serves the /v1/sessions surface. Callers are internal
// platform services that already verified the user's credentials; this
// handler only manages session lifecycle.
type SessionsHandler struct {
	SessionService *service.SessionService
}

type createSessionRequest struct {
	UserID    string `json:"user_id"`
	UserRole  string `json:"user_role"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type issuedResponse struct {
	SessionID       string    `json:"session_id"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type sessionResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	UserRole        string    `json:"user_role"`
	UserAgent       string    `json:"user_agent,omitempty"`
	ClientIP        string    `json:"client_ip,omitempty"`
	RotationCounter int64     `json:"rotation_counter"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type refreshSessionRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleCreate serves POST /v1/sessions. The caller vouches for the user's
// identity; client IP and user agent default to the request's own when the
// body omits them.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "request body must be valid JSON")
		return
	}
	if req.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "user_id is required")
		return
	}
	if req.ClientIP == "" {
		req.ClientIP = httpx.ClientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	issued, err := h.SessionService.CreateSession(ctx,
		req.UserID, req.UserRole, req.ClientIP, req.UserAgent)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, issuedResponse{
		SessionID:       issued.SessionID,
		RefreshToken:    issued.RefreshSecret,
		AccessExpiresAt: issued.AccessExpiresAt,
		ExpiresAt:       issued.ExpiresAt,
	})
}

// HandleGet serves GET /v1/sessions/{id}, the validation endpoint upstream
// services call on every authenticated request.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.SessionService.ValidateSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// HandleRefresh serves POST /v1/sessions/{id}/refresh. The presented refresh
// token is single-use: a success hands back a replacement, a mismatch burns
// the session.
func (h *SessionsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "refresh_token is required")
		return
	}

	issued, err := h.SessionService.RefreshSession(r.Context(),
		r.PathValue("id"), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, issuedResponse{
		SessionID:       issued.SessionID,
		RefreshToken:    issued.RefreshSecret,
		AccessExpiresAt: issued.AccessExpiresAt,
		ExpiresAt:       issued.ExpiresAt,
	})
}

// HandleRevoke serves DELETE /v1/sessions/{id} (logout). Idempotent: unknown
// and already-revoked sessions revoke successfully.
func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := h.SessionService.RevokeSession(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleRevokeAll serves DELETE /v1/users/{id}/sessions (logout everywhere).
func (h *SessionsHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.SessionService.RevokeAllUserSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"revoked_count": count})
}

func toSessionResponse(sess domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		UserRole:        sess.UserRole,
		UserAgent:       sess.UserAgent,
		ClientIP:        sess.ClientIP,
		RotationCounter: sess.RotationCounter,
		CreatedAt:       sess.CreatedAt,
		ExpiresAt:       sess.ExpiresAt,
	}
}

// writeServiceError maps the service error taxonomy onto the wire. Every
// session failure except backend unavailability collapses into one generic
// 401 so callers cannot probe which ids exist, which are revoked, or whether
// a refresh secret was close.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable,
			"temporarily_unavailable", "session backend is unavailable, retry later")
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrRevoked),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrConflict):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_session", "session is invalid")
	default:
		slogx.FromContext(r.Context()).Error("unclassified session error", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError,
			"server_error", "internal error")
	}
}

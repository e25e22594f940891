package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskbrain/backend/internal/auth"
	"github.com/taskbrain/backend/internal/cache"
	"github.com/taskbrain/backend/internal/middleware"
	"github.com/taskbrain/backend/internal/usecase"
)

// RefreshSession is the rotation endpoint. The HTTP method is irrelevant;
// every verb performs the same exchange of the session's refresh token for a
// fresh pair. On success the client is sent back to wherever the gate
// redirected it from.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Session not available")
		return
	}

	pair, err := h.authUsecase.Refresh(
		r.Context(),
		sess.RefreshToken(),
		sess.DeviceID(),
		clientIP(r),
		r.UserAgent(),
		r.Host,
	)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrExpiredToken):
		// The refresh token itself ran out; this session is over.
		sess.Flush()
		writeError(w, http.StatusUnauthorized, "Session expired, log in again")
		return
	case errors.Is(err, auth.ErrMalformedToken), errors.Is(err, usecase.ErrDeviceIDMissing):
		writeError(w, http.StatusUnauthorized, "Invalid session")
		return
	case errors.Is(err, usecase.ErrRevokedToken):
		writeError(w, http.StatusForbidden, "Refresh token revoked")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	sess.SetAccessToken(pair.AccessToken)
	sess.SetRefreshToken(pair.RefreshToken)

	next := r.URL.Query().Get("next")
	if next == "" || next[0] != '/' {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username, email and password are required")
		return
	}

	user, err := h.authUsecase.Register(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, usecase.ErrUsernameExists) || errors.Is(err, usecase.ErrEmailExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates and moves the freshly issued pair into the session, so
// the middleware writes the cookies on the way out. A device id is minted
// when the client brought none.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Session not available")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	deviceID := sess.DeviceID()
	if deviceID == "" {
		deviceID = uuid.New().String()
		sess.SetDeviceID(deviceID)
	}

	user, pair, err := h.authUsecase.Login(r.Context(), req.Username, req.Password, deviceID, clientIP(r), r.UserAgent())
	if errors.Is(err, usecase.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	sess.SetAccessToken(pair.AccessToken)
	sess.SetRefreshToken(pair.RefreshToken)
	sess.SetAuthStatus(true)

	writeJSON(w, http.StatusOK, user)
}

// Logout revokes the device's refresh-token row, then empties the session so
// the middleware deletes the cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Session not available")
		return
	}

	if userID, ok := middleware.GetUserID(r.Context()); ok {
		if err := h.authUsecase.Logout(r.Context(), userID, sess.DeviceID()); err != nil && !errors.Is(err, usecase.ErrDeviceIDMissing) {
			writeError(w, http.StatusInternalServerError, "Failed to logout")
			return
		}
	}
	sess.Flush()
	sess.SetAuthStatus(false)

	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.authUsecase.GetUserByID(userID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username": user.Username,
		"avatar":   user.Avatar,
	})
}

func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"status": middleware.IsAuthenticated(r.Context()),
	})
}

type resetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset parks a one-time code in the ephemeral cache under the
// session id. Delivery of the code is someone else's problem; the response
// does not reveal whether the email matched an account.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Session not available")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.authUsecase.StartPasswordReset(r.Context(), sess, req.Email); err != nil {
		if errors.Is(err, cache.ErrCacheUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Reset service unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start password reset")
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Session not available")
		return
	}

	var req resetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Token and new password are required")
		return
	}

	err := h.authUsecase.ConfirmPasswordReset(r.Context(), sess, req.Token, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, struct{}{})
	case errors.Is(err, cache.ErrCacheUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Reset service unavailable")
	case errors.Is(err, usecase.ErrInvalidResetToken):
		writeError(w, http.StatusForbidden, "Invalid or expired reset token")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to reset password")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/gradedesk/internal/model"
)

const sessionCookieName = "session"

var errUnauthorized = errors.New("unauthorized")

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// requireAuth loads the login session from the cookie and stores it in the
// request context. It passes every request through when login is disabled.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, r, errUnauthorized)
			return
		}

		sess, err := h.sessions.GetAuthSession(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeError(w, r, errUnauthorized)
			return
		}
		if sess == nil {
			writeError(w, r, errUnauthorized)
			return
		}

		ctx := model.ContextWithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeJSON(w, http.StatusOK, map[string]any{"auth": false})
		return
	}
	var body loginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, r, errBadRequest)
		return
	}

	sess, err := h.auth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		var ne *model.NetworkError
		if errors.As(err, &ne) && ne.StatusCode >= 400 && ne.StatusCode < 500 {
			slog.Info("login rejected", "email", body.Email, "status", ne.StatusCode)
			writeError(w, r, errUnauthorized)
			return
		}
		writeError(w, r, err)
		return
	}

	id, err := h.sessions.CreateAuthSession(r.Context(), sess)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
		Expires:  sess.ExpiresAt,
	})
	slog.Info("professor logged in", "professor_id", sess.Professor.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" && h.sessions != nil {
		if err := h.sessions.DeleteAuthSession(r.Context(), cookie.Value); err != nil {
			slog.Warn("failed to delete auth session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

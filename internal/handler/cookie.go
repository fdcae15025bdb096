package handler

import (
	"context"
	"net/http"

	"fragekonstruktoren/internal/session"
)

const sessionCookieName = "session"

type tokenCtxKey struct{}

// sessionMiddleware makes sure every request carries a session token,
// issuing a cookie on first contact. State lookup happens lazily in the
// handlers via state().
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
			token = cookie.Value
		}
		if token == "" {
			token = h.sessions.NewToken()
			cookiePath := "/"
			if h.config.BasePath != "" {
				cookiePath = h.config.BasePath + "/"
			}
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    token,
				Path:     cookiePath,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   h.config.SecureCookies,
			})
		}

		ctx := context.WithValue(r.Context(), tokenCtxKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// state returns the session state for the current request.
func (h *Handler) state(r *http.Request) *session.State {
	token, _ := r.Context().Value(tokenCtxKey{}).(string)
	return h.sessions.Get(token)
}

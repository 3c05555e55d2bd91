package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/opictutor/opictutor/internal/handler/views"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/session"
)

const (
	authCookieName    = "auth"
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// issueCSRF sets a fresh token cookie and returns the request context
// carrying the same token for forms rendered by this response.
func (h *Handler) issueCSRF(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			if req, ok := h.issueCSRF(w, r); ok {
				next.ServeHTTP(w, req)
			}
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		formToken := r.FormValue("csrf_token")
		if formToken == "" {
			slog.Warn("CSRF form token missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		if req, ok := h.issueCSRF(w, r); ok {
			next.ServeHTTP(w, req)
		}
	})
}

// authenticated reports whether r carries a live login cookie.
func (h *Handler) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(authCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	authSess, err := h.store.GetAuthSession(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to get auth session", "error", err)
		return false
	}
	return authSess != nil
}

// requireAuth checks the login cookie when a password is configured.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.PasswordHash == "" || h.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		h.redirect(w, r, "/login")
	})
}

// requireScrapeAuth guards machine endpoints. It accepts a login cookie or
// HTTP basic auth carrying the access password and answers 401 otherwise.
func (h *Handler) requireScrapeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.PasswordHash == "" || h.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		if _, pass, ok := r.BasicAuth(); ok &&
			bcrypt.CompareHashAndPassword([]byte(h.config.PasswordHash), []byte(pass)) == nil {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="opictutor"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// sessionMiddleware attaches the UI session id. A missing cookie, or one
// naming a session this process does not hold, gets a freshly minted id.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" && h.sessions.Has(cookie.Value) {
			id = cookie.Value
		} else {
			id, err = session.NewID()
			if err != nil {
				slog.Error("failed to generate session id", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    id,
				Path:     h.cookiePath(),
				HttpOnly: true,
				Secure:   h.config.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := model.ContextWithSessionID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if h.config.PasswordHash == "" {
		h.redirect(w, r, "/")
		return
	}
	h.render(w, r, http.StatusOK, views.LoginPage(h.layout(nil)))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.config.PasswordHash == "" {
		h.redirect(w, r, "/")
		return
	}
	password := r.FormValue("password")
	if err := bcrypt.CompareHashAndPassword([]byte(h.config.PasswordHash), []byte(password)); err != nil {
		slog.Warn("login failed", "remote", r.RemoteAddr)
		l := h.layout(notice("error", appI18n.T(r.Context(), "LoginError")))
		l.ShowLogout = false
		h.render(w, r, http.StatusUnauthorized, views.LoginPage(l))
		return
	}

	token, err := h.store.CreateAuthSession(r.Context(), h.config.SessionTTL)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	h.redirect(w, r, "/")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(authCookieName); err == nil && cookie.Value != "" {
		if err := h.store.DeleteAuthSession(r.Context(), cookie.Value); err != nil {
			slog.Warn("failed to delete auth session", "error", err)
		}
	}
	h.sessions.End(model.SessionIDFromContext(r.Context()))

	for _, name := range []string{authCookieName, sessionCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     h.cookiePath(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.SecureCookies,
		})
	}
	h.redirect(w, r, "/login")
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"jackpotgate/auth"
	"jackpotgate/i18n"
	"jackpotgate/users"
)

// SecurityHeadersMiddleware sets browser hardening headers and disables
// caching for everything except static assets.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", strings.Join([]string{
			"default-src 'self'",
			"script-src 'self'",
			"style-src 'self' 'unsafe-inline'",
			"img-src 'self' data:",
			"frame-ancestors 'self'",
		}, "; "))

		if !strings.HasPrefix(r.URL.Path, "/static/") {
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
			h.Set("Pragma", "no-cache")
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware answers preflight requests for the JSON API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" {
			// No Allow-Credentials: browsers will not attach the session
			// cookie to cross-origin API calls.
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type sessionKey struct{}

// sessionFrom returns the session attached by requireSession.
func sessionFrom(r *http.Request) *auth.Session {
	if sess, ok := r.Context().Value(sessionKey{}).(*auth.Session); ok {
		return sess
	}
	return &auth.Session{}
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// requireSession rejects requests without a live login. An expired login
// is cleared and the user sent back to the login page with a notice.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Load(r)
		err := s.gate.Validate(sess)
		if err == nil {
			next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
			return
		}

		if errors.Is(err, auth.ErrSessionExpired) {
			s.sessions.Clear(w, r)
			if !isAPI(r) {
				s.sessions.AddFlash(w, r, auth.MessageKey(err))
			}
		}
		if isAPI(r) {
			lang := i18n.DetectLanguage(r)
			sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(lang, auth.MessageKey(err))})
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

// requireAdmin is requireSession plus the admin role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r).Role != users.RoleAdmin {
			lang := i18n.DetectLanguage(r)
			if isAPI(r) {
				sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: i18n.T(lang, "Forbidden")})
				return
			}
			http.Error(w, i18n.T(lang, "Forbidden"), http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// withAdmin is middleware that requires the admin API key as a bearer token.
// Admin routes do not exist when no key is configured.
func (r *Router) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.AdminAPIKey == "" {
			http.NotFound(w, req)
			return
		}

		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <key>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(r.cfg.AdminAPIKey)) != 1 {
			http.Error(w, `{"error": "admin access required"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, req)
	}
}

// handleAdminListSessions returns every running session, oldest first.
func (r *Router) handleAdminListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := r.engine.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"active":   len(sessions),
		"draining": r.engine.IsDraining(),
	})
}

// handleAdminCloseSession force-closes one session.
func (r *Router) handleAdminCloseSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return
	}

	if !r.engine.CloseSession(id) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}

	r.logger.Printf("admin: closed session %s", id)
	writeJSON(w, http.StatusOK, map[string]any{"closed": id})
}

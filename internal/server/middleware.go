// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"net/http"
	"strings"
)

// withAdminAuth enforces the bearer-token check §6.1 requires on
// mutating endpoints when an admin token is configured. No token
// configured means the endpoint is open, matching the teacher's own
// pattern of treating an empty config value as "feature disabled"
// rather than as a distinct auth mode.
func (s *Server) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if s.Config != nil {
			token = s.Config.Current().Server.AdminToken
		}
		if token == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
			writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
			return
		}
		next(w, r)
	}
}

// corsMiddleware is a minimal permissive CORS layer for the
// browser-facing endpoints. No pack repo imports a CORS library, so
// this stays on net/http rather than reaching for one out of pack.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

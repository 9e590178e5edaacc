package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"copydesk/internal/logging"
)

// requireToken enforces the shared bearer token on the /api/v1 tree.
// An empty configured token disables the check for local use.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.API.AuthToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		want := "Bearer " + token
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid bearer token", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(sw, r)
		logging.APIDebug("%s %s -> %d (%dms)", r.Method, r.URL.Path, sw.status, time.Since(started).Milliseconds())
	})
}

// recovering turns handler panics into plain 500s so one bad request
// cannot take down the sync loop and the workers sharing the process.
func (s *Server) recovering(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Get(logging.CategoryAPI).Error("panic in %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "panic"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

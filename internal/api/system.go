package api

import (
	"context"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz probes every wired backing component. One probe failing
// flips the whole response to 503 so load balancers stop routing here,
// but the component map still names the culprit.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	ready := true

	probe := func(name string, run func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			components[name] = err.Error()
			ready = false
			return
		}
		components[name] = "ok"
	}

	if s.store != nil {
		probe("database", func(ctx context.Context) error {
			return s.store.Pool().Ping(ctx)
		})
	}
	if s.secrets != nil {
		probe("vault", func(ctx context.Context) error {
			_, err := s.secrets.List(ctx)
			return err
		})
	}
	if s.docs != nil {
		probe("docstore", func(ctx context.Context) error {
			_, err := s.docs.ListDocuments(ctx, s.cfg.DocumentStore.Folder)
			return err
		})
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "components": components})
}

// handleListCredentials returns vault key names. Values never leave the
// vault package; this endpoint exists so operators can spot a missing
// key without shell access to the backend.
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "credential vault not configured", Kind: "unavailable"})
		return
	}
	keys, err := s.secrets.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

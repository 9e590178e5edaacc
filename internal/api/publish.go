package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"copydesk/internal/types"
)

type publishRequest struct {
	Provider string `json:"provider"`
}

// handleTriggerPublish queues a publish run for an item. The body is
// optional; with no provider the configured default applies. Audit and
// lane checks live in the orchestrator.
func (s *Server) handleTriggerPublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req publishRequest
	if err := s.decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeBadRequest(w, r, err)
		return
	}
	provider := types.Provider(req.Provider)
	if req.Provider != "" && !types.ValidProvider(provider) {
		s.writeBadRequest(w, r, fmt.Errorf("unknown provider %q", req.Provider))
		return
	}

	task, err := s.ops.TriggerPublish(r.Context(), id, provider, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewTask(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	task, err := s.store.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTask(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	articleID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	tasks, err := s.store.Tasks.ListByArticle(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, viewTask(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

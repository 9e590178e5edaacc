package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.store.Rules.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]rulesetView, 0, len(sets))
	for _, rs := range sets {
		out = append(out, viewRuleset(rs, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rulesets": out})
}

type createDraftRequest struct {
	CopyFrom int64 `json:"copy_from" validate:"gte=0"`
}

// handleCreateDraft opens a new draft ruleset, optionally seeded from
// an existing one. No body, or zero copy_from, starts empty.
func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := s.decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeBadRequest(w, r, err)
		return
	}
	rs, err := s.store.Rules.CreateDraft(r.Context(), req.CopyFrom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewRuleset(rs, nil))
}

func (s *Server) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	rs, err := s.store.Rules.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rules, err := s.store.Rules.Rules(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRuleset(rs, rules))
}

type upsertRuleRequest struct {
	Code        string `json:"code" validate:"required"`
	Pattern     string `json:"pattern" validate:"required"`
	Description string `json:"description" validate:"required"`
	Severity    string `json:"severity" validate:"required,oneof=critical error warning info"`
	Enabled     *bool  `json:"enabled"`
}

// handleUpsertRule adds or edits one rule on a draft ruleset, keyed by
// code. Enabled defaults to true when omitted.
func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req upsertRuleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := s.store.Rules.UpsertRule(r.Context(), types.Rule{
		RulesetID:   id,
		Code:        req.Code,
		Pattern:     req.Pattern,
		Description: req.Description,
		Severity:    types.Severity(req.Severity),
		Enabled:     enabled,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRule(rule))
}

// handlePublishRuleset validates and activates a draft. Validation
// failures come back 422 with the offending rule codes in the message.
func (s *Server) handlePublishRuleset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	rs, err := s.reviews.PublishRuleset(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRuleset(rs, nil))
}

func (s *Server) handleArchiveRuleset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	if err := s.store.Rules.Archive(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditRulesetArchived,
		Actor:     actor(r),
		Target:    fmt.Sprintf("ruleset:%d", id),
		Success:   true,
		Message:   fmt.Sprintf("ruleset %d archived", id),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleQualityReport serves the rule quality report for the active
// generation. rebuild=true recomputes from the decision history; the
// default returns the last stored snapshot.
func (s *Server) handleQualityReport(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("rebuild") == "true" {
		report, buildErr := s.reviews.BuildQualityReport(r.Context())
		if buildErr == nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
		err = buildErr
	} else {
		report, loadErr := s.reviews.LatestQualityReport(r.Context())
		if loadErr == nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
		err = loadErr
	}
	s.writeError(w, r, err)
}

package api

import (
	"fmt"
	"net/http"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	articleID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	issues, err := s.store.Proofread.ActiveIssues(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	decisions, err := s.store.Proofread.ActiveDecisions(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]issueView, 0, len(issues))
	for _, i := range issues {
		out = append(out, viewIssue(i, decisions[i.ID]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": out})
}

type decisionRequest struct {
	Decision         string `json:"decision" validate:"required,oneof=accepted rejected modified"`
	ModifiedContent  string `json:"modified_content" validate:"required_if=Decision modified"`
	Notes            string `json:"notes"`
	ExpectedRevision int    `json:"expected_revision" validate:"gte=0"`
}

// handleSubmitDecision records one operator decision on an issue.
// ExpectedRevision carries the revision the operator saw (0 for a fresh
// issue); a mismatch means someone decided in between and maps to 409.
func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	issueID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req decisionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}

	d := types.Decision{
		IssueID:         issueID,
		Decision:        types.DecisionKind(req.Decision),
		ModifiedContent: req.ModifiedContent,
		Notes:           req.Notes,
		DecidedBy:       actor(r),
	}
	saved, err := s.store.Proofread.SubmitDecision(r.Context(), d, req.ExpectedRevision)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(string(saved.Decision)).Inc()
	}
	logging.Audit().DecisionSubmitted(saved.ArticleID, issueID, string(saved.Decision), saved.DecidedBy, saved.Revision > 1)
	writeJSON(w, http.StatusOK, viewDecision(saved))
}

func (s *Server) handleDecisionHistory(w http.ResponseWriter, r *http.Request) {
	issueID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	// An unknown issue is a 404, not an issue with no history.
	if _, err := s.store.Proofread.GetIssue(r.Context(), issueID); err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.store.Proofread.DecisionHistory(r.Context(), issueID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]decisionView, 0, len(history))
	for _, d := range history {
		out = append(out, viewDecision(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}

// handlePreview merges the current decisions into the article body
// without persisting anything. The response carries the merged text.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	articleID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	res, err := s.reviews.Preview(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMerge(res, true))
}

// handleFinalize closes the proofreading review of a worklist item. The
// response reports what was applied and what collided; the item itself
// moves lanes as a side effect, so clients re-read it afterwards.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	res, err := s.ops.FinalizeReview(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMerge(res, false))
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	articleID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	images, err := s.store.Images.ListByArticle(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]imageView, 0, len(images))
	for _, img := range images {
		out = append(out, viewImage(img))
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": out})
}

type imageReviewRequest struct {
	Action   string `json:"action" validate:"required,oneof=keep remove replace_caption replace_source"`
	NewValue string `json:"new_value"`
	Notes    string `json:"notes"`
}

func (s *Server) handleImageReview(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req imageReviewRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	action := types.ImageAction(req.Action)
	if (action == types.ImageReplaceCaption || action == types.ImageReplaceSource) && req.NewValue == "" {
		s.writeBadRequest(w, r, fmt.Errorf("action %q needs new_value", req.Action))
		return
	}

	review := types.ImageReview{Action: action, NewValue: req.NewValue, Notes: req.Notes}
	if err := s.store.Images.SetReview(r.Context(), imageID, review); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditImageReview,
		Actor:     actor(r),
		Target:    fmt.Sprintf("image:%d", imageID),
		Success:   true,
		Message:   fmt.Sprintf("image %d reviewed: %s", imageID, action),
	})
	w.WriteHeader(http.StatusNoContent)
}

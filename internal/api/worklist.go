package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"copydesk/internal/logging"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

const defaultListLimit = 50

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{Limit: defaultListLimit}

	if raw := q.Get("status"); raw != "" {
		status := types.ItemStatus(raw)
		if !knownStatus(status) {
			s.writeBadRequest(w, r, fmt.Errorf("unknown status %q", raw))
			return
		}
		f.Status = status
	}
	f.IncludeArchived = q.Get("include_archived") == "true"
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			s.writeBadRequest(w, r, fmt.Errorf("limit must be 1..500, got %q", raw))
			return
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeBadRequest(w, r, fmt.Errorf("offset must be >= 0, got %q", raw))
			return
		}
		f.Offset = n
	}

	items, err := s.store.Items.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]itemSummary, 0, len(items))
	for _, it := range items {
		out = append(out, summarizeItem(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func knownStatus(s types.ItemStatus) bool {
	for _, v := range types.ValidStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	item, err := s.store.Items.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailItem(item))
}

func (s *Server) handleGetItemArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	article, err := s.store.Articles.GetByItem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewArticle(article))
}

type advanceRequest struct {
	To string `json:"to" validate:"required"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req advanceRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	to := types.ItemStatus(req.To)
	if !knownStatus(to) {
		s.writeBadRequest(w, r, fmt.Errorf("unknown status %q", req.To))
		return
	}
	if err := s.ops.Advance(r.Context(), id, to, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	To   string `json:"to" validate:"required"`
	Note string `json:"note" validate:"required"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req resetRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	to := types.ItemStatus(req.To)
	if !knownStatus(to) {
		s.writeBadRequest(w, r, fmt.Errorf("unknown status %q", req.To))
		return
	}
	if err := s.ops.Reset(r.Context(), id, to, req.Note, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	found := s.ops.RequestCancel(id)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": found})
}

type noteRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req noteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	if err := s.ops.AddNote(r.Context(), id, req.Text, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReparse(w http.ResponseWriter, r *http.Request) {
	s.dispatchStage(w, r, s.ops.RequestReparse)
}

func (s *Server) handleReOptimize(w http.ResponseWriter, r *http.Request) {
	s.dispatchStage(w, r, s.ops.ReOptimize)
}

func (s *Server) handleReProofread(w http.ResponseWriter, r *http.Request) {
	s.dispatchStage(w, r, s.ops.ReProofread)
}

// dispatchStage shares the shape of the three re-run endpoints: no
// body, 202 on queue, the orchestrator owns the lane checks.
func (s *Server) dispatchStage(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, itemID int64, actor string) error) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	if err := run(r.Context(), id, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type costCapRequest struct {
	MaxCostUSD float64 `json:"max_cost_usd" validate:"required,gt=0"`
}

// handleCostCap raises (or lowers) the per-article model spend ceiling.
// The override lands in the article metadata, where the optimizer's
// budget check reads it, and on the item as a note for the next
// operator.
func (s *Server) handleCostCap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req costCapRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}

	item, err := s.store.Items.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !item.HasArticle() {
		s.writeError(w, r, fmt.Errorf("%w: item %d has no article yet", types.ErrInvalidTransition, id))
		return
	}

	who := actor(r)
	if err := s.store.Articles.SetCostCapOverride(r.Context(), *item.ArticleID, req.MaxCostUSD); err != nil {
		s.writeError(w, r, err)
		return
	}
	note := types.Note{Author: who, Text: fmt.Sprintf("ai cost cap set to $%.2f", req.MaxCostUSD)}
	if err := s.store.Items.AppendNote(r.Context(), id, note); err != nil {
		logging.APIDebug("cost cap note on item %d: %v", id, err)
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditCostOverride,
		ItemID:    id,
		ArticleID: *item.ArticleID,
		Actor:     who,
		Success:   true,
		Message:   fmt.Sprintf("cost cap for article %d set to $%.2f", *item.ArticleID, req.MaxCostUSD),
	})
	w.WriteHeader(http.StatusNoContent)
}

// articleEditRequest carries operator edits to the title tuple and the
// SEO fields. Absent fields keep their current value; suggestions are
// never written through this endpoint.
type articleEditRequest struct {
	TitlePrefix     *string   `json:"title_prefix"`
	TitleMain       *string   `json:"title_main"`
	TitleSuffix     *string   `json:"title_suffix"`
	AuthorName      *string   `json:"author_name"`
	MetaDescription *string   `json:"meta_description"`
	SEOKeywords     *[]string `json:"seo_keywords"`
	Tags            *[]string `json:"tags"`
	Categories      *[]string `json:"categories"`
}

func (r *articleEditRequest) touchesTitle() bool {
	return r.TitlePrefix != nil || r.TitleMain != nil || r.TitleSuffix != nil || r.AuthorName != nil
}

func (r *articleEditRequest) touchesSEO() bool {
	return r.MetaDescription != nil || r.SEOKeywords != nil || r.Tags != nil || r.Categories != nil
}

// handleEditArticle applies operator edits to the article behind an
// item. Edits are refused once the item is publishing: the draft a
// provider is typing into the CMS must not shift underneath it.
func (s *Server) handleEditArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	var req articleEditRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, r, err)
		return
	}
	if !req.touchesTitle() && !req.touchesSEO() {
		s.writeBadRequest(w, r, fmt.Errorf("no fields to update"))
		return
	}

	item, err := s.store.Items.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !item.HasArticle() {
		s.writeError(w, r, fmt.Errorf("%w: item %d has no article yet", types.ErrInvalidTransition, id))
		return
	}
	if item.Status == types.StatusPublishing || item.Status == types.StatusPublished {
		s.writeError(w, r, fmt.Errorf("%w: item %d is %s, article is frozen", types.ErrInvalidTransition, id, item.Status))
		return
	}

	article, err := s.store.Articles.Get(r.Context(), *item.ArticleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var edited []string
	if req.touchesTitle() {
		prefix, main, suffix, author := article.TitlePrefix, article.TitleMain, article.TitleSuffix, article.AuthorName
		if req.TitlePrefix != nil {
			prefix = *req.TitlePrefix
		}
		if req.TitleMain != nil {
			main = *req.TitleMain
		}
		if req.TitleSuffix != nil {
			suffix = *req.TitleSuffix
		}
		if req.AuthorName != nil {
			author = *req.AuthorName
		}
		if strings.TrimSpace(main) == "" {
			s.writeBadRequest(w, r, fmt.Errorf("title_main cannot be emptied"))
			return
		}
		if err := s.store.Articles.UpdateTitle(r.Context(), article.ID, prefix, main, suffix, author); err != nil {
			s.writeError(w, r, err)
			return
		}
		edited = append(edited, "title")
	}
	if req.touchesSEO() {
		meta, keywords, tags, categories := article.MetaDescription, article.SEOKeywords, article.Tags, article.Categories
		if req.MetaDescription != nil {
			meta = *req.MetaDescription
		}
		if req.SEOKeywords != nil {
			keywords = *req.SEOKeywords
		}
		if req.Tags != nil {
			tags = *req.Tags
		}
		if req.Categories != nil {
			categories = *req.Categories
		}
		if err := s.store.Articles.UpdateSEO(r.Context(), article.ID, meta, keywords, tags, categories); err != nil {
			s.writeError(w, r, err)
			return
		}
		edited = append(edited, "seo")
	}

	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditArticleEdited,
		ItemID:    id,
		ArticleID: article.ID,
		Actor:     actor(r),
		Success:   true,
		Message:   fmt.Sprintf("article %d edited: %s", article.ID, strings.Join(edited, ", ")),
	})

	fresh, err := s.store.Articles.Get(r.Context(), article.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewArticle(fresh))
}

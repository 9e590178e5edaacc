// Package types provides shared type definitions used across copydesk packages.
// This package exists to break import cycles between the orchestrator, the
// store, and the API layer. Types here are foundational data structures with
// no dependencies beyond the standard library.
package types

import "time"

// ItemStatus is the worklist lane an item currently occupies.
type ItemStatus string

const (
	StatusPending            ItemStatus = "pending"
	StatusParsing            ItemStatus = "parsing"
	StatusParsingReview      ItemStatus = "parsing_review"
	StatusProofreading       ItemStatus = "proofreading"
	StatusProofreadingReview ItemStatus = "proofreading_review"
	StatusReadyToPublish     ItemStatus = "ready_to_publish"
	StatusPublishing         ItemStatus = "publishing"
	StatusPublished          ItemStatus = "published"
	StatusFailed             ItemStatus = "failed"
)

// validTransitions is the adjacency set of the worklist state machine.
// Any edge not listed here is an error unless it is an operator reset
// out of failed, which must carry a note.
var validTransitions = map[ItemStatus][]ItemStatus{
	StatusPending:            {StatusParsing},
	StatusParsing:            {StatusParsingReview, StatusFailed},
	StatusParsingReview:      {StatusProofreading, StatusParsing},
	StatusProofreading:       {StatusProofreadingReview, StatusFailed},
	StatusProofreadingReview: {StatusReadyToPublish, StatusProofreading, StatusParsingReview},
	StatusReadyToPublish:     {StatusPublishing},
	StatusPublishing:         {StatusPublished, StatusFailed},
	StatusPublished:          {},
	StatusFailed:             {}, // resets are handled by CanReset
}

// resettableTargets are the lanes an operator may move a failed item
// back to. Published is terminal-success and publishing is reserved for
// the orchestrator itself.
var resettableTargets = map[ItemStatus]bool{
	StatusPending:            true,
	StatusParsing:            true,
	StatusParsingReview:      true,
	StatusProofreading:       true,
	StatusProofreadingReview: true,
	StatusReadyToPublish:     true,
}

// CanTransition reports whether from -> to is in the adjacency set.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanReset reports whether a failed item may be reset to the target
// lane. The caller must record an operator note alongside the reset.
func CanReset(from, to ItemStatus) bool {
	return from == StatusFailed && resettableTargets[to]
}

// IsTerminal reports whether the status ends the pipeline.
func IsTerminal(s ItemStatus) bool {
	return s == StatusPublished || s == StatusFailed
}

// IsReviewState reports whether the item is parked awaiting operator
// input. Review states hold no locks and are never overwritten by the
// document-store sync.
func IsReviewState(s ItemStatus) bool {
	switch s {
	case StatusParsingReview, StatusProofreadingReview, StatusReadyToPublish:
		return true
	}
	return false
}

// ValidStatuses returns every lane in pipeline order.
func ValidStatuses() []ItemStatus {
	return []ItemStatus{
		StatusPending,
		StatusParsing,
		StatusParsingReview,
		StatusProofreading,
		StatusProofreadingReview,
		StatusReadyToPublish,
		StatusPublishing,
		StatusPublished,
		StatusFailed,
	}
}

// Note is an append-only operator annotation on a worklist item.
type Note struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentMetadata carries document-store facts about the source
// document, stored as JSON on the item.
type DocumentMetadata struct {
	Link         string    `json:"link,omitempty"`
	Owners       []string  `json:"owners,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	ContentType  string    `json:"content_type,omitempty"` // text/html or text/markdown
	AutoProcess  bool      `json:"auto_process,omitempty"` // per-item review-gate skip, see config
}

// WorklistItem is the unit of work tracked by the orchestrator, one per
// document ingested from the document store. Items are never deleted;
// Archived is a soft flag.
type WorklistItem struct {
	ID               int64
	DocumentID       string
	Status           ItemStatus
	ArticleID        *int64
	RawHTML          string
	RawText          string
	Title            string
	Author           string
	DocumentMetadata DocumentMetadata
	SyncedAt         time.Time
	Notes            []Note
	ErrorMessage     string
	Archived         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasArticle reports whether parsing has produced an Article.
func (w *WorklistItem) HasArticle() bool {
	return w.ArticleID != nil && *w.ArticleID > 0
}

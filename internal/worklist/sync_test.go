package worklist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copydesk/internal/types"
)

func TestDecideSync(t *testing.T) {
	synced := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	newer := synced.Add(time.Hour)
	older := synced.Add(-time.Hour)

	known := func(status types.ItemStatus) *types.WorklistItem {
		return &types.WorklistItem{ID: 1, Status: status, SyncedAt: synced}
	}

	tests := []struct {
		name     string
		item     *types.WorklistItem
		modified time.Time
		want     syncAction
	}{
		{"unknown document fetches", nil, older, syncFetch},
		{"unchanged document skips", known(types.StatusPending), synced, syncSkip},
		{"older timestamp skips", known(types.StatusPublished), older, syncSkip},
		{"newer document fetches", known(types.StatusPending), newer, syncFetch},
		{"newer while failed fetches", known(types.StatusFailed), newer, syncFetch},
		{"newer while parsing review defers", known(types.StatusParsingReview), newer, syncDefer},
		{"newer while proofreading review defers", known(types.StatusProofreadingReview), newer, syncDefer},
		{"newer while ready to publish defers", known(types.StatusReadyToPublish), newer, syncDefer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideSync(tt.item, tt.modified))
		})
	}
}

func TestUpstreamChangeNoteDedupes(t *testing.T) {
	modified := time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC)
	note := upstreamChangeNote(modified)

	assert.Equal(t, "sync", note.Author)
	assert.Equal(t, "upstream changed at 2026-03-10T15:04:05Z", note.Text)

	notes := []types.Note{
		{Author: "pat", Text: "checked the intro"},
		note,
	}
	assert.True(t, hasNote(notes, note.Text), "a repeated pass must not re-append")

	later := upstreamChangeNote(modified.Add(time.Minute))
	assert.False(t, hasNote(notes, later.Text), "a fresh upstream edit is a new note")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/markdown", contentTypeFor("guides/howto.md"))
	assert.Equal(t, "text/markdown", contentTypeFor("guides/HOWTO.MARKDOWN"))
	assert.Equal(t, "text/html", contentTypeFor("guides/howto.html"))
	assert.Equal(t, "text/html", contentTypeFor("guides/howto"))
}

package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/store"
	"copydesk/internal/types"
)

type stubItems struct {
	counts map[types.ItemStatus]int
	rows   []*types.WorklistItem
	err    error
}

func (s *stubItems) CountsByStatus(ctx context.Context) (map[types.ItemStatus]int, error) {
	return s.counts, s.err
}

func (s *stubItems) List(ctx context.Context, f store.ListFilter) ([]*types.WorklistItem, error) {
	return s.rows, s.err
}

func apply(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok, "Update must return the board model")
	return out, cmd
}

func TestSnapshotRendersLanesAndItems(t *testing.T) {
	m := New(&stubItems{}, nil, time.Second)
	m, _ = apply(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m, _ = apply(t, m, snapshotMsg{
		counts: map[types.ItemStatus]int{
			types.StatusParsingReview: 2,
			types.StatusFailed:        1,
		},
		rows: []*types.WorklistItem{
			{ID: 7, Status: types.StatusParsingReview, Title: "Astronomie für Einsteiger", UpdatedAt: time.Now().Add(-3 * time.Minute)},
			{ID: 8, Status: types.StatusFailed, Title: "Broken piece", ErrorMessage: "parsing: invalid upstream data", UpdatedAt: time.Now()},
		},
	})

	view := m.View()
	assert.Contains(t, view, "parse review 2")
	assert.Contains(t, view, "failed 1")
	assert.Contains(t, view, "Astronomie für Einsteiger")
	assert.Contains(t, view, "invalid upstream data")
	assert.Contains(t, view, "3m")
}

func TestSnapshotErrorShowsBadgeAndKeepsLastData(t *testing.T) {
	m := New(&stubItems{}, nil, time.Second)
	m, _ = apply(t, m, snapshotMsg{
		counts: map[types.ItemStatus]int{types.StatusPending: 4},
		rows:   []*types.WorklistItem{{ID: 1, Status: types.StatusPending, Title: "Kept", UpdatedAt: time.Now()}},
	})
	m, _ = apply(t, m, snapshotMsg{err: errors.New("connection refused")})

	view := m.View()
	assert.Contains(t, view, "store error")
	assert.Contains(t, view, "Kept", "a failed refresh must not blank the board")
	assert.Contains(t, view, "pending 4")
}

func TestQuitKeys(t *testing.T) {
	m := New(&stubItems{}, nil, time.Second)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		_, cmd := apply(t, m, key)
		require.NotNil(t, cmd, "key %s should quit", key)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok, "key %s should produce QuitMsg", key)
	}
}

func TestReportToggleDisabledWithoutSource(t *testing.T) {
	m := New(&stubItems{}, nil, time.Second)
	m, cmd := apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Nil(t, cmd)
	assert.False(t, m.showReport)
	assert.NotContains(t, m.View(), "[r] report")
}

func TestFetchCmdSnapshotsSource(t *testing.T) {
	src := &stubItems{
		counts: map[types.ItemStatus]int{types.StatusPublished: 9},
		rows:   []*types.WorklistItem{{ID: 3}},
	}
	m := New(src, nil, time.Second)

	msg := m.fetchCmd()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	require.NoError(t, snap.err)
	assert.Equal(t, 9, snap.counts[types.StatusPublished])
	assert.Len(t, snap.rows, 1)

	src.err = errors.New("pool closed")
	msg = m.fetchCmd()()
	snap, ok = msg.(snapshotMsg)
	require.True(t, ok)
	assert.Error(t, snap.err)
}

func TestEmptyBoardExplainsItself(t *testing.T) {
	m := New(&stubItems{}, nil, time.Second)
	m, _ = apply(t, m, snapshotMsg{counts: map[types.ItemStatus]int{}})
	assert.Contains(t, m.View(), "no worklist items yet")
}

func TestAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-30 * time.Second), "30s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-80 * time.Hour), "3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, age(tt.at))
	}
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "Übergröße…", truncate("Übergrößenträger", 10))
}

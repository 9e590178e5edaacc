// Package tui renders the operator watch board: live lane counts and
// the most recent worklist items, polled straight from the store. The
// board is read-only; actions go through the API or the orchestrator.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"copydesk/internal/proofread"
	"copydesk/internal/store"
	"copydesk/internal/types"
)

// ItemSource is the slice of the store the board reads. *store.ItemRepo
// satisfies it.
type ItemSource interface {
	CountsByStatus(ctx context.Context) (map[types.ItemStatus]int, error)
	List(ctx context.Context, f store.ListFilter) ([]*types.WorklistItem, error)
}

// ReportSource supplies the rule-quality report for the report pane.
// May be nil; the toggle is then disabled.
type ReportSource interface {
	LatestQualityReport(ctx context.Context) (*proofread.QualityReport, error)
}

const (
	defaultRefresh = 5 * time.Second
	boardRows      = 30
	queryTimeout   = 5 * time.Second
)

type tickMsg time.Time

type snapshotMsg struct {
	counts map[types.ItemStatus]int
	rows   []*types.WorklistItem
	err    error
}

type reportMsg struct {
	content string
	err     error
}

// Model is the bubbletea model of the watch board.
type Model struct {
	items   ItemSource
	reports ReportSource
	refresh time.Duration

	width    int
	height   int
	viewport viewport.Model
	styles   Styles

	counts      map[types.ItemStatus]int
	rows        []*types.WorklistItem
	lastErr     error
	refreshedAt time.Time

	showReport bool
	reportBody string
}

// New builds the board. reports may be nil, which disables the report
// pane.
func New(items ItemSource, reports ReportSource, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	vp := viewport.New(80, 20)
	return Model{
		items:    items,
		reports:  reports,
		refresh:  refresh,
		viewport: vp,
		styles:   DefaultStyles(),
		width:    80,
		height:   24,
	}
}

// Init starts the first fetch and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd snapshots the lane counts and the newest items. It runs on
// its own context: the program context belongs to bubbletea.
func (m Model) fetchCmd() tea.Cmd {
	items := m.items
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		counts, err := items.CountsByStatus(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		rows, err := items.List(ctx, store.ListFilter{Limit: boardRows})
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{counts: counts, rows: rows}
	}
}

func (m Model) reportCmd() tea.Cmd {
	reports := m.reports
	width := m.width
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		report, err := reports.LatestQualityReport(ctx)
		if err != nil {
			return reportMsg{err: err}
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(width-2, 120)),
		)
		if err != nil {
			return reportMsg{err: err}
		}
		out, err := renderer.Render(report.Markdown())
		if err != nil {
			return reportMsg{err: err}
		}
		return reportMsg{content: out}
	}
}

// Update handles keys, ticks, and data arrivals.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.reports == nil {
				return m, nil
			}
			m.showReport = !m.showReport
			if m.showReport {
				m.viewport.SetContent(m.styles.Muted.Render("loading report..."))
				return m, m.reportCmd()
			}
			m.rebuild()
			return m, nil
		case "k", "up":
			m.viewport.LineUp(1)
		case "j", "down":
			m.viewport.LineDown(1)
		case "pgup":
			m.viewport.HalfViewUp()
		case "pgdown":
			m.viewport.HalfViewDown()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 5 // header, lanes, footer
		if m.viewport.Height < 3 {
			m.viewport.Height = 3
		}
		m.rebuild()

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case snapshotMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.counts = msg.counts
			m.rows = msg.rows
			m.refreshedAt = time.Now()
		}
		if !m.showReport {
			m.rebuild()
		}

	case reportMsg:
		if msg.err != nil {
			m.reportBody = m.styles.Error.Render(fmt.Sprintf("report unavailable: %v", msg.err))
		} else {
			m.reportBody = msg.content
		}
		if m.showReport {
			m.viewport.SetContent(m.reportBody)
			m.viewport.GotoTop()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders header, lane bar, the scrolling pane, and key hints.
func (m Model) View() string {
	var b strings.Builder

	title := m.styles.Header.Render(" copydesk ")
	stamp := ""
	if !m.refreshedAt.IsZero() {
		stamp = m.styles.Muted.Render("refreshed " + m.refreshedAt.Format("15:04:05"))
	}
	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", stamp)
	if m.lastErr != nil {
		line = lipgloss.JoinHorizontal(lipgloss.Center, line, "  ",
			m.styles.Badge.Render(fmt.Sprintf("store error: %v", m.lastErr)))
	}
	b.WriteString(line + "\n")
	b.WriteString(m.renderLanes() + "\n")
	b.WriteString(m.viewport.View() + "\n")

	hints := "[j/k] scroll  [q] quit"
	if m.reports != nil {
		hints = "[r] report  " + hints
	}
	b.WriteString(m.styles.Footer.Render(hints))
	return b.String()
}

func (m Model) renderLanes() string {
	parts := make([]string, 0, len(types.ValidStatuses()))
	for _, status := range types.ValidStatuses() {
		style := m.styles.laneStyle(status)
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", laneLabel(status), m.counts[status])))
	}
	return " " + strings.Join(parts, m.styles.Muted.Render(" | "))
}

// rebuild refreshes the viewport with the item table.
func (m *Model) rebuild() {
	if len(m.rows) == 0 {
		m.viewport.SetContent(m.styles.Muted.Render("no worklist items yet; the sync loop fills this board"))
		return
	}

	var b strings.Builder
	for _, it := range m.rows {
		b.WriteString(m.itemLine(it) + "\n")
	}
	m.viewport.SetContent(b.String())
}

func (m Model) itemLine(it *types.WorklistItem) string {
	style := m.styles.laneStyle(it.Status)
	title := it.Title
	if title == "" {
		title = it.DocumentID
	}
	maxTitle := m.width - 46
	if maxTitle < 16 {
		maxTitle = 16
	}
	title = truncate(title, maxTitle)

	line := fmt.Sprintf(" %s %4d  %-13s %-*s %6s",
		laneIcon(it.Status), it.ID, laneLabel(it.Status), maxTitle, title, age(it.UpdatedAt))
	if n := len(it.Notes); n > 0 {
		line += fmt.Sprintf("  • %d", n)
	}
	out := style.Render(line)

	// Failure details go on their own row; padding them into the main
	// line would push them past the right edge.
	if it.ErrorMessage != "" {
		out += "\n" + m.styles.Error.Render("         ! "+firstLine(it.ErrorMessage, maxTitle+20))
	}
	return out
}

// age formats how long ago t was, coarsely.
func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func firstLine(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, maxLen)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

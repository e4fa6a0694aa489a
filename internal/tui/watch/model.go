package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health    healthMsg
	stats     statsMsg
	jobs      []jobEntry
	connected bool
	lastError string

	spinner  spinner.Model
	jobTable table.Model
	theme    Theme
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 10},
			{Title: "Kind", Width: 18},
			{Title: "Bytes", Width: 8},
			{Title: "Duration", Width: 10},
		}),
		table.WithHeight(15),
	)

	return &Model{
		apiURL:   apiURL,
		spinner:  sp,
		jobTable: t,
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchStats(m.apiURL) },
		func() tea.Msg { return fetchRecentJobs(m.apiURL) },
		tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.jobTable, cmd = m.jobTable.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			func() tea.Msg { return fetchStats(m.apiURL) },
			func() tea.Msg { return fetchRecentJobs(m.apiURL) },
			func() tea.Msg { return fetchHealth(m.apiURL) },
			tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastError = ""

	case statsMsg:
		m.stats = msg

	case recentJobsMsg:
		m.jobs = msg
		m.jobTable.SetRows(jobRows(msg))

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to renderd..."
	}

	header := m.renderHeader()
	stats := m.renderStats()
	jobs := m.theme.Border.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Header.Render(" Recent Renders"),
			m.jobTable.View(),
		),
	)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll Jobs")

	parts := []string{header, stats, jobs}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusFailed.Render("● disconnected")
	if m.connected {
		status = m.theme.StatusOK.Render("● " + m.health.Status)
	}
	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	line := fmt.Sprintf("%s renderd watch  %s  uptime %s",
		m.spinner.View(),
		status,
		uptime.Truncate(time.Second),
	)
	return m.theme.Title.Render(line)
}

func (m Model) renderStats() string {
	hitRate := "-"
	if total := m.stats.CacheHits + m.stats.CacheMisses; total > 0 {
		hitRate = fmt.Sprintf("%.0f%%", 100*float64(m.stats.CacheHits)/float64(total))
	}

	queue := m.theme.StatusOK
	if m.stats.QueueDepth > 0 {
		queue = m.theme.StatusBusy
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Header.Render(" Slots "), fmt.Sprintf("%d", m.stats.ActiveSlots),
		m.theme.Header.Render("  Queue "), queue.Render(fmt.Sprintf("%d", m.stats.QueueDepth)),
		m.theme.Header.Render("  Done "), fmt.Sprintf("%d", m.stats.CompletedCount),
		m.theme.Header.Render("  Avg "), fmt.Sprintf("%.0fms", m.stats.AverageDurationMs),
		m.theme.Header.Render("  Cache "), hitRate,
	)
	return m.theme.Border.Render(line)
}

func jobRows(entries []jobEntry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		st := "✓"
		kind := ""
		if e.Status != "succeeded" {
			st = "✗"
			kind = e.Kind
		}
		id := e.JobID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			st,
			id,
			kind,
			fmt.Sprintf("%d", e.Bytes),
			fmt.Sprintf("%dms", e.DurationMs),
		})
	}
	return rows
}

// Package tui provides interactive terminal UI components.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/calebmills/mergetrain/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginLeft(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginLeft(1).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			MarginLeft(1)

	countsStyle = lipgloss.NewStyle().
			Bold(true).
			MarginLeft(1).
			MarginBottom(1)

	manualStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			MarginLeft(1)
)

// Model represents the interactive status TUI state.
type Model struct {
	table       table.Model
	repoRoot    string
	lastUpdate  time.Time
	err         error
	quitting    bool
	enabled     bool
	published   int
	quarantined int
	aborted     int
	events      int
}

type tickMsg time.Time
type statusMsg struct {
	summary status.Summary
}
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// New creates a new interactive status TUI model.
func New(repoRoot string) Model {
	columns := []table.Column{
		{Title: "Branch", Width: 32},
		{Title: "Result", Width: 12},
		{Title: "Resolved", Width: 9},
		{Title: "GateFails", Width: 9},
		{Title: "Ticket", Width: 44},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		table:    t,
		repoRoot: repoRoot,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.updateStatus(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			// Manual refresh
			return m, m.updateStatus()
		}

	case tea.WindowSizeMsg:
		// Reserve space for header, counts, and the help footer.
		m.table.SetHeight(msg.Height - 10)
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			tickCmd(),
			m.updateStatus(),
		)

	case statusMsg:
		m.lastUpdate = time.Now()
		m.err = nil
		m.enabled = msg.summary.Enabled
		m.published = msg.summary.Published
		m.quarantined = msg.summary.Quarantined
		m.aborted = msg.summary.Aborted
		m.events = msg.summary.Events

		rows := make([]table.Row, len(msg.summary.Branches))
		for i, branch := range msg.summary.Branches {
			ticket := ""
			if branch.Ticket != nil {
				ticket = branch.Ticket.QuarantineBranch
			}
			rows[i] = table.Row{
				branch.Branch,
				branch.LastResult,
				strconv.Itoa(branch.ResolvedHunks),
				strconv.Itoa(branch.GateFailures),
				ticket,
			}
		}
		m.table.SetRows(rows)
		return m, nil

	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	title := titleStyle.Render("Mergetrain Status")
	timestamp := timestampStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))

	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		title,
		strings.Repeat(" ", 5),
		timestamp,
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	counts := countsStyle.Render(fmt.Sprintf(
		"Branches: published=%d quarantined=%d aborted=%d | Audit events: %d",
		m.published, m.quarantined, m.aborted, m.events,
	))
	b.WriteString(counts)
	b.WriteString("\n")

	if !m.enabled {
		b.WriteString(manualStyle.Render("Train disabled (manual-only mode); run `mergetrain init --enable` to resume"))
		b.WriteString("\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")

	help := helpStyle.Render("↑/↓: navigate • r: refresh • q/esc: quit")
	b.WriteString(help)

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}

func (m Model) updateStatus() tea.Cmd {
	return func() tea.Msg {
		summary, err := status.GetSummary(m.repoRoot)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg{summary: summary}
	}
}

// Run starts the interactive TUI.
func Run(repoRoot string) error {
	p := tea.NewProgram(
		New(repoRoot),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}

// Package dag provides scheduling wave visualization.
package dag

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/calebmills/mergetrain/internal/policy"
)

const (
	waveColumnWidth     = 6
	branchColumnWidth   = 32
	priorityColumnWidth = 8
	fenceColumnWidth    = 40
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	cellStyle = lipgloss.NewStyle()

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	summaryStyle = lipgloss.NewStyle().
			Bold(true)
)

// Summary represents the wave plan visualization output.
type Summary struct {
	Rows          []BranchRow
	TotalBranches int
	Waves         int
}

// BranchRow represents a single branch in the plan display.
type BranchRow struct {
	Wave     int
	Branch   string
	Priority int
	Fence    string
}

// String returns the formatted plan output. Branches within a wave run in
// parallel; waves run one after another.
func (s Summary) String() string {
	var b strings.Builder

	summary := summaryStyle.Render(fmt.Sprintf(
		"Plan (%d branches in %d waves)", s.TotalBranches, s.Waves,
	))
	b.WriteString(summary)
	b.WriteString("\n\n")

	if len(s.Rows) == 0 {
		b.WriteString("No branches to schedule.\n")
		return b.String()
	}

	headers := []string{
		padRight("Wave", waveColumnWidth),
		padRight("Branch", branchColumnWidth),
		padRight("Priority", priorityColumnWidth),
		"Fence",
	}
	headerLine := headerStyle.Render(strings.Join(headers, "  "))
	b.WriteString(headerLine)
	b.WriteString("\n")

	totalWidth := waveColumnWidth + branchColumnWidth + priorityColumnWidth + fenceColumnWidth + 6
	separator := separatorStyle.Render(strings.Repeat("─", totalWidth))
	b.WriteString(separator)
	b.WriteString("\n")

	for _, row := range s.Rows {
		line := fmt.Sprintf("%s  %s  %s  %s",
			padRight(fmt.Sprintf("%d", row.Wave), waveColumnWidth),
			padRight(row.Branch, branchColumnWidth),
			padRight(fmt.Sprintf("%d", row.Priority), priorityColumnWidth),
			truncate(row.Fence, fenceColumnWidth),
		)
		b.WriteString(cellStyle.Render(line))
		b.WriteString("\n")
	}

	return b.String()
}

// GetSummary builds a plan summary from a policy and a wave partition.
func GetSummary(doc policy.Document, waves [][]string) Summary {
	summary := Summary{Waves: len(waves)}
	for waveIndex, wave := range waves {
		for _, branch := range wave {
			summary.TotalBranches++
			summary.Rows = append(summary.Rows, BranchRow{
				Wave:     waveIndex + 1,
				Branch:   branch,
				Priority: doc.PriorityFor(branch),
				Fence:    fenceDescription(doc, branch),
			})
		}
	}
	return summary
}

// fenceDescription renders the branch's declared ownership, or "open".
func fenceDescription(doc policy.Document, branch string) string {
	entry, fenced := doc.FenceFor(branch)
	if !fenced {
		return "open"
	}
	patterns := make([]string, 0, len(entry.Allowed))
	for _, pattern := range entry.Allowed {
		patterns = append(patterns, pattern.String())
	}
	return strings.Join(patterns, ", ")
}

// padRight pads a string with spaces to the given width.
func padRight(value string, width int) string {
	if len(value) >= width {
		return value
	}
	return value + strings.Repeat(" ", width-len(value))
}

// truncate shortens a string to the given width with an ellipsis.
func truncate(value string, width int) string {
	if len(value) <= width {
		return value
	}
	if width <= 3 {
		return value[:width]
	}
	return value[:width-3] + "..."
}

package cmd

import "github.com/charmbracelet/lipgloss"

var (
	styleQueued     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleInProgress = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	styleVerifying  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	styleCompleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	styleFailed     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	styleCancelled  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	styleSubtle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// styleStatus colors a Task/Agent status string for table/status output.
func styleStatus(status string) string {
	switch status {
	case "QUEUED":
		return styleQueued.Render(status)
	case "IN_PROGRESS", "WORKING":
		return styleInProgress.Render(status)
	case "VERIFYING":
		return styleVerifying.Render(status)
	case "COMPLETED", "IDLE":
		return styleCompleted.Render(status)
	case "FAILED":
		return styleFailed.Render(status)
	case "CANCELLED":
		return styleCancelled.Render(status)
	default:
		return status
	}
}

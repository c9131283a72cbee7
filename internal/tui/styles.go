package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	runningColor = lipgloss.Color("10") // Green
	queuedColor  = lipgloss.Color("11") // Yellow
	heldColor    = lipgloss.Color("6")  // Cyan
	exitingColor = lipgloss.Color("8")  // Gray
	failedColor  = lipgloss.Color("9")  // Red
	selectedBg   = lipgloss.Color("4")  // Blue
	borderColor  = lipgloss.Color("8")  // Gray

	// Panel styles
	listPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	logPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	// Selection style
	selectedStyle = lipgloss.NewStyle().
			Background(selectedBg).
			Foreground(lipgloss.Color("15")).
			Bold(true)

	// PBS job state styles
	runningStyle = lipgloss.NewStyle().
			Foreground(runningColor)

	queuedStyle = lipgloss.NewStyle().
			Foreground(queuedColor)

	heldStyle = lipgloss.NewStyle().
			Foreground(heldColor)

	exitingStyle = lipgloss.NewStyle().
			Foreground(exitingColor)

	// Text styles
	headerStyle = lipgloss.NewStyle().
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(failedColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	fetchingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	resetMarkerStyle = lipgloss.NewStyle().
				Foreground(queuedColor).
				Bold(true)

	// Server status styles
	serverOnlineStyle = lipgloss.NewStyle().
				Foreground(runningColor)

	serverOfflineStyle = lipgloss.NewStyle().
				Foreground(failedColor)

	serverCheckingStyle = lipgloss.NewStyle().
				Foreground(queuedColor)
)

// styleForState colors a row by its PBS job state
func styleForState(state string) lipgloss.Style {
	switch state {
	case "R":
		return runningStyle
	case "Q", "W":
		return queuedStyle
	case "H", "S", "U":
		return heldStyle
	case "E", "F", "X":
		return exitingStyle
	}
	return lipgloss.NewStyle()
}

// Package render formats task results, analysis reports and verdicts for
// the console.
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Colors follow the status they describe.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - ids, timings

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	criticalStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	findingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)

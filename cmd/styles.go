package cmd

import "github.com/charmbracelet/lipgloss"

// Styles used across the CLI commands
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#2EC4B6")). // Teal
			Bold(true).
			Padding(1, 0)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC")) // Light Gray

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8AB4F8"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7BD389")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6347")). // Tomato red
			Bold(true)
)

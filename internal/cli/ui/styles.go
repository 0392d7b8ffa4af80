package ui

import "github.com/charmbracelet/lipgloss"

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			MarginLeft(2)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Bold(true).
			Align(lipgloss.Center)

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Align(lipgloss.Center)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Bold(true).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	descStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	messageStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("205")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1).
			Align(lipgloss.Center)
)

func statusIcon(status string) string {
	switch status {
	case "active":
		return "🟢"
	case "creating":
		return "🔵"
	case "down":
		return "🟠"
	default:
		return "🔴"
	}
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case "active":
		return lipgloss.Color("42")
	case "creating":
		return lipgloss.Color("33")
	case "down":
		return lipgloss.Color("220")
	default:
		return lipgloss.Color("160")
	}
}

func helpLine(keys ...[2]string) string {
	out := ""
	for i, k := range keys {
		out += keyStyle.Render(k[0]) + descStyle.Render(": "+k[1])
		if i < len(keys)-1 {
			out += lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(" • ")
		}
	}
	return out
}

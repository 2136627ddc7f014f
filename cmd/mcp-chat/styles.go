package main

import "github.com/charmbracelet/lipgloss"

var (
	brandPrimary = lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#A29BFE"}
	brandAccent  = lipgloss.AdaptiveColor{Light: "#2E8B57", Dark: "#55EFC4"}
	brandError   = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF7675"}
	brandWarning = lipgloss.AdaptiveColor{Light: "#B9770E", Dark: "#FDCB6E"}
	textMuted    = lipgloss.AdaptiveColor{Light: "#636E72", Dark: "#B2BEC3"}

	titleStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(brandAccent).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(brandError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(brandWarning)

	highlightStyle = lipgloss.NewStyle().
			Foreground(brandPrimary)

	dimStyle = lipgloss.NewStyle().
			Foreground(textMuted)
)

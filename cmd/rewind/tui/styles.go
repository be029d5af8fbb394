// Package tui provides the interactive terminal view for live capture and
// replay, built on Bubble Tea, Bubbles and Lip Gloss.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for the TUI.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")

	createdColor  = lipgloss.Color("#28A745")
	modifiedColor = lipgloss.Color("#FFC107")
	deletedColor  = lipgloss.Color("#DC3545")

	mutedColor  = lipgloss.Color("#666666")
	borderColor = lipgloss.Color("#333333")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	statusStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	liveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(createdColor)

	mutedTextStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	warningTextStyle = lipgloss.NewStyle().
				Foreground(modifiedColor)

	dividerStyle = lipgloss.NewStyle().
			Foreground(borderColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mutedColor)
)

// Tree row styles by mark.
var (
	createdStyle = lipgloss.NewStyle().
			Foreground(createdColor).
			Bold(true)

	modifiedStyle = lipgloss.NewStyle().
			Foreground(modifiedColor)

	deletedStyle = lipgloss.NewStyle().
			Foreground(deletedColor).
			Strikethrough(true)

	dirStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	connectorStyle = lipgloss.NewStyle().
			Foreground(borderColor)
)

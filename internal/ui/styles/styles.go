// Package styles defines the visual styling for the application.
package styles

import "github.com/charmbracelet/lipgloss"

// Color definitions for the quotameter theme.
var (
	// Primary colors
	Primary   = lipgloss.Color("75")  // Blue
	Secondary = lipgloss.Color("141") // Purple
	Subtle    = lipgloss.Color("240") // Gray

	// Provider brand colors
	ClaudeColor = lipgloss.Color("208") // Orange
	CodexColor  = lipgloss.Color("42")  // Green
	ZaiColor    = lipgloss.Color("197") // Red

	// Status colors
	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
	Info    = lipgloss.Color("39")  // Blue

	// Background colors
	BgDark   = lipgloss.Color("235")
	BgAccent = lipgloss.Color("236")

	// Text colors
	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")
)

// TitleStyle is used for the application header.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	MarginBottom(1)

// ProviderCardStyle frames one provider's metrics.
var ProviderCardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Subtle).
	Padding(0, 2).
	MarginBottom(1)

// StaleCardStyle frames a provider card showing carried-over data.
var StaleCardStyle = ProviderCardStyle.
	BorderForeground(Warning)

// ProviderNameStyle styles the provider header inside a card.
var ProviderNameStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(TextPrimary)

// PlanBadgeStyle styles the subscription tier badge.
var PlanBadgeStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("229")).
	Background(Secondary).
	Padding(0, 1).
	Bold(true)

// MetricLabelStyle styles metric names in the left column.
var MetricLabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Width(14)

// MetricValueStyle styles numeric readouts next to bars.
var MetricValueStyle = lipgloss.NewStyle().
	Foreground(TextPrimary)

// ResetStyle styles the reset countdown of a usage window.
var ResetStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// PaceStyle styles the burn-rate line under a usage bar.
var PaceStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Italic(true)

// StaleTagStyle marks carried-over data after a failed probe.
var StaleTagStyle = lipgloss.NewStyle().
	Foreground(Warning).
	Bold(true)

// ErrorTextStyle for error messages.
var ErrorTextStyle = lipgloss.NewStyle().
	Foreground(Error)

// BadgeStyle styles short status lines such as no-data markers.
var BadgeStyle = lipgloss.NewStyle().
	Foreground(TextMuted).
	Italic(true)

// HelpStyle is the base style for the footer help line.
var HelpStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// HelpKeyStyle styles keyboard shortcut keys.
var HelpKeyStyle = lipgloss.NewStyle().
	Foreground(Primary).
	Bold(true)

// SparklineStyle styles the usage history graph.
var SparklineStyle = lipgloss.NewStyle().
	Foreground(Secondary).
	MarginLeft(2)

// ProviderColor maps a provider key to its brand color.
func ProviderColor(provider string) lipgloss.Color {
	switch provider {
	case "claude":
		return ClaudeColor
	case "codex":
		return CodexColor
	case "zai":
		return ZaiColor
	default:
		return Primary
	}
}

// UsageStyle returns the style for a usage percentage. Low usage is
// healthy, high usage is alarming.
func UsageStyle(percent float64) lipgloss.Style {
	switch {
	case percent >= 90:
		return lipgloss.NewStyle().Foreground(Error).Bold(true)
	case percent >= 75:
		return lipgloss.NewStyle().Foreground(Warning)
	default:
		return lipgloss.NewStyle().Foreground(Success)
	}
}

// PaceColor returns the accent color for a pace label.
func PaceColor(pace string) lipgloss.Color {
	switch pace {
	case "at limit":
		return Error
	case "ahead":
		return Warning
	case "behind", "idle":
		return Success
	default:
		return TextSecondary
	}
}

// CenterHorizontal centers content horizontally within a given width.
func CenterHorizontal(content string, width int) string {
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(content)
}

// CenterBoth centers content both horizontally and vertically.
func CenterBoth(content string, width, height int) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center).
		AlignVertical(lipgloss.Center).
		Render(content)
}

// Package tui provides terminal prompts and progress indicators.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colors used by prompts and spinners.
type Theme struct {
	Primary lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
}

// ResolveTheme returns NoColorTheme when NO_COLOR is set and DefaultTheme
// otherwise.
func ResolveTheme() Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	return DefaultTheme()
}

// DefaultTheme returns the default devflow theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.AdaptiveColor{Light: "#1a73e8", Dark: "#8ab4f8"},
		Success: lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Error:   lipgloss.AdaptiveColor{Light: "#d93025", Dark: "#f28b82"},
		Muted:   lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
	}
}

// NoColorTheme returns a theme with empty colors.
// Lipgloss treats empty strings as "no color", resulting in plain text output.
func NoColorTheme() Theme {
	empty := lipgloss.AdaptiveColor{}
	return Theme{Primary: empty, Success: empty, Error: empty, Muted: empty}
}

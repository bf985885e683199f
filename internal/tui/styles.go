package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the styled components for terminal output.
type Styles struct {
	theme Theme

	Spinner lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
}

// NewStyles creates Styles from the resolved theme.
func NewStyles() *Styles {
	return NewStylesWithTheme(ResolveTheme())
}

// NewStylesWithTheme creates Styles with a custom theme.
func NewStylesWithTheme(theme Theme) *Styles {
	return &Styles{
		theme:   theme,
		Spinner: lipgloss.NewStyle().Foreground(theme.Primary),
		Muted:   lipgloss.NewStyle().Foreground(theme.Muted),
		Success: lipgloss.NewStyle().Foreground(theme.Success).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(theme.Error).Bold(true),
	}
}

// Theme returns the current theme.
func (s *Styles) Theme() Theme {
	return s.theme
}

// RenderStatus renders a status message with appropriate styling.
func (s *Styles) RenderStatus(ok bool, message string) string {
	if ok {
		return s.Success.Render("✓ " + message)
	}
	return s.Error.Render("✗ " + message)
}

package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	Success = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#10B981"}
	Warning = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	Error   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#EF4444"}
	Muted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

var (
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(Success)
	WarningStyle = lipgloss.NewStyle().Bold(true).Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(Error)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
)

// Enabled reports whether styled output is wanted at all.
func Enabled() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

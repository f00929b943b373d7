package color

import (
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		noColor *string
		term    string
		want    bool
	}{
		{"plain terminal", nil, "xterm-256color", true},
		{"NO_COLOR set", strPtr("1"), "xterm-256color", false},
		{"NO_COLOR empty still counts", strPtr(""), "xterm", false},
		{"dumb terminal", nil, "dumb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TERM", tt.term)
			t.Setenv("NO_COLOR", "")
			if tt.noColor == nil {
				require.NoError(t, os.Unsetenv("NO_COLOR"))
			} else {
				t.Setenv("NO_COLOR", *tt.noColor)
			}
			assert.Equal(t, tt.want, Enabled())
		})
	}
}

func TestStylesRenderText(t *testing.T) {
	for _, style := range []lipgloss.Style{SuccessStyle, WarningStyle, ErrorStyle, MutedStyle} {
		assert.Contains(t, style.Render("unit tests PASSED"), "unit tests PASSED")
	}
}

func strPtr(s string) *string { return &s }

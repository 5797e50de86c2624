package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scriptchat/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Ctrl+S"
	Desc string // e.g. "Send"
}

// StatusBarModel renders a bottom status bar with keybinding hints on the
// left and engine info on the right.
type StatusBarModel struct {
	Hints  []KeyHint
	Engine string
	Model  string
	Extra  string // transient status text, e.g. "Generating..."
	width  int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var parts []string
	for _, p := range []string{m.Engine, m.Model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	right := theme.TextMuted.Render(strings.Join(parts, " "+theme.SymbolBullet+" "))
	if m.Extra != "" {
		if len(parts) > 0 {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

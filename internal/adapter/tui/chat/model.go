package chat

import (
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scriptchat/internal/adapter/tui/components"
	"scriptchat/internal/adapter/tui/theme"
	"scriptchat/internal/domain"
)

const escAgainHint = "Press Esc again to quit"

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Publisher domain.Publisher
	Engine    string
	ModelName string
	Markdown  bool
	Logger    *slog.Logger
}

// Model is the root Bubble Tea model for the chat TUI.
type Model struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	// generating is set from submit until the assistant's End, and again
	// while a script result is being answered. Submitting is blocked.
	generating bool
	// streamOpen is set while the last chat entry receives chunks.
	streamOpen bool
	// escArmed is set after one Esc; a second Esc quits.
	escArmed bool
	width    int
	height   int
	quitting bool
}

// NewModel creates the root chat model.
func NewModel(deps ModelDeps) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Engine = deps.Engine
	sb.Model = deps.ModelName
	sb.Hints = defaultHints()

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)
	chatView.SetMarkdown(deps.Markdown)

	return Model{
		deps:      deps,
		chatView:  chatView,
		input:     components.NewInputArea(),
		statusBar: sb,
		spinner:   s,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case BusMsg:
		m.handleBus(msg.Message)
		return m, nil

	case BusClosedMsg, QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	status := m.statusBar
	if m.generating && !m.escArmed {
		status.Extra = m.spinner.View() + " " + status.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		m.input.View(),
		status.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := m.height - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}
	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	if msg.Type == tea.KeyEsc {
		if m.escArmed {
			m.quitting = true
			return m, tea.Quit
		}
		m.escArmed = true
		m.statusBar.Extra = escAgainHint
		return m, nil
	}
	if m.escArmed {
		m.escArmed = false
		m.setBusy(m.generating)
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyF5:
		m.chatView.Clear()
		m.streamOpen = false
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd

	case tea.KeyCtrlS:
		if m.generating {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleUser,
		Content: value,
	})
	m.setBusy(true)
	return m, publishCmd(m.deps.Publisher, value)
}

// handleBus renders one bus message. Assistant tokens build a single entry
// from Start to End; End carries the authoritative full text.
func (m *Model) handleBus(msg domain.Message) {
	switch msg.Role {
	case domain.RoleAssistant:
		switch msg.Token.Kind {
		case domain.TokenStart:
			m.openStream()
			m.setBusy(true)
		case domain.TokenChunk:
			if !m.streamOpen {
				m.openStream()
			}
			m.chatView.UpdateLastMessage(m.chatView.Messages.Last().Content+msg.Token.Text, true)
		case domain.TokenEnd:
			if m.streamOpen {
				m.chatView.UpdateLastMessage(msg.Token.Text, false)
			} else {
				m.chatView.AddMessage(components.ChatMessage{
					Role:    components.RoleAssistant,
					Content: msg.Token.Text,
				})
			}
			m.streamOpen = false
			m.setBusy(false)
		}

	case domain.RoleTool:
		if !msg.Token.IsEnd() {
			return
		}
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleTool,
			Content: msg.Token.Text,
		})
		// The result goes back to the model, which answers it.
		m.setBusy(true)

	case domain.RoleSystem:
		if msg.Token.IsEnd() {
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleSystem,
				Content: msg.Token.Text,
			})
		}

	default:
		if m.deps.Logger != nil {
			m.deps.Logger.Debug("tui ignored message", "message", msg.String())
		}
	}
}

func (m *Model) openStream() {
	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleAssistant,
		Streaming: true,
	})
	m.streamOpen = true
}

func (m *Model) setBusy(busy bool) {
	m.generating = busy
	if busy {
		m.statusBar.Extra = "Generating..."
	} else {
		m.statusBar.Extra = ""
	}
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Ctrl+S", Desc: "Send"},
		{Key: "Enter", Desc: "Newline"},
		{Key: "F5", Desc: "Clear"},
		{Key: "PgUp/PgDn", Desc: "Scroll"},
		{Key: "Esc Esc", Desc: "Quit"},
	}
}

// isMouseEscapeLeak detects mouse escape sequences that leaked through as
// key input instead of tea.MouseMsg. Covers SGR, X11 basic, and URXVT
// formats that appear during rapid trackpad scrolling.
func isMouseEscapeLeak(s string) bool {
	if len(s) >= 5 && s[0] == '<' && (s[len(s)-1] == 'M' || s[len(s)-1] == 'm') {
		return digitsAndSemicolons(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	if len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M' {
		return digitsAndSemicolons(s[1 : len(s)-1])
	}
	return false
}

func digitsAndSemicolons(s string) bool {
	for _, r := range s {
		if r != ';' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

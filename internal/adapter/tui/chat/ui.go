package chat

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// UIDeps are the dependencies of the TUI presentation adapter.
type UIDeps struct {
	Inbox     *eventbus.Inbox
	Publisher domain.Publisher
	Engine    string
	ModelName string
	AltScreen bool
	Markdown  bool
	Logger    *slog.Logger
	// Options are appended to the program options (tests use them to swap
	// the terminal for buffers).
	Options []tea.ProgramOption
}

// UI runs the Bubble Tea program and bridges it to the bus.
type UI struct {
	deps UIDeps
}

// NewUI creates the TUI adapter.
func NewUI(deps UIDeps) *UI {
	return &UI{deps: deps}
}

// Run blocks until the user quits, ctx is cancelled, or the inbox closes.
// Quitting is a normal exit and returns nil.
func (u *UI) Run(ctx context.Context) error {
	model := NewModel(ModelDeps{
		Publisher: u.deps.Publisher,
		Engine:    u.deps.Engine,
		ModelName: u.deps.ModelName,
		Markdown:  u.deps.Markdown,
		Logger:    u.deps.Logger,
	})

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if u.deps.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	opts = append(opts, u.deps.Options...)
	program := tea.NewProgram(model, opts...)

	fwdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer u.deps.Inbox.Close()

	go forward(fwdCtx, u.deps.Inbox, program.Send)
	go func() {
		<-fwdCtx.Done()
		program.Send(QuitMsg{})
	}()

	u.deps.Logger.Info("tui started", "engine", u.deps.Engine, "model", u.deps.ModelName)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	u.deps.Logger.Info("tui stopped")
	return nil
}

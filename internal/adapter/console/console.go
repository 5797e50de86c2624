// Package console is the line-mode presentation adapter: a readline prompt
// for input and plain streamed text for output.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// ExitCommand ends the session when entered on its own line.
const ExitCommand = "exit!"

// LineReader is the input side of a terminal; *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Deps are the dependencies of the console adapter.
type Deps struct {
	Inbox     *eventbus.Inbox
	Publisher domain.Publisher
	Reader    LineReader
	Out       io.Writer
	Logger    *slog.Logger
	// RunsAsScript reports whether an assistant End will be evaluated. The
	// prompt then waits for the reply to the script's result. Nil means no
	// reply is evaluated.
	RunsAsScript func(domain.Message) bool
}

// Console runs the read-publish-render loop.
type Console struct {
	deps Deps
}

// New creates a console adapter.
func New(deps Deps) *Console {
	return &Console{deps: deps}
}

// NewReadline opens an interactive prompt with history kept in the user's
// cache directory.
func NewReadline() (*readline.Instance, error) {
	cfg := &readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ExitCommand,
	}
	if dir, err := os.UserCacheDir(); err == nil {
		cfg.HistoryFile = filepath.Join(dir, "scriptchat", "history")
		_ = os.MkdirAll(filepath.Dir(cfg.HistoryFile), 0o700)
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, fmt.Errorf("console: open terminal: %w", err)
	}
	return rl, nil
}

// Run blocks until the user exits, ctx is cancelled, or the inbox closes.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.deps.Inbox.Close()

	idle := make(chan struct{}, 1)
	go func() {
		defer cancel()
		c.render(ctx, idle)
	}()

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(ctx, idle) }()

	c.deps.Logger.Info("console started")
	select {
	case err := <-readDone:
		return err
	case <-ctx.Done():
		// Unblocks a pending Readline.
		c.deps.Reader.Close()
		return nil
	}
}

// readLoop publishes each non-empty line and waits for the reply to finish
// before prompting again.
func (c *Console) readLoop(ctx context.Context, idle <-chan struct{}) error {
	for {
		line, err := c.deps.Reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("console: read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ExitCommand {
			return nil
		}

		select {
		case <-idle:
		default:
		}
		c.deps.Publisher.Publish(domain.NewMessage(domain.RoleUser, domain.End(line)))

		select {
		case <-idle:
		case <-ctx.Done():
			return nil
		}
	}
}

// render prints bus traffic until the inbox closes or ctx ends. An assistant
// End that will not run as a script signals idle.
func (c *Console) render(ctx context.Context, idle chan<- struct{}) {
	out := c.deps.Out
	streamed := false
	for {
		msg, err := c.deps.Inbox.Recv(ctx)
		if err != nil {
			return
		}

		switch msg.Role {
		case domain.RoleAssistant:
			switch msg.Token.Kind {
			case domain.TokenStart:
				fmt.Fprint(out, "assistant> ")
				streamed = false
			case domain.TokenChunk:
				fmt.Fprint(out, msg.Token.Text)
				streamed = true
			case domain.TokenEnd:
				if !streamed {
					fmt.Fprint(out, msg.Token.Text)
				}
				fmt.Fprintln(out)
				streamed = false
				if c.deps.RunsAsScript != nil && c.deps.RunsAsScript(msg) {
					break
				}
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		case domain.RoleTool:
			if msg.Token.IsEnd() {
				fmt.Fprintf(out, "tool> %s\n", msg.Token.Text)
			}
		case domain.RoleSystem:
			if msg.Token.IsEnd() {
				fmt.Fprintf(out, "system> %s\n", msg.Token.Text)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"scriptchat/internal/adapter/console"
	"scriptchat/internal/adapter/llm"
	"scriptchat/internal/adapter/script"
	"scriptchat/internal/adapter/tui/chat"
	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
	"scriptchat/internal/infra/logger"
	"scriptchat/internal/infra/prompt"
	"scriptchat/internal/infra/tracer"
	"scriptchat/internal/usecase"
	"scriptchat/internal/usecase/eventbus"
)

// presenter is the user-facing end of the bus.
type presenter interface {
	Run(ctx context.Context) error
}

// runChat builds every component from cfg and runs them until the user quits,
// a signal arrives, or a component fails.
func runChat(ctx context.Context, cfg *config.Config) error {
	// 1. Logger
	cfg.Logger.Output = cfg.LogOutput()
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	// 2. Tracer
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	// 3. Transcript seed
	seed, err := prompt.Load(cfg.Prompt.Path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Inference engine
	engine, err := llm.NewEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	// 5. Script interpreter
	rt, err := script.Open(cfg.Script, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("script runtime close error", "error", err)
		}
	}()

	// 6. Bus and routes
	bus := eventbus.New(log)
	inboxes, err := usecase.Wire(bus, rt.CommentMarker())
	if err != nil {
		return err
	}

	executor := usecase.NewScriptExecutor(usecase.ExecutorDeps{
		Inbox:       inboxes.Executor,
		Publisher:   bus,
		Interpreter: rt,
		Timeout:     cfg.Script.Timeout,
		Logger:      log,
	})
	inference := usecase.NewInferenceAdapter(usecase.InferenceDeps{
		Inbox:      inboxes.Inference,
		Publisher:  bus,
		Engine:     engine,
		Transcript: usecase.NewTranscript(seed),
		Model:      cfg.Model.Path,
		Params:     generationParams(cfg.Model),
		Envelope:   cfg.Prompt.InputEnvelope,
		Logger:     log,
	})
	ui, err := newPresenter(cfg, inboxes.Presentation, bus, engine.Name(), rt.CommentMarker(), log)
	if err != nil {
		return err
	}

	log.Info("scriptchat starting",
		"provider", engine.Name(),
		"model", cfg.Model.Path,
		"template", cfg.Model.Template,
		"script_engine", rt.Name(),
		"ui", cfg.UI.Mode,
		"seed_turns", len(seed),
		"routes", bus.Topology(),
	)

	// 7. Run until the presenter exits or something fails. When the presenter
	// returns it cancels any generation in flight and shuts the bus down,
	// which closes every inbox and ends the consumers.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return executor.Run(gctx) })
	g.Go(func() error { return inference.Run(gctx) })
	g.Go(func() error {
		defer bus.Shutdown()
		defer stop()
		return ui.Run(gctx)
	})

	err = g.Wait()
	st := bus.Stats()
	log.Info("scriptchat stopped",
		"published", st.Published,
		"delivered", st.Delivered,
		"transcript_turns", inference.Transcript().Len(),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func generationParams(m config.ModelConfig) domain.GenerationParams {
	return domain.GenerationParams{
		Temperature: m.Temperature,
		ContextSize: m.ContextSize,
		BatchSize:   m.BatchSize,
		GPULayers:   m.GPULayers,
	}
}

func newPresenter(cfg *config.Config, inbox *eventbus.Inbox, pub domain.Publisher, engine, commentMarker string, log *slog.Logger) (presenter, error) {
	switch cfg.UI.Mode {
	case "console":
		rl, err := console.NewReadline()
		if err != nil {
			return nil, err
		}
		return console.New(console.Deps{
			Inbox:     inbox,
			Publisher: pub,
			Reader:    rl,
			Out:       os.Stdout,
			Logger:    log,

			RunsAsScript: usecase.RunsAsScript(commentMarker),
		}), nil
	default:
		return chat.NewUI(chat.UIDeps{
			Inbox:     inbox,
			Publisher: pub,
			Engine:    engine,
			ModelName: cfg.Model.Path,
			AltScreen: cfg.UI.AltScreen,
			Markdown:  cfg.UI.RenderMarkdown,
			Logger:    log,
		}), nil
	}
}
